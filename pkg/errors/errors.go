package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups errors by the pipeline concern that raised them
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryValidation    ErrorCategory = "validation"
	CategoryResolution    ErrorCategory = "resolution"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"
	CodeFileWrite      ErrorCode = "file_write"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeEncodingError ErrorCode = "encoding_error"

	// Validation errors
	CodeMissingField     ErrorCode = "missing_field"
	CodeInvalidTimestamp ErrorCode = "invalid_timestamp"
	CodeInvalidNumber    ErrorCode = "invalid_number"
	CodeInvalidFlag      ErrorCode = "invalid_flag"
	CodeMissingKey       ErrorCode = "missing_business_key"
	CodeDuplicateKey     ErrorCode = "duplicate_business_key"
	CodeRoundTripFailed  ErrorCode = "round_trip_failed"

	// Resolution errors
	CodeLookupMiss     ErrorCode = "lookup_miss"
	CodeDimensionMiss  ErrorCode = "dimension_miss"
	CodeUnknownFamily  ErrorCode = "unknown_family"
	CodeEntityNotFound ErrorCode = "entity_not_found"

	// Persistence errors
	CodeBatchCommit     ErrorCode = "batch_commit_failed"
	CodeConnectFailed   ErrorCode = "connect_failed"
	CodeMigrationFailed ErrorCode = "migration_failed"
	CodeQueryFailed     ErrorCode = "query_failed"

	// Configuration errors
	CodeMissingColumn  ErrorCode = "missing_column"
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeMissingConfig  ErrorCode = "missing_config"
	CodeConfigConflict ErrorCode = "config_conflict"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
	CodeCancelled       ErrorCode = "cancelled"
)

// PipelineError is the base error type for all application errors
type PipelineError struct {
	Category   ErrorCategory     `json:"category" yaml:"category"`
	Code       ErrorCode         `json:"code" yaml:"code"`
	Message    string            `json:"message" yaml:"message"`
	Suggestion string            `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty" yaml:"context,omitempty"`
	Cause      error             `json:"-" yaml:"-"`
	StackTrace errors.StackTrace `json:"-" yaml:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

func (e *PipelineError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns the process exit code for the error's category
func (e *PipelineError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryResolution, CategoryInternal:
		return 5
	case CategoryPersistence:
		return 6
	default:
		return 1
	}
}

// IsFatal reports whether the error aborts a run. Row-level validation and
// resolution failures are recovered by skipping the row.
func (e *PipelineError) IsFatal() bool {
	switch e.Category {
	case CategoryValidation, CategoryResolution:
		return false
	default:
		return true
	}
}

// WithContext adds context information to the error
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *PipelineError) WithSuggestion(suggestion string) *PipelineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new PipelineError
func New(category ErrorCategory, code ErrorCode, message string) *PipelineError {
	return &PipelineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with PipelineError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *PipelineError {
	if err == nil {
		return nil
	}

	return &PipelineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message, suggestion string, err error) *PipelineError {
	var result *PipelineError
	if err != nil {
		result = Wrap(err, category, code, message)
	} else {
		result = New(category, code, message)
	}
	return result.WithSuggestion(suggestion)
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileCorrupted:
		message = fmt.Sprintf("file appears to be corrupted: %s", path)
		suggestion = "verify the file integrity and re-export it"
	case CodeFileWrite:
		message = fmt.Sprintf("cannot write file: %s", path)
		suggestion = "ensure the target directory exists and is writable"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return build(CategoryFile, code, message, suggestion, err).
		WithContext("file_path", path)
}

// ParseError creates an error for input that cannot be read as CSV at all
func ParseError(code ErrorCode, file string, line int, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("malformed CSV in file %s at line %d", file, line)
		suggestion = "check quoting and delimiter settings"
	case CodeEncodingError:
		message = fmt.Sprintf("encoding error in file %s at line %d", file, line)
		suggestion = "ensure the file is saved in UTF-8 encoding"
	default:
		message = fmt.Sprintf("parse error in file %s at line %d", file, line)
		suggestion = "check the file format and data integrity"
	}

	return build(CategoryParse, code, message, suggestion, err).
		WithContext("file", file).
		WithContext("line", line)
}

// ValidationError creates a row-level validation error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeInvalidTimestamp:
		message = fmt.Sprintf("invalid timestamp in field '%s': %v", field, value)
		suggestion = "use day-first dates such as 31-01-2024 with HH:MM[:SS] times"
	case CodeInvalidNumber:
		message = fmt.Sprintf("invalid number in field '%s': %v", field, value)
		suggestion = "ensure the value is numeric, optionally with '$' and ',' separators"
	case CodeInvalidFlag:
		message = fmt.Sprintf("invalid flag in field '%s': %v", field, value)
		suggestion = "use 0/1 or true/false"
	case CodeMissingKey:
		message = fmt.Sprintf("business key '%s' is missing", field)
		suggestion = "rows without a business key cannot be loaded"
	case CodeDuplicateKey:
		message = fmt.Sprintf("duplicate business key in field '%s': %v", field, value)
		suggestion = "the first occurrence was kept"
	case CodeRoundTripFailed:
		message = fmt.Sprintf("normalized schema does not reproduce the input: %v", value)
		suggestion = "re-run the load; if the difference persists, inspect the listed mismatches"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, suggestion, err).
		WithContext("field", field).
		WithContext("value", value)
}

// ResolutionError creates an error for a reference that could not be resolved
func ResolutionError(code ErrorCode, target string, key interface{}) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeLookupMiss:
		message = fmt.Sprintf("no %s lookup entry for %v", target, key)
		suggestion = "the lookup stage must run over the same record set"
	case CodeDimensionMiss:
		message = fmt.Sprintf("no %s dimension row for %v", target, key)
		suggestion = "re-run the warehouse stage to populate missing dimensions"
	case CodeUnknownFamily:
		message = fmt.Sprintf("unknown lookup family %s", target)
		suggestion = "this is likely a bug - please report it"
	case CodeEntityNotFound:
		message = fmt.Sprintf("no %s entity for %v", target, key)
		suggestion = "entities must be committed before transactions reference them"
	default:
		message = fmt.Sprintf("cannot resolve %s for %v", target, key)
		suggestion = "check that earlier stages completed"
	}

	return New(CategoryResolution, code, message).
		WithSuggestion(suggestion).
		WithContext("target", target).
		WithContext("key", key)
}

// PersistenceError creates a database-related error
func PersistenceError(code ErrorCode, operation string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeBatchCommit:
		message = fmt.Sprintf("batch commit failed during %s", operation)
		suggestion = "earlier batches are committed; fix the cause and re-run, the load is idempotent"
	case CodeConnectFailed:
		message = fmt.Sprintf("cannot connect to %s", operation)
		suggestion = "check the DSN, credentials and that the server is reachable"
	case CodeMigrationFailed:
		message = fmt.Sprintf("schema migration failed for %s", operation)
		suggestion = "check database permissions for DDL statements"
	case CodeQueryFailed:
		message = fmt.Sprintf("query failed during %s", operation)
		suggestion = "check database connectivity and schema state"
	default:
		message = fmt.Sprintf("persistence error during %s", operation)
		suggestion = "check the database and try again"
	}

	return build(CategoryPersistence, code, message, suggestion, err).
		WithContext("operation", operation)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeMissingColumn:
		message = fmt.Sprintf("required column '%s' is absent from the input header", setting)
		suggestion = "verify the export has all required columns with correct headers"
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	case CodeConfigConflict:
		message = fmt.Sprintf("configuration conflict with setting '%s': %v", setting, value)
		suggestion = "resolve the conflicting settings or use default values"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, suggestion, err).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeUnexpectedError:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug - please report it with the error details"
	case CodeCancelled:
		message = fmt.Sprintf("%s was cancelled", operation)
		suggestion = "committed batches remain; re-run to finish the load"
	default:
		message = fmt.Sprintf("internal error during %s", operation)
		suggestion = "try again or contact support if the problem persists"
	}

	return build(CategoryInternal, code, message, suggestion, err).
		WithContext("operation", operation)
}

// ErrorSummary aggregates row-level errors
type ErrorSummary struct {
	Total        int                   `json:"total" yaml:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category" yaml:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code" yaml:"by_code"`
	SampleErrors []*PipelineError      `json:"sample_errors,omitempty" yaml:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*PipelineError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 && len(es.SampleErrors) == 1 {
		return es.SampleErrors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(categories)

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// AsPipelineError extracts a PipelineError from an error chain
func AsPipelineError(err error) (*PipelineError, bool) {
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a PipelineError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *PipelineError {
	if err == nil {
		return nil
	}

	if pipelineErr, ok := AsPipelineError(err); ok {
		return pipelineErr
	}

	return Wrap(err, category, code, message)
}

// GetExitCode returns the exit code for any error, 0 for nil
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}
	if pipelineErr, ok := AsPipelineError(err); ok {
		return pipelineErr.GetExitCode()
	}
	return 1
}

// HasCategory reports whether err is a PipelineError of the given category
func HasCategory(err error, category ErrorCategory) bool {
	pipelineErr, ok := AsPipelineError(err)
	return ok && pipelineErr.Category == category
}

// HasCode reports whether err is a PipelineError with the given code
func HasCode(err error, code ErrorCode) bool {
	pipelineErr, ok := AsPipelineError(err)
	return ok && pipelineErr.Code == code
}
