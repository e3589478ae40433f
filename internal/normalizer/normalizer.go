// Package normalizer turns raw export rows into typed, validated records.
//
// Cleaning runs as a sequence of whole-set stages: rows missing a required
// value are dropped, the date and time fields are combined into a day-first
// timestamp, and numeric fields are parsed. Each stage counts what it drops.
// Malformed rows never fail the run.
package normalizer

import (
	"fmt"
	"time"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/pkg/errors"
	"bank-fraud-etl/pkg/logger"

	"github.com/shopspring/decimal"
)

// Config controls which fields a row must carry
type Config struct {
	// RequiredFields are the columns whose missing value drops a row.
	RequiredFields []string `json:"required_fields"`
	// MaxErrorSamples bounds the rejected-row examples kept for reporting.
	MaxErrorSamples int `json:"max_error_samples"`
}

// DefaultConfig requires every column of the export.
func DefaultConfig() *Config {
	return &Config{
		RequiredFields:  append([]string(nil), models.RawColumns...),
		MaxErrorSamples: 20,
	}
}

// alwaysRequired cannot be made optional: a transaction row cannot exist
// without a timestamp and an amount.
var alwaysRequired = []string{
	models.ColTransactionDate,
	models.ColTransactionTime,
	models.ColTransactionAmount,
}

// StructuralColumns returns the columns that must appear in the input header.
func (c *Config) StructuralColumns() []string {
	return c.required()
}

func (c *Config) required() []string {
	seen := make(map[string]bool)
	var out []string
	for _, col := range append(append([]string(nil), c.RequiredFields...), alwaysRequired...) {
		if !seen[col] {
			seen[col] = true
			out = append(out, col)
		}
	}
	return out
}

// Stats counts rows at each cleaning stage
type Stats struct {
	Input            int            `json:"input" yaml:"input"`
	DroppedMissing   int            `json:"dropped_missing" yaml:"dropped_missing"`
	DroppedTimestamp int            `json:"dropped_timestamp" yaml:"dropped_timestamp"`
	DroppedNumeric   int            `json:"dropped_numeric" yaml:"dropped_numeric"`
	Output           int            `json:"output" yaml:"output"`
	MissingByColumn  map[string]int `json:"missing_by_column" yaml:"missing_by_column"`
	NumericFailures  map[string]int `json:"numeric_failures,omitempty" yaml:"numeric_failures,omitempty"`
	// Earliest and Latest bound the timestamps of the cleaned rows.
	Earliest time.Time `json:"earliest,omitempty" yaml:"earliest,omitempty"`
	Latest   time.Time `json:"latest,omitempty" yaml:"latest,omitempty"`
}

// Dropped returns the total number of rows removed
func (s *Stats) Dropped() int {
	return s.DroppedMissing + s.DroppedTimestamp + s.DroppedNumeric
}

func (s *Stats) String() string {
	return fmt.Sprintf("%d rows in, %d out (missing: %d, timestamp: %d, numeric: %d)",
		s.Input, s.Output, s.DroppedMissing, s.DroppedTimestamp, s.DroppedNumeric)
}

// Result is the output of a normalization run
type Result struct {
	Records []*models.CleanRecord
	Stats   *Stats
	Errors  *errors.ErrorSummary
}

// Normalizer cleans raw records
type Normalizer struct {
	config   *Config
	required []string
	logger   logger.Logger
}

// New creates a Normalizer; nil config means DefaultConfig.
func New(config *Config) (*Normalizer, error) {
	if config == nil {
		config = DefaultConfig()
	}

	known := make(map[string]bool, len(models.RawColumns))
	for _, col := range models.RawColumns {
		known[col] = true
	}
	for _, col := range config.RequiredFields {
		if !known[col] {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "input.required_columns", col,
				fmt.Errorf("unknown column"))
		}
	}

	return &Normalizer{
		config:   config,
		required: config.required(),
		logger:   logger.WithComponent("normalizer"),
	}, nil
}

// row carries a record through the stages
type row struct {
	raw       *models.RawRecord
	timestamp time.Time
}

// Normalize runs every cleaning stage over records, in order.
func (n *Normalizer) Normalize(records []*models.RawRecord) *Result {
	collector := errors.NewRowErrorCollector(n.config.MaxErrorSamples)
	stats := &Stats{
		Input:           len(records),
		MissingByColumn: missingByColumn(records),
		NumericFailures: make(map[string]int),
	}

	rows := n.dropMissing(records, stats, collector)
	rows = n.combineTimestamps(rows, stats, collector)
	cleaned := n.parseFields(rows, stats, collector)

	stats.Output = len(cleaned)
	for _, rec := range cleaned {
		if stats.Earliest.IsZero() || rec.TransactionDateTime.Before(stats.Earliest) {
			stats.Earliest = rec.TransactionDateTime
		}
		if rec.TransactionDateTime.After(stats.Latest) {
			stats.Latest = rec.TransactionDateTime
		}
	}

	n.logger.WithFields(logger.Fields{
		"input":             stats.Input,
		"output":            stats.Output,
		"dropped_missing":   stats.DroppedMissing,
		"dropped_timestamp": stats.DroppedTimestamp,
		"dropped_numeric":   stats.DroppedNumeric,
	}).Info("Normalized record set")

	return &Result{Records: cleaned, Stats: stats, Errors: collector.Summary()}
}

func missingByColumn(records []*models.RawRecord) map[string]int {
	counts := make(map[string]int, len(models.RawColumns))
	for _, col := range models.RawColumns {
		counts[col] = 0
	}
	for _, rec := range records {
		for _, col := range models.RawColumns {
			if _, ok := rec.Get(col); !ok {
				counts[col]++
			}
		}
	}
	return counts
}

func (n *Normalizer) dropMissing(records []*models.RawRecord, stats *Stats, collector *errors.RowErrorCollector) []*row {
	out := make([]*row, 0, len(records))
	for _, rec := range records {
		missing := ""
		for _, col := range n.required {
			if _, ok := rec.Get(col); !ok {
				missing = col
				break
			}
		}
		if missing != "" {
			stats.DroppedMissing++
			collector.Add(rec.Line, errors.ValidationError(errors.CodeMissingField, missing, nil, nil))
			continue
		}
		out = append(out, &row{raw: rec})
	}
	return out
}

func (n *Normalizer) combineTimestamps(rows []*row, stats *Stats, collector *errors.RowErrorCollector) []*row {
	out := rows[:0]
	for _, r := range rows {
		date, _ := r.raw.Get(models.ColTransactionDate)
		clock, _ := r.raw.Get(models.ColTransactionTime)

		ts, err := models.ParseDayFirstTimestamp(date, clock)
		if err != nil {
			stats.DroppedTimestamp++
			collector.Add(r.raw.Line, errors.ValidationError(errors.CodeInvalidTimestamp,
				models.ColTransactionDate, date+" "+clock, err))
			continue
		}
		r.timestamp = ts
		out = append(out, r)
	}
	return out
}

// fieldResult is the outcome of parsing one typed field
type fieldResult struct {
	column string
	value  string
	err    error
	code   errors.ErrorCode
}

func (n *Normalizer) parseFields(rows []*row, stats *Stats, collector *errors.RowErrorCollector) []*models.CleanRecord {
	requiredSet := make(map[string]bool, len(n.required))
	for _, col := range n.required {
		requiredSet[col] = true
	}

	out := make([]*models.CleanRecord, 0, len(rows))
	for _, r := range rows {
		rec, failures := buildRecord(r)

		rejected := false
		for _, f := range failures {
			stats.NumericFailures[f.column]++
			if !requiredSet[f.column] {
				continue
			}
			if !rejected {
				rejected = true
				stats.DroppedNumeric++
				collector.Add(r.raw.Line, errors.ValidationError(f.code, f.column, f.value, f.err))
			}
		}
		if rejected {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// buildRecord types every field of r. Fields that fail to parse are left
// at their zero value and reported.
func buildRecord(r *row) (*models.CleanRecord, []fieldResult) {
	get := func(col string) string {
		v, _ := r.raw.Get(col)
		return v
	}

	rec := &models.CleanRecord{
		Line:                r.raw.Line,
		CustomerID:          get(models.ColCustomerID),
		CustomerName:        get(models.ColCustomerName),
		Gender:              get(models.ColGender),
		State:               get(models.ColState),
		City:                get(models.ColCity),
		BankBranch:          get(models.ColBankBranch),
		AccountType:         get(models.ColAccountType),
		CustomerContact:     get(models.ColCustomerContact),
		CustomerEmail:       get(models.ColCustomerEmail),
		TransactionID:       get(models.ColTransactionID),
		TransactionDateTime: r.timestamp,
		TransactionType:     get(models.ColTransactionType),
		Currency:            get(models.ColCurrency),
		Location:            get(models.ColTransactionLocation),
		Description:         get(models.ColDescription),
		MerchantID:          get(models.ColMerchantID),
		MerchantCategory:    get(models.ColMerchantCategory),
		DeviceName:          get(models.ColTransactionDevice),
		DeviceType:          get(models.ColDeviceType),
	}

	var failures []fieldResult
	fail := func(col, value string, code errors.ErrorCode, err error) {
		failures = append(failures, fieldResult{column: col, value: value, err: err, code: code})
	}

	if s, ok := r.raw.Get(models.ColAge); ok {
		if age, err := models.ParseAge(s); err != nil {
			fail(models.ColAge, s, errors.CodeInvalidNumber, err)
		} else {
			rec.Age = &age
		}
	}

	if s, ok := r.raw.Get(models.ColTransactionAmount); ok {
		if amount, err := models.ParseAmount(s); err != nil {
			fail(models.ColTransactionAmount, s, errors.CodeInvalidNumber, err)
		} else {
			rec.Amount = amount
		}
	}

	if s, ok := r.raw.Get(models.ColAccountBalance); ok {
		if balance, err := models.ParseAmount(s); err != nil {
			fail(models.ColAccountBalance, s, errors.CodeInvalidNumber, err)
		} else {
			rec.Balance = decimal.NullDecimal{Decimal: balance, Valid: true}
		}
	}

	if s, ok := r.raw.Get(models.ColIsFraud); ok {
		if flag, err := models.ParseFraudFlag(s); err != nil {
			fail(models.ColIsFraud, s, errors.CodeInvalidFlag, err)
		} else {
			rec.IsFraud = flag
		}
	}

	return rec, failures
}
