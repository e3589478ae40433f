package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"bank-fraud-etl/internal/pipeline"
	"bank-fraud-etl/pkg/errors"
	"bank-fraud-etl/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and fallbacks: a
// structured format that fails falls back to the console format, and a
// report file that cannot be written is saved next to it under a backup name.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report.format", config, err).
			WithSuggestion("use one of: console, json, yaml")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely writes the report of result to writer
func (srg *SafeReportGenerator) GenerateReportSafely(result *pipeline.RunResult, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Debug("Starting report generation")

	if result == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil).
			WithSuggestion("the load run produced no result to report")
	}
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil)
	}

	if err := srg.generateWithFallback(result, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed")
		return err
	}
	return nil
}

// GenerateReportToFile writes the report to path, creating its directory
func (srg *SafeReportGenerator) GenerateReportToFile(result *pipeline.RunResult, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.FileError(errors.CodeFileWrite, path, err)
	}

	file, err := os.Create(path)
	if err != nil {
		if !isFileError(err) {
			return errors.FileError(errors.CodeFileWrite, path, err)
		}
		return srg.generateToBackup(result, path, err)
	}
	defer file.Close()

	if err := srg.GenerateReportSafely(result, file); err != nil {
		return err
	}
	srg.logger.WithField("file", path).Info("Report written")
	return nil
}

func (srg *SafeReportGenerator) generateWithFallback(result *pipeline.RunResult, writer io.Writer) error {
	err := srg.GenerateReport(result, writer)
	if err == nil {
		return nil
	}
	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	if srg.config.Format == FormatConsole {
		return wrapGenerationError(err)
	}

	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallback, fbErr := NewReportGenerator(&fallbackConfig)
	if fbErr != nil {
		return wrapGenerationError(err)
	}

	fmt.Fprintf(writer, "NOTE: report rendered as console text; %s output failed: %v\n\n", srg.config.Format, err)
	if fbErr := fallback.GenerateReport(result, writer); fbErr != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report fallback",
			fmt.Errorf("primary=%v, fallback=%v", err, fbErr))
	}
	return nil
}

func (srg *SafeReportGenerator) generateToBackup(result *pipeline.RunResult, path string, originalErr error) error {
	backupPath := generateBackupPath(path)
	srg.logger.WithFields(logger.Fields{
		"original_file": path,
		"backup_file":   backupPath,
	}).Warn("Writing report to backup location")

	backup, err := os.Create(backupPath)
	if err != nil {
		return errors.FileError(errors.CodeFileWrite, path, originalErr)
	}
	defer backup.Close()

	if err := srg.generateWithFallback(result, backup); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Warning: could not write %s, report saved to %s\n", path, backupPath)
	return nil
}

func isFileError(err error) bool {
	if os.IsPermission(err) || os.IsExist(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "read-only file system")
}

func generateBackupPath(originalPath string) string {
	ext := filepath.Ext(originalPath)
	return strings.TrimSuffix(originalPath, ext) + "_backup" + ext
}

func wrapGenerationError(err error) error {
	if pipelineErr, ok := errors.AsPipelineError(err); ok {
		return pipelineErr
	}
	return errors.InternalError(errors.CodeUnexpectedError, "report generation", err).
		WithSuggestion("check the output destination and report format settings")
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return "file:" + w.Name()
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
