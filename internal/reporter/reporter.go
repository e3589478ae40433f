// Package reporter renders the summary of a load run.
//
// Supported output formats:
//   - Console: aligned tables for terminal display
//   - JSON: structured data for programmatic consumption
//   - YAML: structured data for people who read it
//
// A run that stopped early reports the stages it reached; a normalize-only
// run reports the exploration summary (per-column missing values and drop
// counts).
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatYAML})
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"

	"bank-fraud-etl/internal/pipeline"
	"bank-fraud-etl/internal/verify"
	"bank-fraud-etl/pkg/errors"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatYAML:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	IncludeMissingByColumn bool `json:"include_missing_by_column"`
	IncludeErrorSamples    bool `json:"include_error_samples"`
	IncludeMismatches      bool `json:"include_mismatches"`

	// TableMaxWidth truncates console cells that would exceed it.
	TableMaxWidth int `json:"table_max_width"`
	// MaxItems bounds listed samples and mismatches on the console.
	MaxItems int `json:"max_items"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludeMissingByColumn: true,
		IncludeErrorSamples:    true,
		IncludeMismatches:      true,
		TableMaxWidth:          120,
		MaxItems:               10,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max items cannot be negative, got %d", c.MaxItems)
	}
	return nil
}

// ReportGenerator generates load run reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes the report of result to writer
func (rg *ReportGenerator) GenerateReport(result *pipeline.RunResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("run result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatYAML:
		return rg.generateYAMLReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateJSONReport(result *pipeline.RunResult, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterResultForOutput(result))
}

func (rg *ReportGenerator) generateYAMLReport(result *pipeline.RunResult, writer io.Writer) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(rg.filterResultForOutput(result)); err != nil {
		return err
	}
	return encoder.Close()
}

// filterResultForOutput drops the sections the configuration excludes
func (rg *ReportGenerator) filterResultForOutput(result *pipeline.RunResult) *pipeline.RunResult {
	filtered := *result

	if filtered.Normalize != nil && !rg.config.IncludeMissingByColumn {
		stats := *filtered.Normalize
		stats.MissingByColumn = nil
		filtered.Normalize = &stats
	}
	if filtered.Verify != nil && !rg.config.IncludeMismatches {
		report := *filtered.Verify
		report.Mismatches = nil
		filtered.Verify = &report
	}
	if !rg.config.IncludeErrorSamples && len(filtered.Errors) > 0 {
		errs := make(map[string]*errors.ErrorSummary, len(filtered.Errors))
		for stage, summary := range filtered.Errors {
			if summary == nil {
				continue
			}
			copied := *summary
			copied.SampleErrors = nil
			errs[stage] = &copied
		}
		filtered.Errors = errs
	}
	return &filtered
}

func (rg *ReportGenerator) generateConsoleReport(result *pipeline.RunResult, writer io.Writer) error {
	fmt.Fprintf(writer, "LOAD RUN REPORT\n")
	if result.RunID != "" {
		fmt.Fprintf(writer, "Run:       %s\n", result.RunID)
	}
	fmt.Fprintf(writer, "Input:     %s\n", result.InputFile)
	fmt.Fprintf(writer, "Started:   %s\n", result.StartedAt.Format(time.RFC3339))
	if !result.FinishedAt.IsZero() {
		fmt.Fprintf(writer, "Duration:  %v\n", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(writer, "\n")

	if result.Parse != nil || result.Normalize != nil {
		fmt.Fprintf(writer, "=== NORMALIZE ===\n")
		rg.printNormalize(result, writer)
		fmt.Fprintf(writer, "\n")
	}

	if len(result.Lookups) > 0 {
		fmt.Fprintf(writer, "=== LOOKUPS ===\n")
		rg.printCounts(result.Lookups, "Family", writer)
		fmt.Fprintf(writer, "\n")
	}

	if s := result.Operational; s != nil {
		fmt.Fprintf(writer, "=== NORMALIZED SCHEMA ===\n")
		rg.printTable(writer, []string{"Entity", "Loaded", "Skipped / Conflicts"}, [][]string{
			{"Customers", itoa(s.Customers), fmt.Sprintf("%d conflicts", s.CustomerConflicts)},
			{"Merchants", itoa(s.Merchants), fmt.Sprintf("%d conflicts", s.MerchantConflicts)},
			{"Devices", itoa(s.Devices), ""},
			{"Transactions", itoa(s.Transactions), fmt.Sprintf("%d missing key, %d duplicate, %d unresolved", s.SkippedMissingKey, s.SkippedDuplicate, s.SkippedUnresolved)},
		})
		fmt.Fprintf(writer, "Transactions without device: %d\n", s.NullDevices)
		fmt.Fprintf(writer, "Batches committed:           %d\n\n", s.Batches)
	}

	if s := result.Warehouse; s != nil {
		fmt.Fprintf(writer, "=== STAR SCHEMA ===\n")
		rg.printTable(writer, []string{"Table", "Rows"}, [][]string{
			{"dim_date (new)", fmt.Sprint(s.DatesInserted)},
			{"dim_customer (new)", itoa(s.CustomersNew)},
			{"dim_customer (changed)", itoa(s.CustomersChanged)},
			{"dim_customer (unchanged)", itoa(s.CustomersUnchanged)},
			{"dim_location", itoa(s.Locations)},
			{"dim_merchant", itoa(s.Merchants)},
			{"dim_device", itoa(s.Devices)},
			{"dim_other_transaction_attributes", itoa(s.OtherAttributes)},
			{"fact_transaction (inserted)", fmt.Sprint(s.FactsInserted)},
			{"fact_transaction (already loaded)", fmt.Sprint(s.FactsAlreadyLoaded)},
			{"fact_transaction (skipped)", itoa(s.FactsSkipped)},
		})
		fmt.Fprintf(writer, "\n")
	}

	if report := result.Verify; report != nil {
		fmt.Fprintf(writer, "=== VERIFICATION ===\n")
		rg.printVerify(report, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeErrorSamples {
		rg.printErrors(result.Errors, writer)
	}
	return nil
}

func (rg *ReportGenerator) printNormalize(result *pipeline.RunResult, writer io.Writer) {
	if p := result.Parse; p != nil {
		fmt.Fprintf(writer, "Lines read:       %d\n", p.TotalLines)
		fmt.Fprintf(writer, "Records parsed:   %d\n", p.RecordsParsed)
		fmt.Fprintf(writer, "Malformed lines:  %d\n", p.MalformedRows)
	}

	s := result.Normalize
	if s == nil {
		return
	}
	fmt.Fprintf(writer, "Rows in:          %d\n", s.Input)
	fmt.Fprintf(writer, "Dropped missing:  %d (%.1f%%)\n", s.DroppedMissing, percentage(s.DroppedMissing, s.Input))
	fmt.Fprintf(writer, "Dropped date:     %d (%.1f%%)\n", s.DroppedTimestamp, percentage(s.DroppedTimestamp, s.Input))
	fmt.Fprintf(writer, "Dropped numeric:  %d (%.1f%%)\n", s.DroppedNumeric, percentage(s.DroppedNumeric, s.Input))
	fmt.Fprintf(writer, "Rows out:         %d\n", s.Output)
	if !s.Earliest.IsZero() {
		fmt.Fprintf(writer, "Timestamps:       %s to %s\n", s.Earliest.Format(time.DateTime), s.Latest.Format(time.DateTime))
	}

	if rg.config.IncludeMissingByColumn && len(s.MissingByColumn) > 0 {
		fmt.Fprintf(writer, "\nMissing values by column:\n")
		rg.printCounts(s.MissingByColumn, "Column", writer)
	}
	if len(s.NumericFailures) > 0 {
		fmt.Fprintf(writer, "\nUnparseable values by column:\n")
		rg.printCounts(s.NumericFailures, "Column", writer)
	}
}

func (rg *ReportGenerator) printVerify(report *verify.Report, writer io.Writer) {
	status := "OK"
	if !report.OK() {
		status = "FAILED"
	}
	fmt.Fprintf(writer, "Status: %s\n%s\n", status, report.String())

	if len(report.MissingColumns) > 0 {
		fmt.Fprintf(writer, "Missing columns: %s\n", strings.Join(report.MissingColumns, ", "))
	}
	if len(report.ExtraColumns) > 0 {
		fmt.Fprintf(writer, "Extra columns:   %s\n", strings.Join(report.ExtraColumns, ", "))
	}
	rg.printList("Missing transactions", report.MissingTransactions, writer)
	rg.printList("Unexpected transactions", report.UnexpectedTransactions, writer)

	if rg.config.IncludeMismatches && len(report.Mismatches) > 0 {
		rows := make([][]string, 0, len(report.Mismatches))
		for i, m := range report.Mismatches {
			if rg.config.MaxItems > 0 && i >= rg.config.MaxItems {
				break
			}
			rows = append(rows, []string{m.TransactionID, m.Column, m.Expected, m.Actual})
		}
		rg.printTable(writer, []string{"Transaction", "Column", "Expected", "Actual"}, rows)
		if more := report.MismatchCount - len(rows); more > 0 {
			fmt.Fprintf(writer, "  ... and %d more\n", more)
		}
	}
}

func (rg *ReportGenerator) printErrors(byStage map[string]*errors.ErrorSummary, writer io.Writer) {
	stages := make([]string, 0, len(byStage))
	for stage, summary := range byStage {
		if summary != nil && summary.Total > 0 {
			stages = append(stages, stage)
		}
	}
	if len(stages) == 0 {
		return
	}
	sort.Strings(stages)

	fmt.Fprintf(writer, "=== REJECTED ROWS ===\n")
	for _, stage := range stages {
		fmt.Fprintf(writer, "[%s]\n%s\n", stage, errors.FormatSummary(byStage[stage]))
	}
}

func (rg *ReportGenerator) printList(title string, items []string, writer io.Writer) {
	if len(items) == 0 {
		return
	}
	shown := items
	if rg.config.MaxItems > 0 && len(shown) > rg.config.MaxItems {
		shown = shown[:rg.config.MaxItems]
	}
	fmt.Fprintf(writer, "%s (%d): %s", title, len(items), strings.Join(shown, ", "))
	if len(shown) < len(items) {
		fmt.Fprintf(writer, " ... and %d more", len(items)-len(shown))
	}
	fmt.Fprintf(writer, "\n")
}

// printCounts prints a name/count table ordered by descending count
func (rg *ReportGenerator) printCounts(counts map[string]int, label string, writer io.Writer) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	rows := make([][]string, len(names))
	for i, name := range names {
		rows[i] = []string{name, itoa(counts[name])}
	}
	rg.printTable(writer, []string{label, "Count"}, rows)
}

// printTable writes rows aligned on display width
func (rg *ReportGenerator) printTable(writer io.Writer, headers []string, rows [][]string) {
	cellMax := rg.config.TableMaxWidth / len(headers)
	widths := make([]int, len(headers))

	fit := func(cell string) string {
		if runewidth.StringWidth(cell) > cellMax {
			return runewidth.Truncate(cell, cellMax, "...")
		}
		return cell
	}
	measure := func(row []string) {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := runewidth.StringWidth(fit(row[i])); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(headers)
	for _, row := range rows {
		measure(row)
	}

	line := func(row []string) {
		var sb strings.Builder
		sb.WriteString(" ")
		for i := range widths {
			cell := ""
			if i < len(row) {
				cell = fit(row[i])
			}
			sb.WriteString(" ")
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
			sb.WriteString(" ")
		}
		fmt.Fprintln(writer, strings.TrimRight(sb.String(), " "))
	}

	line(headers)
	separators := make([]string, len(widths))
	for i, w := range widths {
		separators[i] = strings.Repeat("-", w)
	}
	line(separators)
	for _, row := range rows {
		line(row)
	}
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}
	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func itoa(n int) string {
	return fmt.Sprint(n)
}
