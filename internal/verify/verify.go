// Package verify checks that the normalized schema, joined back into the
// flat shape, reproduces the cleaned record set.
package verify

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/internal/repository"
	"bank-fraud-etl/pkg/logger"
)

// Source exposes the flat validation query
type Source interface {
	FlatColumns(ctx context.Context) ([]string, error)
	FlatTransactions(ctx context.Context) ([]repository.FlatTransaction, error)
}

// Config controls the comparison
type Config struct {
	// Numeric columns match when |a-b| <= AbsTolerance + RelTolerance*|b|.
	RelTolerance  float64 `json:"rel_tolerance"`
	AbsTolerance  float64 `json:"abs_tolerance"`
	MaxMismatches int     `json:"max_mismatches"`
}

// DefaultConfig returns the default comparison tolerances
func DefaultConfig() *Config {
	return &Config{RelTolerance: 1e-5, AbsTolerance: 1e-8, MaxMismatches: 50}
}

// Mismatch is one differing value
type Mismatch struct {
	TransactionID string `json:"transaction_id" yaml:"transaction_id"`
	Column        string `json:"column" yaml:"column"`
	Expected      string `json:"expected" yaml:"expected"`
	Actual        string `json:"actual" yaml:"actual"`
}

// Report is the outcome of a verification
type Report struct {
	MissingColumns         []string   `json:"missing_columns,omitempty" yaml:"missing_columns,omitempty"`
	ExtraColumns           []string   `json:"extra_columns,omitempty" yaml:"extra_columns,omitempty"`
	ExpectedRows           int        `json:"expected_rows" yaml:"expected_rows"`
	ActualRows             int        `json:"actual_rows" yaml:"actual_rows"`
	MissingTransactions    []string   `json:"missing_transactions,omitempty" yaml:"missing_transactions,omitempty"`
	UnexpectedTransactions []string   `json:"unexpected_transactions,omitempty" yaml:"unexpected_transactions,omitempty"`
	MismatchCount          int        `json:"mismatch_count" yaml:"mismatch_count"`
	Mismatches             []Mismatch `json:"mismatches,omitempty" yaml:"mismatches,omitempty"`
}

// ColumnsMatch reports whether both sides have the same column set
func (r *Report) ColumnsMatch() bool {
	return len(r.MissingColumns) == 0 && len(r.ExtraColumns) == 0
}

// OK reports whether the round trip reproduced the input exactly
func (r *Report) OK() bool {
	return r.ColumnsMatch() &&
		r.ExpectedRows == r.ActualRows &&
		len(r.MissingTransactions) == 0 &&
		len(r.UnexpectedTransactions) == 0 &&
		r.MismatchCount == 0
}

func (r *Report) String() string {
	if r.OK() {
		return fmt.Sprintf("round trip verified: %d rows, %d columns match", r.ActualRows, len(models.CleanColumns))
	}
	return fmt.Sprintf("round trip differs: rows %d/%d, %d missing columns, %d extra columns, %d missing and %d unexpected transactions, %d value mismatches",
		r.ActualRows, r.ExpectedRows, len(r.MissingColumns), len(r.ExtraColumns),
		len(r.MissingTransactions), len(r.UnexpectedTransactions), r.MismatchCount)
}

// Verifier compares cleaned records with the flat query
type Verifier struct {
	source Source
	config *Config
	logger logger.Logger
}

func NewVerifier(source Source, config *Config) *Verifier {
	if config == nil {
		config = DefaultConfig()
	}
	return &Verifier{
		source: source,
		config: config,
		logger: logger.WithComponent("verifier"),
	}
}

// Verify compares column set, row count and every value, matching rows by
// transaction id. Only query failures are returned as errors; differences
// go into the report.
func (v *Verifier) Verify(ctx context.Context, records []*models.CleanRecord) (*Report, error) {
	cols, err := v.source.FlatColumns(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := v.source.FlatTransactions(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{ExpectedRows: len(records), ActualRows: len(rows)}
	report.MissingColumns, report.ExtraColumns = diffColumns(models.CleanColumns, cols)

	actual := make(map[string]*repository.FlatTransaction, len(rows))
	for i := range rows {
		actual[rows[i].TransactionID] = &rows[i]
	}

	expected := make(map[string]bool, len(records))
	for _, rec := range records {
		if expected[rec.TransactionID] {
			continue
		}
		expected[rec.TransactionID] = true

		row, ok := actual[rec.TransactionID]
		if !ok {
			report.MissingTransactions = append(report.MissingTransactions, rec.TransactionID)
			continue
		}
		for _, col := range models.CleanColumns {
			want, got := rec.Value(col), row.Value(col)
			if v.equal(col, want, got) {
				continue
			}
			report.MismatchCount++
			if len(report.Mismatches) < v.config.MaxMismatches {
				report.Mismatches = append(report.Mismatches, Mismatch{
					TransactionID: rec.TransactionID,
					Column:        col,
					Expected:      want,
					Actual:        got,
				})
			}
		}
	}

	for id := range actual {
		if !expected[id] {
			report.UnexpectedTransactions = append(report.UnexpectedTransactions, id)
		}
	}
	sort.Strings(report.UnexpectedTransactions)

	log := v.logger.WithFields(logger.Fields{
		"expected_rows": report.ExpectedRows,
		"actual_rows":   report.ActualRows,
		"mismatches":    report.MismatchCount,
	})
	if report.OK() {
		log.Info("Round trip verified")
	} else {
		log.Warn("Round trip differs from the cleaned input")
	}
	return report, nil
}

func (v *Verifier) equal(column, want, got string) bool {
	if want == got {
		return true
	}
	if column != models.ColTransactionAmount && column != models.ColAccountBalance {
		return false
	}
	a, errA := decimal.NewFromString(got)
	b, errB := decimal.NewFromString(want)
	if errA != nil || errB != nil {
		return false
	}
	diff, _ := a.Sub(b).Abs().Float64()
	scale, _ := b.Abs().Float64()
	return diff <= v.config.AbsTolerance+v.config.RelTolerance*scale
}

func diffColumns(want, got []string) (missing, extra []string) {
	gotSet := make(map[string]bool, len(got))
	for _, c := range got {
		gotSet[c] = true
	}
	wantSet := make(map[string]bool, len(want))
	for _, c := range want {
		wantSet[c] = true
		if !gotSet[c] {
			missing = append(missing, c)
		}
	}
	for _, c := range got {
		if !wantSet[c] {
			extra = append(extra, c)
		}
	}
	return missing, extra
}
