package generator

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/internal/normalizer"
	"bank-fraud-etl/internal/parsers"
	"bank-fraud-etl/pkg/errors"
)

func generate(t *testing.T, opts *Options) ([]byte, *Stats) {
	t.Helper()
	g, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var buf bytes.Buffer
	stats, err := g.Write(&buf)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return buf.Bytes(), stats
}

func normalize(t *testing.T, data []byte) *normalizer.Result {
	t.Helper()
	parser, err := parsers.NewRecordParser(nil)
	if err != nil {
		t.Fatal(err)
	}
	records, _, err := parser.ParseReader(context.Background(), bytes.NewReader(data), "generated")
	if err != nil {
		t.Fatalf("ParseReader() error = %v", err)
	}
	n, err := normalizer.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return n.Normalize(records)
}

func TestGenerateIsReproducible(t *testing.T) {
	opts := DefaultOptions()
	opts.Count = 50
	opts.Seed = 42

	first, _ := generate(t, opts)
	second, _ := generate(t, opts)
	if !bytes.Equal(first, second) {
		t.Error("the same seed should produce the same export")
	}

	opts.Seed = 43
	third, _ := generate(t, opts)
	if bytes.Equal(first, third) {
		t.Error("a different seed should produce a different export")
	}
}

func TestCleanExportLoadsWithoutDrops(t *testing.T) {
	opts := DefaultOptions()
	opts.Count = 200
	opts.Customers = 30
	opts.Merchants = 10

	data, stats := generate(t, opts)
	if stats.Rows != 200 || stats.DirtyRows != 0 {
		t.Errorf("unexpected stats: %s", stats)
	}

	header := strings.SplitN(string(data), "\n", 2)[0]
	if header != strings.Join(models.RawColumns, ",") {
		t.Errorf("unexpected header %q", header)
	}

	result := normalize(t, data)
	if result.Stats.Dropped() != 0 {
		t.Fatalf("clean export should not drop rows: %s", result.Stats)
	}

	customers := make(map[string]bool)
	ids := make(map[string]bool)
	for _, r := range result.Records {
		customers[r.CustomerID] = true
		if ids[r.TransactionID] {
			t.Errorf("duplicate transaction id %s", r.TransactionID)
		}
		ids[r.TransactionID] = true
		if r.Amount.LessThan(opts.MinAmount) || r.Amount.GreaterThan(opts.MaxAmount) {
			t.Errorf("amount %s outside range", r.Amount)
		}
		if r.TransactionDateTime.Before(opts.StartDate) || !r.TransactionDateTime.Before(opts.EndDate) {
			t.Errorf("timestamp %s outside range", r.TransactionDateTime)
		}
	}
	if len(customers) != opts.Customers {
		t.Errorf("expected every customer to appear, got %d of %d", len(customers), opts.Customers)
	}
}

func TestDirtyExportMatchesCleaningCounters(t *testing.T) {
	opts := DefaultOptions()
	opts.Count = 300
	opts.Pattern = PatternDirty
	opts.DirtyRate = 0.3

	data, stats := generate(t, opts)
	if stats.DirtyRows == 0 {
		t.Fatal("expected some dirty rows")
	}

	result := normalize(t, data)
	if result.Stats.DroppedMissing != stats.Defects[DefectMissing] {
		t.Errorf("DroppedMissing = %d, generator wrote %d", result.Stats.DroppedMissing, stats.Defects[DefectMissing])
	}
	if result.Stats.DroppedTimestamp != stats.Defects[DefectTimestamp] {
		t.Errorf("DroppedTimestamp = %d, generator wrote %d", result.Stats.DroppedTimestamp, stats.Defects[DefectTimestamp])
	}
	if result.Stats.DroppedNumeric != stats.Defects[DefectAmount] {
		t.Errorf("DroppedNumeric = %d, generator wrote %d", result.Stats.DroppedNumeric, stats.Defects[DefectAmount])
	}
	if result.Stats.Output != stats.Rows-stats.DirtyRows {
		t.Errorf("expected %d clean rows, got %d", stats.Rows-stats.DirtyRows, result.Stats.Output)
	}
}

func TestDriftKeepsCustomerBase(t *testing.T) {
	opts := DefaultOptions()
	opts.Count = 40
	opts.Customers = 20
	clean, _ := New(opts)

	drift := *opts
	drift.Pattern = PatternDrift
	drift.DriftRate = 0.25
	drifted, err := New(&drift)
	if err != nil {
		t.Fatal(err)
	}

	if got := len(drifted.drifted); got != 5 {
		t.Fatalf("expected 5 drifted customers, got %d", got)
	}
	changed := make(map[string]bool)
	for _, id := range drifted.drifted {
		changed[id] = true
	}
	for i, c := range clean.customers {
		d := drifted.customers[i]
		if c.id != d.id || c.name != d.name || c.city != d.city {
			t.Errorf("customer %s identity changed", c.id)
		}
		if changed[c.id] == (c.email == d.email) {
			t.Errorf("customer %s: drifted=%v but email %q -> %q", c.id, changed[c.id], c.email, d.email)
		}
	}
}

func TestGroupThousands(t *testing.T) {
	tests := map[string]string{
		"1.50":       "1.50",
		"999.00":     "999.00",
		"1000.00":    "1,000.00",
		"1234567.89": "1,234,567.89",
	}
	for in, want := range tests {
		if got := groupThousands(in); got != want {
			t.Errorf("groupThousands(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		setting string
	}{
		{"negative count", func(o *Options) { o.Count = -1 }, "count"},
		{"no customers", func(o *Options) { o.Customers = 0 }, "customers"},
		{"no merchants", func(o *Options) { o.Merchants = 0 }, "merchants"},
		{"empty date range", func(o *Options) { o.EndDate = o.StartDate }, "end_date"},
		{"inverted amounts", func(o *Options) { o.MaxAmount = decimal.NewFromInt(1) }, "amount_range"},
		{"unknown pattern", func(o *Options) { o.Pattern = "noisy" }, "pattern"},
		{"dirty rate above one", func(o *Options) { o.DirtyRate = 1.5 }, "dirty_rate"},
		{"negative drift", func(o *Options) { o.DriftRate = -0.1 }, "drift_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(opts)
			_, err := New(opts)
			pipelineErr, ok := errors.AsPipelineError(err)
			if !ok {
				t.Fatalf("expected a pipeline error, got %v", err)
			}
			if pipelineErr.Context["setting"] != tt.setting {
				t.Errorf("expected setting %q, got %v", tt.setting, pipelineErr.Context["setting"])
			}
		})
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "export.csv")
	opts := DefaultOptions()
	opts.Count = 10
	opts.StartDate = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	opts.EndDate = time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	stats, err := WriteFile(path, opts)
	if err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if stats.Rows != 10 {
		t.Errorf("expected 10 rows, got %d", stats.Rows)
	}
	if _, err := WriteFile(path, &Options{}); err == nil {
		t.Error("expected invalid options to fail")
	}
}
