package normalizer

import (
	"testing"
	"time"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/pkg/errors"

	"github.com/shopspring/decimal"
)

func rawRow(line int, overrides map[string]string) *models.RawRecord {
	values := map[string]string{
		models.ColCustomerID:          "C1",
		models.ColCustomerName:        "Asha Nair",
		models.ColGender:              "Female",
		models.ColAge:                 "41",
		models.ColState:               "Kerala",
		models.ColCity:                "Kochi",
		models.ColBankBranch:          "Kochi Main",
		models.ColAccountType:         "Savings",
		models.ColTransactionID:       "T1",
		models.ColTransactionDate:     "01-02-2024",
		models.ColTransactionTime:     "10:00",
		models.ColTransactionAmount:   "$1,200.50",
		models.ColMerchantID:          "M1",
		models.ColTransactionType:     "Debit",
		models.ColMerchantCategory:    "Groceries",
		models.ColAccountBalance:      "5,000.00",
		models.ColTransactionDevice:   "Phone",
		models.ColTransactionLocation: "Kochi, Kerala",
		models.ColDeviceType:          "Mobile",
		models.ColIsFraud:             "0",
		models.ColCurrency:            "INR",
		models.ColCustomerContact:     "+919800000000",
		models.ColDescription:         "Weekly shop",
		models.ColCustomerEmail:       "asha@example.com",
	}
	for k, v := range overrides {
		values[k] = v
	}
	return &models.RawRecord{Line: line, Values: values}
}

func mustNormalizer(t *testing.T, config *Config) *Normalizer {
	t.Helper()
	n, err := New(config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return n
}

func TestNormalize_CleanRows(t *testing.T) {
	n := mustNormalizer(t, nil)

	result := n.Normalize([]*models.RawRecord{
		rawRow(2, nil),
		rawRow(3, map[string]string{
			models.ColTransactionID:     "T2",
			models.ColTransactionDate:   "02-02-2024",
			models.ColTransactionTime:   "11:00",
			models.ColTransactionAmount: "900",
			models.ColIsFraud:           "1",
		}),
	})

	if len(result.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(result.Records))
	}
	if result.Stats.Dropped() != 0 {
		t.Errorf("expected no drops, got %s", result.Stats)
	}

	first := result.Records[0]
	if !first.Amount.Equal(decimal.RequireFromString("1200.50")) {
		t.Errorf("expected amount 1200.50, got %s", first.Amount)
	}
	if !first.Balance.Valid || !first.Balance.Decimal.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("expected balance 5000, got %+v", first.Balance)
	}
	if first.Age == nil || *first.Age != 41 {
		t.Errorf("expected age 41, got %v", first.Age)
	}
	if want := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC); !first.TransactionDateTime.Equal(want) {
		t.Errorf("expected %v, got %v", want, first.TransactionDateTime)
	}

	second := result.Records[1]
	if !second.Amount.Equal(decimal.NewFromInt(900)) || !second.IsFraud {
		t.Errorf("unexpected second record: amount %s fraud %v", second.Amount, second.IsFraud)
	}

	if !result.Stats.Earliest.Equal(first.TransactionDateTime) || !result.Stats.Latest.Equal(second.TransactionDateTime) {
		t.Errorf("unexpected timestamp bounds %v..%v", result.Stats.Earliest, result.Stats.Latest)
	}
}

func TestNormalize_DropsPerStage(t *testing.T) {
	n := mustNormalizer(t, nil)

	result := n.Normalize([]*models.RawRecord{
		rawRow(2, nil),
		rawRow(3, map[string]string{models.ColCity: "NaN"}),
		rawRow(4, map[string]string{models.ColCustomerEmail: ""}),
		rawRow(5, map[string]string{models.ColTransactionDate: "31-02-2024"}),
		rawRow(6, map[string]string{models.ColTransactionTime: "25:99"}),
		rawRow(7, map[string]string{models.ColTransactionAmount: "twelve"}),
		rawRow(8, map[string]string{models.ColAge: "41.5", models.ColAccountBalance: "x"}),
		rawRow(9, map[string]string{models.ColIsFraud: "maybe"}),
	})

	stats := result.Stats
	if stats.Input != 8 || stats.Output != 1 {
		t.Errorf("expected 8 in and 1 out, got %s", stats)
	}
	if stats.DroppedMissing != 2 {
		t.Errorf("expected 2 missing drops, got %d", stats.DroppedMissing)
	}
	if stats.DroppedTimestamp != 2 {
		t.Errorf("expected 2 timestamp drops, got %d", stats.DroppedTimestamp)
	}
	if stats.DroppedNumeric != 3 {
		t.Errorf("expected 3 numeric drops, got %d", stats.DroppedNumeric)
	}
	if stats.NumericFailures[models.ColAge] != 1 || stats.NumericFailures[models.ColAccountBalance] != 1 {
		t.Errorf("unexpected per-field failures %v", stats.NumericFailures)
	}
	if stats.MissingByColumn[models.ColCity] != 1 || stats.MissingByColumn[models.ColCustomerEmail] != 1 {
		t.Errorf("unexpected missing counts %v", stats.MissingByColumn)
	}

	if result.Errors.Total != 7 {
		t.Errorf("expected 7 row errors, got %d", result.Errors.Total)
	}
	if result.Errors.ByCode[errors.CodeInvalidTimestamp] != 2 {
		t.Errorf("expected 2 timestamp errors, got %v", result.Errors.ByCode)
	}
	if result.Errors.ByCategory[errors.CategoryValidation] != 7 {
		t.Errorf("every row error should be a validation error: %v", result.Errors.ByCategory)
	}
}

func TestNormalize_OptionalFields(t *testing.T) {
	n := mustNormalizer(t, &Config{
		RequiredFields: []string{models.ColTransactionID, models.ColCustomerID},
	})

	result := n.Normalize([]*models.RawRecord{
		rawRow(2, map[string]string{
			models.ColAge:            "None",
			models.ColAccountBalance: "not a number",
			models.ColDescription:    "",
			models.ColMerchantID:     "",
		}),
	})

	if len(result.Records) != 1 {
		t.Fatalf("optional failures must not drop the row: %s", result.Stats)
	}
	rec := result.Records[0]
	if rec.Age != nil {
		t.Errorf("expected nil age, got %v", *rec.Age)
	}
	if rec.Balance.Valid {
		t.Error("unparseable optional balance should be null")
	}
	if rec.Description != "" || rec.MerchantID != "" {
		t.Error("missing optional values should be empty")
	}
	if result.Stats.NumericFailures[models.ColAccountBalance] != 1 {
		t.Error("optional numeric failures should still be counted")
	}
}

func TestNormalize_TimestampAlwaysRequired(t *testing.T) {
	n := mustNormalizer(t, &Config{RequiredFields: []string{models.ColTransactionID}})

	result := n.Normalize([]*models.RawRecord{
		rawRow(2, map[string]string{models.ColTransactionTime: ""}),
	})
	if result.Stats.DroppedMissing != 1 {
		t.Errorf("a row without a time must be dropped, got %s", result.Stats)
	}
}

func TestNormalize_TimestampsWithinInputRange(t *testing.T) {
	n := mustNormalizer(t, nil)
	dates := []struct{ date, clock string }{
		{"01-01-2023", "00:00"},
		{"15-06-2023", "12:30:45"},
		{"31-12-2023", "23:59:59"},
	}

	var raws []*models.RawRecord
	for i, d := range dates {
		raws = append(raws, rawRow(i+2, map[string]string{
			models.ColTransactionID:   "T" + d.date,
			models.ColTransactionDate: d.date,
			models.ColTransactionTime: d.clock,
		}))
	}

	result := n.Normalize(raws)
	min := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	max := time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)
	for _, rec := range result.Records {
		if rec.TransactionDateTime.Before(min) || rec.TransactionDateTime.After(max) {
			t.Errorf("timestamp %v outside input range", rec.TransactionDateTime)
		}
	}
	if len(result.Records) != 3 {
		t.Errorf("expected 3 records, got %d", len(result.Records))
	}
}

func TestNew_UnknownRequiredField(t *testing.T) {
	_, err := New(&Config{RequiredFields: []string{"Shoe_Size"}})
	if errors.GetExitCode(err) != 4 {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestStructuralColumns(t *testing.T) {
	config := &Config{RequiredFields: []string{models.ColCustomerID, models.ColTransactionDate}}
	cols := config.StructuralColumns()

	want := []string{models.ColCustomerID, models.ColTransactionDate, models.ColTransactionTime, models.ColTransactionAmount}
	if len(cols) != len(want) {
		t.Fatalf("expected %v, got %v", want, cols)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Errorf("column %d: expected %s, got %s", i, want[i], cols[i])
		}
	}
}
