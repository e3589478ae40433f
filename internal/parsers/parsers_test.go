package parsers

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/pkg/errors"

	"github.com/shopspring/decimal"
)

const header = "Customer_ID,Customer_Name,Gender,Age,State,City,Bank_Branch,Account_Type,Transaction_ID,Transaction_Date,Transaction_Time,Transaction_Amount,Merchant_ID,Transaction_Type,Merchant_Category,Account_Balance,Transaction_Device,Transaction_Location,Device_Type,Is_Fraud,Transaction_Currency,Customer_Contact,Transaction_Description,Customer_Email"

func createTempCSVFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transactions.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

func TestDefaultRecordParserConfig(t *testing.T) {
	config := DefaultRecordParserConfig()

	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter to be ',', got %q", config.Delimiter)
	}
	if len(config.RequiredColumns) != len(models.RawColumns) {
		t.Errorf("Expected every column to be required, got %d", len(config.RequiredColumns))
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestRecordParserConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RecordParserConfig
		wantErr bool
	}{
		{"semicolon", RecordParserConfig{Delimiter: ';'}, false},
		{"zero delimiter", RecordParserConfig{}, true},
		{"quote delimiter", RecordParserConfig{Delimiter: '"'}, true},
		{"unknown required", RecordParserConfig{Delimiter: ',', RequiredColumns: []string{"Shoe_Size"}}, true},
		{"alias", RecordParserConfig{Delimiter: ',', ColumnAliases: map[string]string{models.ColCity: "Town"}}, false},
		{"empty alias", RecordParserConfig{Delimiter: ',', ColumnAliases: map[string]string{models.ColCity: " "}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	content := header + "\n" +
		"C1,Asha,Female,41,Kerala,Kochi,Kochi Main,Savings,T1,01-02-2024,10:00,\"$1,200.50\",M1,Debit,Groceries,\"5,000.00\",Phone,\"Kochi, Kerala\",Mobile,0,INR,+9100,Weekly shop,asha@example.com\n" +
		"\n" +
		"C2,Ravi,Male,NaN,Goa,Panaji,Panaji East,Current,T2,02-02-2024,11:00,900,M2,Credit,Travel,100,Laptop,\"Panaji, Goa\",Desktop,1,INR,+9101,Ticket,ravi@example.com\n"

	parser, err := NewRecordParser(nil)
	if err != nil {
		t.Fatalf("NewRecordParser() error = %v", err)
	}

	records, stats, err := parser.ParseFile(context.Background(), createTempCSVFile(t, content))
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if stats.RecordsParsed != 2 || stats.MalformedRows != 0 {
		t.Errorf("unexpected stats: %s", stats)
	}

	first := records[0]
	if first.Line != 2 {
		t.Errorf("expected first record on line 2, got %d", first.Line)
	}
	if v, _ := first.Get(models.ColTransactionAmount); v != "$1,200.50" {
		t.Errorf("amount should be passed through untouched, got %q", v)
	}
	if v, _ := first.Get(models.ColTransactionLocation); v != "Kochi, Kerala" {
		t.Errorf("unexpected location %q", v)
	}

	second := records[1]
	if second.Line != 4 {
		t.Errorf("expected second record on line 4, got %d", second.Line)
	}
	if _, ok := second.Get(models.ColAge); ok {
		t.Error("NaN age should read as missing")
	}
}

func TestParseReader_MissingRequiredColumn(t *testing.T) {
	content := "Customer_ID,Transaction_ID\nC1,T1\n"

	parser, err := NewRecordParser(nil)
	if err != nil {
		t.Fatalf("NewRecordParser() error = %v", err)
	}

	_, _, err = parser.ParseReader(context.Background(), strings.NewReader(content), "inline")
	if err == nil {
		t.Fatal("expected an error for missing columns")
	}

	pipelineErr, ok := errors.AsPipelineError(err)
	if !ok {
		t.Fatalf("expected PipelineError, got %T", err)
	}
	if pipelineErr.Category != errors.CategoryConfiguration || pipelineErr.Code != errors.CodeMissingColumn {
		t.Errorf("expected configuration/missing_column, got %s/%s", pipelineErr.Category, pipelineErr.Code)
	}
	if !strings.Contains(pipelineErr.Message, models.ColTransactionAmount) {
		t.Errorf("expected message to name the missing column, got %s", pipelineErr.Message)
	}
}

func TestParseReader_EmptyInput(t *testing.T) {
	parser, _ := NewRecordParser(nil)

	_, _, err := parser.ParseReader(context.Background(), strings.NewReader(""), "empty")
	if errors.GetExitCode(err) != 4 {
		t.Errorf("expected configuration exit code, got %v", err)
	}
}

func TestParseReader_OptionalColumnsAndAliases(t *testing.T) {
	content := "txn,Customer_ID,Town\nT1,C1,Pune\n"

	parser, err := NewRecordParser(&RecordParserConfig{
		Delimiter:       ',',
		RequiredColumns: []string{models.ColTransactionID, models.ColCustomerID},
		ColumnAliases: map[string]string{
			models.ColTransactionID: "TXN",
			models.ColCity:          "Town",
		},
	})
	if err != nil {
		t.Fatalf("NewRecordParser() error = %v", err)
	}

	records, _, err := parser.ParseReader(context.Background(), strings.NewReader(content), "inline")
	if err != nil {
		t.Fatalf("ParseReader() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if v, _ := records[0].Get(models.ColTransactionID); v != "T1" {
		t.Errorf("alias lookup should be case-insensitive, got %q", v)
	}
	if v, _ := records[0].Get(models.ColCity); v != "Pune" {
		t.Errorf("expected aliased city, got %q", v)
	}
	if _, ok := records[0].Values[models.ColGender]; ok {
		t.Error("absent optional column should not be carried")
	}
}

func TestParseReader_MalformedLine(t *testing.T) {
	content := "Customer_ID,Transaction_ID\nC1,T1\nC2,\"T2\nC3,T3\n"

	parser, _ := NewRecordParser(&RecordParserConfig{
		Delimiter:       ',',
		RequiredColumns: []string{models.ColCustomerID, models.ColTransactionID},
	})

	records, stats, err := parser.ParseReader(context.Background(), strings.NewReader(content), "inline")
	if err != nil {
		t.Fatalf("ParseReader() error = %v", err)
	}
	if stats.MalformedRows != 1 {
		t.Errorf("expected 1 malformed row, got %d", stats.MalformedRows)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 readable record, got %d", len(records))
	}
}

func TestParseFile_NotFound(t *testing.T) {
	parser, _ := NewRecordParser(nil)

	_, _, err := parser.ParseFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	pipelineErr, ok := errors.AsPipelineError(err)
	if !ok || pipelineErr.Code != errors.CodeFileNotFound {
		t.Fatalf("expected file_not_found, got %v", err)
	}
}

func TestParseFile_InvalidEncoding(t *testing.T) {
	path := createTempCSVFile(t, "Customer_ID,Transaction_ID\nC1,\xff\xfe\n")
	parser, _ := NewRecordParser(&RecordParserConfig{Delimiter: ','})

	_, _, err := parser.ParseFile(context.Background(), path)
	pipelineErr, ok := errors.AsPipelineError(err)
	if !ok || pipelineErr.Code != errors.CodeEncodingError {
		t.Fatalf("expected encoding_error, got %v", err)
	}
}

func TestParseReader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	parser, _ := NewRecordParser(&RecordParserConfig{Delimiter: ','})
	_, _, err := parser.ParseReader(ctx, strings.NewReader("Customer_ID\nC1\n"), "inline")
	pipelineErr, ok := errors.AsPipelineError(err)
	if !ok || pipelineErr.Code != errors.CodeCancelled {
		t.Fatalf("expected cancelled error, got %v", err)
	}
}

func TestWriteCleanRecords(t *testing.T) {
	age := 41
	records := []*models.CleanRecord{{
		CustomerID:          "C1",
		Age:                 &age,
		TransactionID:       "T1",
		TransactionDateTime: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
		Amount:              decimal.RequireFromString("1200.5"),
		Location:            "Kochi, Kerala",
	}}

	var buf bytes.Buffer
	if err := WriteCleanRecords(&buf, records); err != nil {
		t.Fatalf("WriteCleanRecords() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}
	if !strings.HasSuffix(lines[0], models.ColTransactionDateTime) {
		t.Errorf("header should end with the combined timestamp: %s", lines[0])
	}
	if strings.Contains(lines[0], models.ColTransactionDate+",") {
		t.Errorf("header must not contain the raw date column: %s", lines[0])
	}
	for _, want := range []string{"1200.50", "\"Kochi, Kerala\"", "2024-02-01 10:00:00"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row %q should contain %q", lines[1], want)
		}
	}
}

func TestWriteCleanFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "processed.csv")
	records := []*models.CleanRecord{{CustomerID: "C1", TransactionID: "T1", Amount: decimal.NewFromInt(5)}}

	if err := WriteCleanFile(path, records); err != nil {
		t.Fatalf("WriteCleanFile() error = %v", err)
	}

	parser, _ := NewRecordParser(&RecordParserConfig{Delimiter: ','})
	raws, _, err := parser.ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("expected 1 record, got %d", len(raws))
	}
	if v, _ := raws[0].Get(models.ColTransactionAmount); v != "5.00" {
		t.Errorf("unexpected amount %q", v)
	}
}
