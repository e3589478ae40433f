package operational

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bank-fraud-etl/internal/lookup"
	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/pkg/errors"
)

type fakeStore struct {
	customers    []*models.Customer
	merchants    []*models.Merchant
	devices      []models.Device
	transactions []*models.Transaction
	batches      int
	failBatch    int
}

func (s *fakeStore) SaveCustomers(_ context.Context, customers []*models.Customer, _ int) error {
	s.customers = append(s.customers, customers...)
	return nil
}

func (s *fakeStore) SaveMerchants(_ context.Context, merchants []*models.Merchant, _ int) error {
	s.merchants = append(s.merchants, merchants...)
	return nil
}

func (s *fakeStore) SaveDevices(_ context.Context, devices []*models.Device) error {
	for _, d := range devices {
		d.ID = uint64(len(s.devices) + 1)
		s.devices = append(s.devices, *d)
	}
	return nil
}

func (s *fakeStore) LoadDevices(context.Context) ([]models.Device, error) {
	return s.devices, nil
}

func (s *fakeStore) SaveTransactionBatch(_ context.Context, txns []*models.Transaction) error {
	s.batches++
	if s.failBatch > 0 && s.batches == s.failBatch {
		return stderrors.New("connection reset")
	}
	s.transactions = append(s.transactions, txns...)
	return nil
}

func testMappings() *lookup.Mappings {
	return lookup.NewMappings(map[lookup.Family]map[string]uint64{
		lookup.AccountType:      {"Savings": 1, "Current": 2},
		lookup.BankBranch:       {"Kochi Main": 1},
		lookup.MerchantCategory: {"Groceries": 1, "Travel": 2},
		lookup.DeviceType:       {"Mobile": 1, "Desktop": 2},
		lookup.Location:         {"Kochi, Kerala": 1},
		lookup.Currency:         {"INR": 1},
		lookup.TransactionType:  {"Debit": 1},
	})
}

func record(line int, txnID, customerID string) *models.CleanRecord {
	age := 34
	return &models.CleanRecord{
		Line:                line,
		CustomerID:          customerID,
		CustomerName:        "Asha Nair",
		Gender:              "Female",
		Age:                 &age,
		State:               "Kerala",
		City:                "Kochi",
		BankBranch:          "Kochi Main",
		AccountType:         "Savings",
		TransactionID:       txnID,
		TransactionDateTime: time.Date(2023, 1, 15, 10, 30, 0, 0, time.UTC),
		Amount:              decimal.RequireFromString("100.50"),
		TransactionType:     "Debit",
		Currency:            "INR",
		Location:            "Kochi, Kerala",
		MerchantID:          "M1",
		MerchantCategory:    "Groceries",
		DeviceName:          "Phone",
		DeviceType:          "Mobile",
	}
}

func TestBuildCustomersFirstOccurrenceWins(t *testing.T) {
	first := record(2, "T1", "C1")
	second := record(3, "T2", "C1")
	second.City = "Pune"
	third := record(4, "T3", "C2")

	collector := errors.NewRowErrorCollector(5)
	customers, conflicts := BuildCustomers([]*models.CleanRecord{first, second, third}, testMappings(), collector)

	if len(customers) != 2 {
		t.Fatalf("expected 2 customers, got %d", len(customers))
	}
	if customers[0].City != "Kochi" {
		t.Errorf("expected first occurrence to win, got city %s", customers[0].City)
	}
	if conflicts != 1 {
		t.Errorf("expected 1 conflict, got %d", conflicts)
	}
	if customers[0].AccountTypeID == nil || *customers[0].AccountTypeID != 1 {
		t.Errorf("expected account type id 1, got %v", customers[0].AccountTypeID)
	}
}

func TestBuildCustomersOptionalLookups(t *testing.T) {
	rec := record(2, "T1", "C1")
	rec.BankBranch = ""
	rec.AccountType = "Joint"

	collector := errors.NewRowErrorCollector(5)
	customers, _ := BuildCustomers([]*models.CleanRecord{rec}, testMappings(), collector)

	if len(customers) != 0 {
		t.Errorf("expected customer with unknown account type to be skipped")
	}
	if collector.Count(errors.CodeLookupMiss) != 1 {
		t.Errorf("expected one lookup miss, got %d", collector.Count(errors.CodeLookupMiss))
	}

	rec.AccountType = ""
	customers, _ = BuildCustomers([]*models.CleanRecord{rec}, testMappings(), collector)
	if len(customers) != 1 || customers[0].AccountTypeID != nil || customers[0].BankBranchID != nil {
		t.Errorf("expected customer with null lookups, got %+v", customers)
	}
}

func TestBuildMerchants(t *testing.T) {
	a := record(2, "T1", "C1")
	b := record(3, "T2", "C1")
	b.MerchantCategory = "Travel"
	c := record(4, "T3", "C1")
	c.MerchantID = "M2"
	c.MerchantCategory = ""

	merchants, conflicts := BuildMerchants([]*models.CleanRecord{a, b, c}, testMappings(), errors.NewRowErrorCollector(5))

	if len(merchants) != 2 {
		t.Fatalf("expected 2 merchants, got %d", len(merchants))
	}
	if *merchants[0].CategoryID != 1 {
		t.Errorf("expected Groceries category for M1, got %d", *merchants[0].CategoryID)
	}
	if merchants[1].CategoryID != nil {
		t.Errorf("expected null category for M2")
	}
	if conflicts != 1 {
		t.Errorf("expected 1 conflict, got %d", conflicts)
	}
}

func TestBuildDevices(t *testing.T) {
	a := record(2, "T1", "C1")
	b := record(3, "T2", "C1")
	c := record(4, "T3", "C1")
	c.DeviceType = "Desktop"
	d := record(5, "T4", "C1")
	d.DeviceName = ""

	devices := BuildDevices([]*models.CleanRecord{a, b, c, d}, testMappings(), errors.NewRowErrorCollector(5))

	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].Name != "Phone" || devices[0].DeviceTypeID != 1 {
		t.Errorf("unexpected first device %+v", devices[0])
	}
	if devices[1].DeviceTypeID != 2 {
		t.Errorf("expected same name with another type to be a distinct device")
	}
}

func TestBuildTransactionsSkips(t *testing.T) {
	ok := record(2, "T1", "C1")
	dup := record(3, "T1", "C1")
	noKey := record(4, "", "C1")
	unknownCustomer := record(5, "T3", "C9")
	badCurrency := record(6, "T4", "C1")
	badCurrency.Currency = "XYZ"
	noDevice := record(7, "T5", "C1")
	noDevice.DeviceName = ""

	refs := TransactionRefs{
		Customers: map[string]bool{"C1": true},
		Merchants: map[string]bool{"M1": true},
		Devices:   map[models.DeviceKey]uint64{{Name: "Phone", Type: "Mobile"}: 7},
	}
	collector := errors.NewRowErrorCollector(10)
	build := BuildTransactions([]*models.CleanRecord{ok, dup, noKey, unknownCustomer, badCurrency, noDevice}, testMappings(), refs, collector)

	if len(build.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(build.Transactions))
	}
	if build.SkippedDuplicate != 1 || build.SkippedMissingKey != 1 || build.SkippedUnresolved != 2 {
		t.Errorf("unexpected skip counts %+v", build)
	}
	if *build.Transactions[0].DeviceID != 7 {
		t.Errorf("expected device id 7, got %d", *build.Transactions[0].DeviceID)
	}
	if build.Transactions[1].DeviceID != nil || build.NullDevices != 1 {
		t.Errorf("expected null device on T5")
	}
	if collector.Count(errors.CodeEntityNotFound) != 1 || collector.Count(errors.CodeLookupMiss) != 1 {
		t.Errorf("unexpected error codes: %+v", collector.Summary().ByCode)
	}
}

func TestLoadCustomerWithTwoTransactions(t *testing.T) {
	store := &fakeStore{}
	builder := NewBuilder(store, nil)

	result, err := builder.Load(context.Background(), []*models.CleanRecord{
		record(2, "T1", "C1"),
		record(3, "T2", "C1"),
	}, testMappings())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(store.customers) != 1 || len(store.devices) != 1 || len(store.transactions) != 2 {
		t.Fatalf("expected 1 customer, 1 device, 2 transactions; got %d, %d, %d",
			len(store.customers), len(store.devices), len(store.transactions))
	}
	for _, txn := range store.transactions {
		if txn.CustomerID != "C1" {
			t.Errorf("expected customer C1, got %s", txn.CustomerID)
		}
		if txn.DeviceID == nil || *txn.DeviceID != store.devices[0].ID {
			t.Errorf("expected both transactions to reference the single device")
		}
	}
	if result.Stats.Transactions != 2 || result.Stats.Batches != 1 {
		t.Errorf("unexpected stats %+v", result.Stats)
	}
}

func TestLoadBatchFailureStops(t *testing.T) {
	store := &fakeStore{failBatch: 2}
	builder := NewBuilder(store, &Config{BatchSize: 2, MaxErrorSamples: 5})

	var records []*models.CleanRecord
	for i, id := range []string{"T1", "T2", "T3", "T4", "T5"} {
		records = append(records, record(i+2, id, "C1"))
	}

	result, err := builder.Load(context.Background(), records, testMappings())
	if err == nil {
		t.Fatal("expected batch failure")
	}

	perr, ok := errors.AsPipelineError(err)
	if !ok || perr.Code != errors.CodeBatchCommit {
		t.Fatalf("expected batch commit error, got %v", err)
	}
	if perr.Context["batch_offset"] != 2 || perr.Context["first_key"] != "T3" || perr.Context["last_key"] != "T4" {
		t.Errorf("unexpected error context %v", perr.Context)
	}
	if len(store.transactions) != 2 || result.Stats.Transactions != 2 {
		t.Errorf("expected the first batch to stay committed, got %d", len(store.transactions))
	}
	if store.batches != 2 {
		t.Errorf("expected load to stop after the failed batch, got %d batches", store.batches)
	}
}
