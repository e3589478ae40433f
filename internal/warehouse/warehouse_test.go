package warehouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/internal/repository"
	"bank-fraud-etl/pkg/errors"
)

func str(s string) *string { return &s }

type memSource struct {
	rows []repository.FlatTransaction
}

func (s *memSource) FlatTransactions(context.Context) ([]repository.FlatTransaction, error) {
	return s.rows, nil
}

type memStore struct {
	dates     map[int]models.DimDate
	customers []*models.DimCustomer
	static    map[string]map[string]uint64
	facts     map[string]*models.FactTransaction
	failFacts bool
}

func newMemStore() *memStore {
	return &memStore{
		dates:  make(map[int]models.DimDate),
		static: make(map[string]map[string]uint64),
		facts:  make(map[string]*models.FactTransaction),
	}
}

func (s *memStore) EnsureDates(_ context.Context, dates []models.DimDate) (int64, error) {
	var n int64
	for _, d := range dates {
		if _, ok := s.dates[d.ID]; !ok {
			s.dates[d.ID] = d
			n++
		}
	}
	return n, nil
}

func (s *memStore) OpenCustomerVersions(context.Context) (map[string]models.DimCustomer, error) {
	open := make(map[string]models.DimCustomer)
	for _, c := range s.customers {
		if c.IsOpen() {
			open[c.OriginalCustomerID] = *c
		}
	}
	return open, nil
}

func (s *memStore) ApplyCustomerChanges(_ context.Context, closes []repository.CustomerClose, inserts []*models.DimCustomer) error {
	for _, cl := range closes {
		validTo := cl.ValidTo
		s.customers[cl.SKey-1].ValidTo = &validTo
	}
	for _, c := range inserts {
		copied := *c
		copied.ID = uint64(len(s.customers) + 1)
		s.customers = append(s.customers, &copied)
	}
	return nil
}

func (s *memStore) ensure(kind string, keys []string) map[string]uint64 {
	table := s.static[kind]
	if table == nil {
		table = make(map[string]uint64)
		s.static[kind] = table
	}
	out := make(map[string]uint64, len(keys))
	for _, k := range keys {
		if _, ok := table[k]; !ok {
			table[k] = uint64(len(table) + 1)
		}
		out[k] = table[k]
	}
	return out
}

func (s *memStore) EnsureLocations(_ context.Context, rows []*models.DimLocation) (map[string]uint64, error) {
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.CombinationKey
	}
	return s.ensure("location", keys), nil
}

func (s *memStore) EnsureMerchants(_ context.Context, rows []*models.DimMerchant) (map[string]uint64, error) {
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.CombinationKey
	}
	return s.ensure("merchant", keys), nil
}

func (s *memStore) EnsureDevices(_ context.Context, rows []*models.DimDevice) (map[string]uint64, error) {
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.CombinationKey
	}
	return s.ensure("device", keys), nil
}

func (s *memStore) EnsureOtherAttributes(_ context.Context, rows []*models.DimOtherTransactionAttributes) (map[string]uint64, error) {
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.CombinationKey
	}
	return s.ensure("other", keys), nil
}

func (s *memStore) SaveFactBatch(_ context.Context, facts []*models.FactTransaction) (int64, error) {
	if s.failFacts {
		return 0, fmt.Errorf("deadlock detected")
	}
	var n int64
	for _, f := range facts {
		if _, ok := s.facts[f.OriginalTransactionID]; ok {
			continue
		}
		s.facts[f.OriginalTransactionID] = f
		n++
	}
	return n, nil
}

func flatRow(id string, when time.Time, amount string) repository.FlatTransaction {
	age := 34
	return repository.FlatTransaction{
		TransactionID:       id,
		CustomerID:          "C1",
		CustomerName:        str("Asha Nair"),
		Gender:              str("Female"),
		Age:                 &age,
		City:                str("Kochi"),
		State:               str("Kerala"),
		AccountType:         str("Savings"),
		BankBranch:          str("Kochi Main"),
		TransactionDateTime: when,
		Amount:              decimal.RequireFromString(amount),
		TransactionType:     str("Debit"),
		Currency:            str("INR"),
		Location:            str("Kochi, Kerala"),
		MerchantID:          "M1",
		MerchantCategory:    str("Groceries"),
		DeviceName:          str("Phone"),
		DeviceType:          str("Mobile"),
	}
}

func TestDateSKey(t *testing.T) {
	tests := []struct {
		date time.Time
		want int
	}{
		{time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC), 20240201},
		{time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), 20231231},
		{time.Date(1999, 1, 9, 0, 0, 0, 0, time.UTC), 19990109},
	}
	for _, tt := range tests {
		if got := DateSKey(tt.date); got != tt.want {
			t.Errorf("DateSKey(%v) = %d, want %d", tt.date, got, tt.want)
		}
	}
}

func TestNewDimDate(t *testing.T) {
	d := NewDimDate(time.Date(2024, 2, 3, 18, 45, 0, 0, time.UTC))

	if d.ID != 20240203 || d.Year != 2024 || d.Quarter != 1 || d.MonthOfYear != 2 || d.DayOfMonth != 3 {
		t.Errorf("unexpected calendar fields %+v", d)
	}
	if d.MonthName != "February" || d.DayOfWeekName != "Saturday" || !d.IsWeekend {
		t.Errorf("unexpected names %+v", d)
	}
	if !d.FullDate.Equal(time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected full date at midnight, got %v", d.FullDate)
	}
	if q := NewDimDate(time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)).Quarter; q != 4 {
		t.Errorf("expected October in quarter 4, got %d", q)
	}
}

func TestDateKeysUseUTCCalendarDate(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+1800)
	utc := time.Date(2024, 2, 1, 23, 30, 0, 0, time.UTC)
	local := utc.In(kolkata)

	if got := DateSKey(local); got != 20240201 {
		t.Errorf("DateSKey(%v) = %d, want 20240201", local, got)
	}

	d := NewDimDate(local)
	if d.ID != 20240201 || d.DayOfMonth != 1 || d.DayOfWeekName != "Thursday" {
		t.Errorf("expected the UTC calendar date, got %+v", d)
	}
	if !d.FullDate.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected full date 2024-02-01, got %v", d.FullDate)
	}

	if dates := BuildDateDimension([]time.Time{utc, local}, false); len(dates) != 1 {
		t.Errorf("the same instant in two zones should give one date, got %d", len(dates))
	}

	rows := []repository.FlatTransaction{flatRow("T1", local, "10")}
	fact, err := BuildFact(&rows[0], keysFor(rows), "run")
	if err != nil {
		t.Fatalf("BuildFact() error = %v", err)
	}
	if fact.DateSKey != 20240201 {
		t.Errorf("expected fact date key 20240201, got %d", fact.DateSKey)
	}
}

func TestBuildDateDimension(t *testing.T) {
	times := []time.Time{
		time.Date(2024, 2, 4, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 22, 0, 0, 0, time.UTC),
	}

	dates := BuildDateDimension(times, false)
	if len(dates) != 2 || dates[0].ID != 20240201 || dates[1].ID != 20240204 {
		t.Errorf("expected two distinct sorted dates, got %+v", dates)
	}

	filled := BuildDateDimension(times, true)
	if len(filled) != 4 || filled[1].ID != 20240202 {
		t.Errorf("expected four dates with gaps filled, got %d", len(filled))
	}
}

func TestRowHash(t *testing.T) {
	age := 30
	other := 31
	base := CustomerSnapshot{CustomerID: "C1", Name: "Asha", City: "Kochi", Age: &age}

	changedCity := base
	changedCity.City = "Pune"
	changedAge := base
	changedAge.Age = &other
	nilAge := base
	nilAge.Age = nil
	otherKey := base
	otherKey.CustomerID = "C2"

	if base.RowHash() == changedCity.RowHash() || base.RowHash() == changedAge.RowHash() || base.RowHash() == nilAge.RowHash() {
		t.Error("a tracked attribute change must change the hash")
	}
	if base.RowHash() != otherKey.RowHash() {
		t.Error("the business key is not a tracked attribute")
	}
	if len(base.RowHash()) != 64 {
		t.Errorf("expected a hex sha256, got %q", base.RowHash())
	}
}

func TestPlanCustomerVersions(t *testing.T) {
	loadTime := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	kochi := CustomerSnapshot{CustomerID: "C1", City: "Kochi"}
	pune := CustomerSnapshot{CustomerID: "C1", City: "Pune"}

	t.Run("first sight", func(t *testing.T) {
		plan := PlanCustomerVersions(nil, []CustomerSnapshot{kochi}, loadTime, "run")
		if plan.New != 1 || len(plan.Inserts) != 1 || len(plan.Closes) != 0 {
			t.Fatalf("unexpected plan %+v", plan)
		}
		v := plan.Inserts[0]
		if v.RowVersion != 1 || !v.ValidFrom.Equal(loadTime) || !v.IsOpen() || v.LoadRunID != "run" {
			t.Errorf("unexpected version %+v", v)
		}
	})

	t.Run("unchanged", func(t *testing.T) {
		open := map[string]models.DimCustomer{"C1": {ID: 7, OriginalCustomerID: "C1", City: "Kochi", RowHash: kochi.RowHash(), RowVersion: 1}}
		plan := PlanCustomerVersions(open, []CustomerSnapshot{kochi}, loadTime, "run")
		if plan.Unchanged != 1 || len(plan.Inserts) != 0 || len(plan.Closes) != 0 {
			t.Errorf("expected no writes, got %+v", plan)
		}
	})

	t.Run("changed", func(t *testing.T) {
		open := map[string]models.DimCustomer{"C1": {ID: 7, OriginalCustomerID: "C1", City: "Kochi", RowHash: kochi.RowHash(), RowVersion: 3}}
		plan := PlanCustomerVersions(open, []CustomerSnapshot{pune}, loadTime, "run")
		if len(plan.Closes) != 1 || plan.Closes[0].SKey != 7 || !plan.Closes[0].ValidTo.Equal(loadTime) {
			t.Fatalf("expected version 7 closed at load time, got %+v", plan.Closes)
		}
		if len(plan.Inserts) != 1 || plan.Inserts[0].RowVersion != 4 || plan.Inserts[0].City != "Pune" {
			t.Errorf("expected version 4 in Pune, got %+v", plan.Inserts)
		}
	})

	t.Run("twice in one load", func(t *testing.T) {
		plan := PlanCustomerVersions(nil, []CustomerSnapshot{kochi, pune}, loadTime, "run")
		if len(plan.Inserts) != 2 {
			t.Fatalf("expected two versions, got %d", len(plan.Inserts))
		}
		v1, v2 := plan.Inserts[0], plan.Inserts[1]
		if v1.RowVersion != 1 || v2.RowVersion != 2 {
			t.Errorf("expected versions 1 and 2, got %d and %d", v1.RowVersion, v2.RowVersion)
		}
		if v1.ValidTo == nil || !v1.ValidTo.Equal(v2.ValidFrom) {
			t.Errorf("expected version 1 to close where version 2 opens")
		}
		if !v2.IsOpen() {
			t.Error("expected version 2 to be open")
		}
	})
}

func TestCombinationKey(t *testing.T) {
	if CombinationKey(nil, str("INR")) == CombinationKey(str(""), str("INR")) {
		t.Error("nil and empty attributes must produce different keys")
	}
	if CombinationKey(str("a,b"), str("c")) == CombinationKey(str("a"), str("b,c")) {
		t.Error("attribute boundaries must be part of the key")
	}
	if CombinationKey(str("Debit"), nil) != CombinationKey(str("Debit"), nil) {
		t.Error("keys must be deterministic")
	}
}

func TestSplitLocation(t *testing.T) {
	tests := []struct {
		in          string
		city, state string
	}{
		{"Kochi, Kerala", "Kochi", "Kerala"},
		{"Navi Mumbai, Thane, Maharashtra", "Navi Mumbai, Thane", "Maharashtra"},
		{"Online", "", ""},
		{", Kerala", "", "Kerala"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			city, state := SplitLocation(tt.in)
			if deref(city) != tt.city || deref(state) != tt.state {
				t.Errorf("SplitLocation(%q) = %q, %q", tt.in, deref(city), deref(state))
			}
		})
	}
}

func keysFor(rows []repository.FlatTransaction) *KeyIndex {
	store := newMemStore()
	dims := BuildStaticDimensions(rows)
	ctx := context.Background()
	keys := &KeyIndex{Customers: map[string]uint64{"C1": 1}}
	keys.Locations, _ = store.EnsureLocations(ctx, dims.Locations)
	keys.Merchants, _ = store.EnsureMerchants(ctx, dims.Merchants)
	keys.Devices, _ = store.EnsureDevices(ctx, dims.Devices)
	keys.OtherAttributes, _ = store.EnsureOtherAttributes(ctx, dims.OtherAttributes)
	return keys
}

func TestBuildFact(t *testing.T) {
	when := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	complete := flatRow("T1", when, "1200.50")
	complete.IsFraud = true

	noDevice := flatRow("T2", when, "10")
	noDevice.DeviceName = nil

	partial := flatRow("T3", when, "10")
	partial.BankBranch = nil
	partial.AccountType = nil

	unknownCustomer := flatRow("T4", when, "10")
	unknownCustomer.CustomerID = "C9"

	rows := []repository.FlatTransaction{complete, noDevice, partial, unknownCustomer}
	keys := keysFor(rows)

	fact, err := BuildFact(&rows[0], keys, "run")
	if err != nil {
		t.Fatalf("BuildFact() error = %v", err)
	}
	if fact.DateSKey != 20240201 || fact.IsFraudIndicator != 1 || fact.TransactionCount != 1 || fact.OriginalTransactionID != "T1" {
		t.Errorf("unexpected fact %+v", fact)
	}

	if _, err := BuildFact(&rows[1], keys, "run"); err == nil || err.Code != errors.CodeDimensionMiss || err.Context["target"] != "device" {
		t.Errorf("expected device dimension miss, got %v", err)
	}

	fact, err = BuildFact(&rows[2], keys, "run")
	if err != nil {
		t.Fatalf("partial other attributes should resolve: %v", err)
	}
	if fact.OtherAttributesSKey == keys.OtherAttributes[OtherAttributesRow(&rows[0]).CombinationKey] {
		t.Error("partial nulls must form their own other attributes row")
	}

	if _, err := BuildFact(&rows[3], keys, "run"); err == nil || err.Context["target"] != "customer" {
		t.Errorf("expected customer dimension miss, got %v", err)
	}

	collector := errors.NewRowErrorCollector(5)
	facts := BuildFacts(rows, keys, "run", collector)
	if len(facts) != 2 || collector.Count(errors.CodeDimensionMiss) != 2 {
		t.Errorf("expected 2 facts and 2 misses, got %d and %d", len(facts), collector.Count(errors.CodeDimensionMiss))
	}
}

func TestTransformerRun(t *testing.T) {
	ctx := context.Background()
	rows := []repository.FlatTransaction{
		flatRow("T1", time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC), "1200.50"),
		flatRow("T2", time.Date(2024, 2, 2, 11, 0, 0, 0, time.UTC), "900"),
	}
	source := &memSource{rows: rows}
	store := newMemStore()
	transformer := NewTransformer(source, store, nil)

	day1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	result, err := transformer.Run(ctx, day1, "run-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	stats := result.Stats
	if stats.DatesInserted != 2 || stats.CustomersNew != 1 || stats.Devices != 1 || stats.FactsInserted != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	t1, t2 := store.facts["T1"], store.facts["T2"]
	if t1 == nil || t2 == nil {
		t.Fatalf("expected facts for T1 and T2, got %v", store.facts)
	}
	if !t1.TransactionAmount.Equal(decimal.RequireFromString("1200.50")) || !t2.TransactionAmount.Equal(decimal.RequireFromString("900.00")) {
		t.Errorf("unexpected amounts %s and %s", t1.TransactionAmount, t2.TransactionAmount)
	}
	if t1.CustomerSKey != t2.CustomerSKey || t1.DeviceSKey != t2.DeviceSKey {
		t.Error("both facts must reference the same customer and device")
	}

	t.Run("rerun is idempotent", func(t *testing.T) {
		result, err := transformer.Run(ctx, day1.AddDate(0, 0, 1), "run-2")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if result.Stats.FactsAlreadyLoaded != 2 || result.Stats.CustomersUnchanged != 1 || result.Stats.DatesInserted != 0 {
			t.Errorf("unexpected stats %+v", result.Stats)
		}
		if len(store.customers) != 1 {
			t.Errorf("expected no new customer version, got %d", len(store.customers))
		}
	})

	t.Run("attribute change opens a version", func(t *testing.T) {
		day3 := day1.AddDate(0, 0, 2)
		changed := flatRow("T3", time.Date(2024, 2, 3, 9, 0, 0, 0, time.UTC), "50")
		changed.City = str("Pune")
		source.rows = []repository.FlatTransaction{changed}

		if _, err := transformer.Run(ctx, day3, "run-3"); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(store.customers) != 2 {
			t.Fatalf("expected 2 versions, got %d", len(store.customers))
		}
		v1, v2 := store.customers[0], store.customers[1]
		if v1.ValidTo == nil || !v1.ValidTo.Equal(v2.ValidFrom) || v2.RowVersion != 2 || !v2.IsOpen() {
			t.Errorf("unexpected versions %+v / %+v", v1, v2)
		}
		if store.facts["T3"].CustomerSKey != v2.ID {
			t.Error("new facts must reference the open version")
		}
	})
}

func TestTransformerFactBatchFailure(t *testing.T) {
	store := newMemStore()
	store.failFacts = true
	source := &memSource{rows: []repository.FlatTransaction{flatRow("T1", time.Now(), "1")}}

	result, err := NewTransformer(source, store, nil).Run(context.Background(), time.Now(), "run")
	if !errors.HasCode(err, errors.CodeBatchCommit) {
		t.Fatalf("expected batch commit error, got %v", err)
	}
	perr, _ := errors.AsPipelineError(err)
	if perr.Context["first_key"] != "T1" {
		t.Errorf("expected first_key context, got %v", perr.Context)
	}
	if result.Stats.CustomersNew != 1 {
		t.Error("dimensions are committed before facts")
	}
}
