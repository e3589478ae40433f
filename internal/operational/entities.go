package operational

import (
	"bank-fraud-etl/internal/lookup"
	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/pkg/errors"
)

// BuildCustomers returns one Customer per business key, taken from the first
// occurrence. It also returns how many later occurrences disagreed with it.
func BuildCustomers(records []*models.CleanRecord, mappings *lookup.Mappings, collector *errors.RowErrorCollector) ([]*models.Customer, int) {
	var customers []*models.Customer
	first := make(map[string]*models.CleanRecord)
	conflicts := 0

	for _, rec := range records {
		if rec.CustomerID == "" {
			continue
		}
		if seen, ok := first[rec.CustomerID]; ok {
			if !sameCustomer(seen, rec) {
				conflicts++
			}
			continue
		}
		first[rec.CustomerID] = rec

		accountTypeID, err := mappings.OptionalID(lookup.AccountType, rec.AccountType)
		if err != nil {
			collector.Add(rec.Line, asPipelineError(err))
			continue
		}
		bankBranchID, err := mappings.OptionalID(lookup.BankBranch, rec.BankBranch)
		if err != nil {
			collector.Add(rec.Line, asPipelineError(err))
			continue
		}

		customers = append(customers, &models.Customer{
			ID:            rec.CustomerID,
			Name:          rec.CustomerName,
			Gender:        rec.Gender,
			Age:           rec.Age,
			State:         rec.State,
			City:          rec.City,
			Contact:       rec.CustomerContact,
			Email:         rec.CustomerEmail,
			AccountTypeID: accountTypeID,
			BankBranchID:  bankBranchID,
		})
	}
	return customers, conflicts
}

func sameCustomer(a, b *models.CleanRecord) bool {
	sameAge := (a.Age == nil && b.Age == nil) || (a.Age != nil && b.Age != nil && *a.Age == *b.Age)
	return sameAge &&
		a.CustomerName == b.CustomerName &&
		a.Gender == b.Gender &&
		a.State == b.State &&
		a.City == b.City &&
		a.CustomerContact == b.CustomerContact &&
		a.CustomerEmail == b.CustomerEmail &&
		a.AccountType == b.AccountType &&
		a.BankBranch == b.BankBranch
}

// BuildMerchants returns one Merchant per business key, first occurrence wins.
func BuildMerchants(records []*models.CleanRecord, mappings *lookup.Mappings, collector *errors.RowErrorCollector) ([]*models.Merchant, int) {
	var merchants []*models.Merchant
	first := make(map[string]string)
	conflicts := 0

	for _, rec := range records {
		if rec.MerchantID == "" {
			continue
		}
		if category, ok := first[rec.MerchantID]; ok {
			if category != rec.MerchantCategory {
				conflicts++
			}
			continue
		}
		first[rec.MerchantID] = rec.MerchantCategory

		categoryID, err := mappings.OptionalID(lookup.MerchantCategory, rec.MerchantCategory)
		if err != nil {
			collector.Add(rec.Line, asPipelineError(err))
			continue
		}
		merchants = append(merchants, &models.Merchant{ID: rec.MerchantID, CategoryID: categoryID})
	}
	return merchants, conflicts
}

// BuildDevices returns one Device per (name, type) pair. Rows lacking either
// half of the pair produce no device.
func BuildDevices(records []*models.CleanRecord, mappings *lookup.Mappings, collector *errors.RowErrorCollector) []*models.Device {
	var devices []*models.Device
	seen := make(map[models.DeviceKey]bool)

	for _, rec := range records {
		key := models.DeviceKey{Name: rec.DeviceName, Type: rec.DeviceType}
		if key.Name == "" || key.Type == "" || seen[key] {
			continue
		}
		seen[key] = true

		typeID, err := mappings.ID(lookup.DeviceType, key.Type)
		if err != nil {
			collector.Add(rec.Line, asPipelineError(err))
			continue
		}
		devices = append(devices, &models.Device{Name: key.Name, DeviceTypeID: typeID})
	}
	return devices
}

// DeviceIndex maps persisted devices back to their natural key using the
// device type mapping.
func DeviceIndex(devices []models.Device, mappings *lookup.Mappings) map[models.DeviceKey]uint64 {
	typeNames := make(map[uint64]string)
	for name, id := range mappings.Names(lookup.DeviceType) {
		typeNames[id] = name
	}

	index := make(map[models.DeviceKey]uint64, len(devices))
	for _, d := range devices {
		typeName, ok := typeNames[d.DeviceTypeID]
		if !ok {
			continue
		}
		index[models.DeviceKey{Name: d.Name, Type: typeName}] = d.ID
	}
	return index
}

// TransactionRefs are the entities a transaction may reference
type TransactionRefs struct {
	Customers map[string]bool
	Merchants map[string]bool
	Devices   map[models.DeviceKey]uint64
}

// TransactionBuild is the outcome of BuildTransactions
type TransactionBuild struct {
	Transactions      []*models.Transaction
	SkippedMissingKey int
	SkippedDuplicate  int
	SkippedUnresolved int
	NullDevices       int
	// UnresolvedDevices lists device pairs stored as a null reference.
	UnresolvedDevices []models.DeviceKey
}

// BuildTransactions resolves every foreign key of each cleaned row. Rows
// with a missing or duplicate business key, or an unresolvable non-nullable
// reference, are skipped and recorded in collector. An unresolvable device
// is stored as a null reference.
func BuildTransactions(records []*models.CleanRecord, mappings *lookup.Mappings, refs TransactionRefs, collector *errors.RowErrorCollector) *TransactionBuild {
	out := &TransactionBuild{}
	seen := make(map[string]bool, len(records))
	unresolved := make(map[models.DeviceKey]bool)

	for _, rec := range records {
		if field := missingKey(rec); field != "" {
			out.SkippedMissingKey++
			collector.Add(rec.Line, errors.ValidationError(errors.CodeMissingKey, field, nil, nil))
			continue
		}
		if seen[rec.TransactionID] {
			out.SkippedDuplicate++
			collector.Add(rec.Line, errors.ValidationError(errors.CodeDuplicateKey, models.ColTransactionID, rec.TransactionID, nil))
			continue
		}

		txn, err := resolveTransaction(rec, mappings, refs)
		if err != nil {
			out.SkippedUnresolved++
			collector.Add(rec.Line, err)
			continue
		}
		seen[rec.TransactionID] = true

		if txn.DeviceID == nil {
			out.NullDevices++
			key := models.DeviceKey{Name: rec.DeviceName, Type: rec.DeviceType}
			if !unresolved[key] {
				unresolved[key] = true
				out.UnresolvedDevices = append(out.UnresolvedDevices, key)
			}
		}
		out.Transactions = append(out.Transactions, txn)
	}
	return out
}

func missingKey(rec *models.CleanRecord) string {
	switch {
	case rec.TransactionID == "":
		return models.ColTransactionID
	case rec.CustomerID == "":
		return models.ColCustomerID
	case rec.MerchantID == "":
		return models.ColMerchantID
	}
	return ""
}

func resolveTransaction(rec *models.CleanRecord, mappings *lookup.Mappings, refs TransactionRefs) (*models.Transaction, *errors.PipelineError) {
	if !refs.Customers[rec.CustomerID] {
		return nil, errors.ResolutionError(errors.CodeEntityNotFound, "customer", rec.CustomerID)
	}
	if !refs.Merchants[rec.MerchantID] {
		return nil, errors.ResolutionError(errors.CodeEntityNotFound, "merchant", rec.MerchantID)
	}

	locationID, err := mappings.ID(lookup.Location, rec.Location)
	if err != nil {
		return nil, asPipelineError(err)
	}
	currencyID, err := mappings.ID(lookup.Currency, rec.Currency)
	if err != nil {
		return nil, asPipelineError(err)
	}
	typeID, err := mappings.ID(lookup.TransactionType, rec.TransactionType)
	if err != nil {
		return nil, asPipelineError(err)
	}

	txn := &models.Transaction{
		TransactionID:     rec.TransactionID,
		CustomerID:        rec.CustomerID,
		MerchantID:        rec.MerchantID,
		LocationID:        locationID,
		CurrencyID:        currencyID,
		TransactionTypeID: typeID,
		TransactionTime:   rec.TransactionDateTime,
		Amount:            rec.Amount,
		BalanceAfter:      rec.Balance,
		IsFraud:           rec.IsFraud,
		Description:       models.NullableString(rec.Description),
	}
	if id, ok := refs.Devices[models.DeviceKey{Name: rec.DeviceName, Type: rec.DeviceType}]; ok {
		txn.DeviceID = &id
	}
	return txn, nil
}

func asPipelineError(err error) *errors.PipelineError {
	return errors.WrapIfNeeded(err, errors.CategoryResolution, errors.CodeLookupMiss, "lookup failed")
}
