package warehouse

import (
	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/internal/repository"
	"bank-fraud-etl/pkg/errors"
)

// KeyIndex maps natural keys to surrogate keys. Customers maps a business
// key to its open version; the static dimensions are keyed by combination
// key.
type KeyIndex struct {
	Customers       map[string]uint64
	Locations       map[string]uint64
	Merchants       map[string]uint64
	Devices         map[string]uint64
	OtherAttributes map[string]uint64
}

// BuildFact resolves every surrogate key of row. A required dimension that
// does not resolve is a ResolutionError; the other attributes dimension
// always resolves because partial nulls are part of its key.
func BuildFact(row *repository.FlatTransaction, keys *KeyIndex, runID string) (*models.FactTransaction, *errors.PipelineError) {
	customerSKey, ok := keys.Customers[row.CustomerID]
	if !ok {
		return nil, dimensionMiss("customer", row.CustomerID, row)
	}

	loc := LocationRow(row)
	if loc == nil {
		return nil, dimensionMiss("location", nil, row)
	}
	locationSKey, ok := keys.Locations[loc.CombinationKey]
	if !ok {
		return nil, dimensionMiss("location", loc.Description, row)
	}

	merchant := MerchantRow(row)
	if merchant == nil {
		return nil, dimensionMiss("merchant", nil, row)
	}
	merchantSKey, ok := keys.Merchants[merchant.CombinationKey]
	if !ok {
		return nil, dimensionMiss("merchant", row.MerchantID, row)
	}

	device := DeviceRow(row)
	if device == nil {
		return nil, dimensionMiss("device", nil, row)
	}
	deviceSKey, ok := keys.Devices[device.CombinationKey]
	if !ok {
		return nil, dimensionMiss("device", device.DeviceName+"/"+device.DeviceTypeName, row)
	}

	other := OtherAttributesRow(row)
	otherSKey, ok := keys.OtherAttributes[other.CombinationKey]
	if !ok {
		return nil, dimensionMiss("other attributes", other.CombinationKey, row)
	}

	fraud := 0
	if row.IsFraud {
		fraud = 1
	}

	return &models.FactTransaction{
		DateSKey:              DateSKey(row.TransactionDateTime),
		CustomerSKey:          customerSKey,
		LocationSKey:          locationSKey,
		MerchantSKey:          merchantSKey,
		DeviceSKey:            deviceSKey,
		OtherAttributesSKey:   otherSKey,
		TransactionAmount:     row.Amount,
		IsFraudIndicator:      fraud,
		TransactionCount:      1,
		OriginalTransactionID: row.TransactionID,
		LoadRunID:             runID,
	}, nil
}

func dimensionMiss(target string, key interface{}, row *repository.FlatTransaction) *errors.PipelineError {
	return errors.ResolutionError(errors.CodeDimensionMiss, target, key).
		WithContext("transaction_id", row.TransactionID)
}

// BuildFacts builds a fact for every row whose dimensions resolve. Rows
// that do not resolve are recorded in collector and left out.
func BuildFacts(rows []repository.FlatTransaction, keys *KeyIndex, runID string, collector *errors.RowErrorCollector) []*models.FactTransaction {
	facts := make([]*models.FactTransaction, 0, len(rows))
	for i := range rows {
		fact, err := BuildFact(&rows[i], keys, runID)
		if err != nil {
			collector.Add(0, err)
			continue
		}
		facts = append(facts, fact)
	}
	return facts
}
