// Package operational builds the normalized schema: customers, merchants,
// devices and transactions with foreign keys into the lookup tables.
package operational

import (
	"context"
	"fmt"
	"time"

	"bank-fraud-etl/internal/lookup"
	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/pkg/errors"
	"bank-fraud-etl/pkg/logger"
)

// DefaultBatchSize is the number of transactions committed per batch.
const DefaultBatchSize = 5000

// Store persists normalized entities. Each call commits on its own.
type Store interface {
	SaveCustomers(ctx context.Context, customers []*models.Customer, batchSize int) error
	SaveMerchants(ctx context.Context, merchants []*models.Merchant, batchSize int) error
	SaveDevices(ctx context.Context, devices []*models.Device) error
	LoadDevices(ctx context.Context) ([]models.Device, error)
	// SaveTransactionBatch commits txns atomically.
	SaveTransactionBatch(ctx context.Context, txns []*models.Transaction) error
}

// Config controls the builder
type Config struct {
	BatchSize       int `json:"batch_size"`
	MaxErrorSamples int `json:"max_error_samples"`
}

// DefaultConfig returns the default builder configuration
func DefaultConfig() *Config {
	return &Config{BatchSize: DefaultBatchSize, MaxErrorSamples: 20}
}

// Stats counts what the builder produced and skipped
type Stats struct {
	Customers         int `json:"customers" yaml:"customers"`
	CustomerConflicts int `json:"customer_conflicts" yaml:"customer_conflicts"`
	Merchants         int `json:"merchants" yaml:"merchants"`
	MerchantConflicts int `json:"merchant_conflicts" yaml:"merchant_conflicts"`
	Devices           int `json:"devices" yaml:"devices"`
	Transactions      int `json:"transactions" yaml:"transactions"`
	SkippedMissingKey int `json:"skipped_missing_key" yaml:"skipped_missing_key"`
	SkippedDuplicate  int `json:"skipped_duplicate" yaml:"skipped_duplicate"`
	SkippedUnresolved int `json:"skipped_unresolved" yaml:"skipped_unresolved"`
	NullDevices       int `json:"null_devices" yaml:"null_devices"`
	Batches           int `json:"batches" yaml:"batches"`
}

// Result is the outcome of a builder run
type Result struct {
	Stats  *Stats
	Errors *errors.ErrorSummary
}

// Builder loads the normalized entities
type Builder struct {
	store  Store
	config *Config
	logger logger.Logger
}

// NewBuilder creates a Builder persisting through store
func NewBuilder(store Store, config *Config) *Builder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return &Builder{
		store:  store,
		config: config,
		logger: logger.WithComponent("operational_builder"),
	}
}

// Load builds and persists every entity. Customers, merchants and devices
// are committed before any transaction. Transactions are committed in
// batches; a failed batch stops the load with a PersistenceError and the
// batches before it stay committed. The returned Result is non-nil even
// when err is set.
func (b *Builder) Load(ctx context.Context, records []*models.CleanRecord, mappings *lookup.Mappings) (*Result, error) {
	collector := errors.NewRowErrorCollector(b.config.MaxErrorSamples)
	stats := &Stats{}
	result := func() *Result { return &Result{Stats: stats, Errors: collector.Summary()} }

	customers, customerConflicts := BuildCustomers(records, mappings, collector)
	stats.CustomerConflicts = customerConflicts
	if err := b.store.SaveCustomers(ctx, customers, b.config.BatchSize); err != nil {
		return result(), err
	}
	stats.Customers = len(customers)

	merchants, merchantConflicts := BuildMerchants(records, mappings, collector)
	stats.MerchantConflicts = merchantConflicts
	if err := b.store.SaveMerchants(ctx, merchants, b.config.BatchSize); err != nil {
		return result(), err
	}
	stats.Merchants = len(merchants)

	devices := BuildDevices(records, mappings, collector)
	if err := b.store.SaveDevices(ctx, devices); err != nil {
		return result(), err
	}
	persisted, err := b.store.LoadDevices(ctx)
	if err != nil {
		return result(), err
	}
	stats.Devices = len(devices)

	if customerConflicts > 0 || merchantConflicts > 0 {
		b.logger.WithFields(logger.Fields{
			"customer_conflicts": customerConflicts,
			"merchant_conflicts": merchantConflicts,
		}).Warn("Later occurrences disagreed with the first; first occurrence kept")
	}

	refs := TransactionRefs{
		Customers: make(map[string]bool, len(customers)),
		Merchants: make(map[string]bool, len(merchants)),
		Devices:   DeviceIndex(persisted, mappings),
	}
	for _, c := range customers {
		refs.Customers[c.ID] = true
	}
	for _, m := range merchants {
		refs.Merchants[m.ID] = true
	}

	build := BuildTransactions(records, mappings, refs, collector)
	stats.SkippedMissingKey = build.SkippedMissingKey
	stats.SkippedDuplicate = build.SkippedDuplicate
	stats.SkippedUnresolved = build.SkippedUnresolved
	stats.NullDevices = build.NullDevices
	for _, key := range build.UnresolvedDevices {
		b.logger.WithFields(logger.Fields{
			"device_name": key.Name,
			"device_type": key.Type,
		}).Warn("Device could not be resolved; transactions store a null device")
	}

	err = b.commitTransactions(ctx, build.Transactions, stats)
	return result(), err
}

func (b *Builder) commitTransactions(ctx context.Context, txns []*models.Transaction, stats *Stats) error {
	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "transactions",
		Total:       int64(len(txns)),
		LogInterval: 5 * time.Second,
		Logger:      b.logger,
	})

	size := b.config.BatchSize
	for offset := 0; offset < len(txns); offset += size {
		end := offset + size
		if end > len(txns) {
			end = len(txns)
		}
		batch := txns[offset:end]

		if err := b.store.SaveTransactionBatch(ctx, batch); err != nil {
			perr := errors.PersistenceError(errors.CodeBatchCommit, "transaction load", err).
				WithContext("batch_offset", offset).
				WithContext("batch_size", len(batch)).
				WithContext("first_key", batch[0].TransactionID).
				WithContext("last_key", batch[len(batch)-1].TransactionID).
				WithContext("committed_rows", stats.Transactions).
				WithSuggestion(fmt.Sprintf("rows before offset %d are committed; fix the cause and re-run the load", offset))
			progress.CompleteWithError(perr)
			return perr
		}

		stats.Transactions += len(batch)
		stats.Batches++
		progress.BatchCommitted(len(batch))
	}

	progress.Complete()
	return nil
}
