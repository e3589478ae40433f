// Package warehouse derives the star schema from the normalized schema: the
// date dimension, the versioned customer dimension, the static dimensions
// and the fact table.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/internal/repository"
	"bank-fraud-etl/pkg/errors"
	"bank-fraud-etl/pkg/logger"
)

// Source reads the normalized transactions in flat form
type Source interface {
	FlatTransactions(ctx context.Context) ([]repository.FlatTransaction, error)
}

// Store writes the star schema
type Store interface {
	EnsureDates(ctx context.Context, dates []models.DimDate) (int64, error)
	OpenCustomerVersions(ctx context.Context) (map[string]models.DimCustomer, error)
	ApplyCustomerChanges(ctx context.Context, closes []repository.CustomerClose, inserts []*models.DimCustomer) error
	EnsureLocations(ctx context.Context, rows []*models.DimLocation) (map[string]uint64, error)
	EnsureMerchants(ctx context.Context, rows []*models.DimMerchant) (map[string]uint64, error)
	EnsureDevices(ctx context.Context, rows []*models.DimDevice) (map[string]uint64, error)
	EnsureOtherAttributes(ctx context.Context, rows []*models.DimOtherTransactionAttributes) (map[string]uint64, error)
	SaveFactBatch(ctx context.Context, facts []*models.FactTransaction) (int64, error)
}

// Config controls the transformer
type Config struct {
	BatchSize int `json:"batch_size"`
	// FillCalendar adds every date between the first and last transaction
	// date to the date dimension.
	FillCalendar    bool `json:"fill_calendar"`
	MaxErrorSamples int  `json:"max_error_samples"`
}

// DefaultConfig returns the default transformer configuration
func DefaultConfig() *Config {
	return &Config{BatchSize: 5000, MaxErrorSamples: 20}
}

// Stats counts what one transformer run wrote
type Stats struct {
	SourceRows         int   `json:"source_rows" yaml:"source_rows"`
	DatesInserted      int64 `json:"dates_inserted" yaml:"dates_inserted"`
	CustomersNew       int   `json:"customers_new" yaml:"customers_new"`
	CustomersChanged   int   `json:"customers_changed" yaml:"customers_changed"`
	CustomersUnchanged int   `json:"customers_unchanged" yaml:"customers_unchanged"`
	Locations          int   `json:"locations" yaml:"locations"`
	Merchants          int   `json:"merchants" yaml:"merchants"`
	Devices            int   `json:"devices" yaml:"devices"`
	OtherAttributes    int   `json:"other_attributes" yaml:"other_attributes"`
	FactsBuilt         int   `json:"facts_built" yaml:"facts_built"`
	FactsInserted      int64 `json:"facts_inserted" yaml:"facts_inserted"`
	FactsAlreadyLoaded int64 `json:"facts_already_loaded" yaml:"facts_already_loaded"`
	FactsSkipped       int   `json:"facts_skipped" yaml:"facts_skipped"`
	Batches            int   `json:"batches" yaml:"batches"`
}

// Result is the outcome of a transformer run
type Result struct {
	Stats  *Stats
	Errors *errors.ErrorSummary
}

// Transformer loads the star schema from the normalized schema
type Transformer struct {
	source Source
	store  Store
	config *Config
	logger logger.Logger
}

// NewTransformer creates a Transformer reading from source and writing to store
func NewTransformer(source Source, store Store, config *Config) *Transformer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 5000
	}
	return &Transformer{
		source: source,
		store:  store,
		config: config,
		logger: logger.WithComponent("dimensional_transformer"),
	}
}

// Run derives every dimension and the facts. Dimensions are committed
// before any fact; facts are committed in batches and a failed batch stops
// the run with the earlier batches committed. The returned Result is
// non-nil even when err is set.
func (t *Transformer) Run(ctx context.Context, loadTime time.Time, runID string) (*Result, error) {
	collector := errors.NewRowErrorCollector(t.config.MaxErrorSamples)
	stats := &Stats{}
	result := func() *Result { return &Result{Stats: stats, Errors: collector.Summary()} }

	rows, err := t.source.FlatTransactions(ctx)
	if err != nil {
		return result(), err
	}
	stats.SourceRows = len(rows)

	times := make([]time.Time, len(rows))
	for i, row := range rows {
		times[i] = row.TransactionDateTime
	}
	if stats.DatesInserted, err = t.store.EnsureDates(ctx, BuildDateDimension(times, t.config.FillCalendar)); err != nil {
		return result(), err
	}

	customers, err := t.loadCustomers(ctx, rows, loadTime, runID, stats)
	if err != nil {
		return result(), err
	}

	keys, err := t.loadStatic(ctx, rows, stats)
	if err != nil {
		return result(), err
	}
	keys.Customers = customers

	facts := BuildFacts(rows, keys, runID, collector)
	stats.FactsBuilt = len(facts)
	stats.FactsSkipped = len(rows) - len(facts)
	if stats.FactsSkipped > 0 {
		t.logger.WithField("skipped", stats.FactsSkipped).Warn("Transactions without a resolvable dimension were left out of the fact table")
	}

	err = t.commitFacts(ctx, facts, stats)
	return result(), err
}

// loadCustomers applies the customer version changes and returns the open
// version of every business key.
func (t *Transformer) loadCustomers(ctx context.Context, rows []repository.FlatTransaction, loadTime time.Time, runID string, stats *Stats) (map[string]uint64, error) {
	open, err := t.store.OpenCustomerVersions(ctx)
	if err != nil {
		return nil, err
	}

	plan := PlanCustomerVersions(open, SnapshotsFromFlat(rows), loadTime, runID)
	if err := t.store.ApplyCustomerChanges(ctx, plan.Closes, plan.Inserts); err != nil {
		return nil, err
	}
	stats.CustomersNew = plan.New
	stats.CustomersChanged = plan.Changed
	stats.CustomersUnchanged = plan.Unchanged

	t.logger.WithFields(logger.Fields{
		"new":       plan.New,
		"changed":   plan.Changed,
		"unchanged": plan.Unchanged,
	}).Info("Customer dimension updated")

	if open, err = t.store.OpenCustomerVersions(ctx); err != nil {
		return nil, err
	}
	keys := make(map[string]uint64, len(open))
	for key, row := range open {
		keys[key] = row.ID
	}
	return keys, nil
}

func (t *Transformer) loadStatic(ctx context.Context, rows []repository.FlatTransaction, stats *Stats) (*KeyIndex, error) {
	dims := BuildStaticDimensions(rows)
	keys := &KeyIndex{}
	var err error

	if keys.Locations, err = t.store.EnsureLocations(ctx, dims.Locations); err != nil {
		return nil, err
	}
	if keys.Merchants, err = t.store.EnsureMerchants(ctx, dims.Merchants); err != nil {
		return nil, err
	}
	if keys.Devices, err = t.store.EnsureDevices(ctx, dims.Devices); err != nil {
		return nil, err
	}
	if keys.OtherAttributes, err = t.store.EnsureOtherAttributes(ctx, dims.OtherAttributes); err != nil {
		return nil, err
	}

	stats.Locations = len(dims.Locations)
	stats.Merchants = len(dims.Merchants)
	stats.Devices = len(dims.Devices)
	stats.OtherAttributes = len(dims.OtherAttributes)
	return keys, nil
}

func (t *Transformer) commitFacts(ctx context.Context, facts []*models.FactTransaction, stats *Stats) error {
	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "facts",
		Total:     int64(len(facts)),
		Logger:    t.logger,
	})

	size := t.config.BatchSize
	for offset := 0; offset < len(facts); offset += size {
		end := offset + size
		if end > len(facts) {
			end = len(facts)
		}
		batch := facts[offset:end]

		inserted, err := t.store.SaveFactBatch(ctx, batch)
		if err != nil {
			perr := errors.PersistenceError(errors.CodeBatchCommit, "fact load", err).
				WithContext("batch_offset", offset).
				WithContext("batch_size", len(batch)).
				WithContext("first_key", batch[0].OriginalTransactionID).
				WithContext("last_key", batch[len(batch)-1].OriginalTransactionID).
				WithSuggestion(fmt.Sprintf("facts before offset %d are committed; re-running skips them", offset))
			progress.CompleteWithError(perr)
			return perr
		}

		stats.FactsInserted += inserted
		stats.FactsAlreadyLoaded += int64(len(batch)) - inserted
		stats.Batches++
		progress.BatchCommitted(len(batch))
	}

	progress.Complete()
	return nil
}
