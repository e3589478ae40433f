package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/pkg/errors"
)

const keyChunkSize = 500

// CustomerClose ends an open customer version
type CustomerClose struct {
	SKey    uint64
	ValidTo time.Time
}

// WarehouseRepository reads and writes the star schema
type WarehouseRepository interface {
	Migrate(ctx context.Context) error

	// EnsureDates inserts the dates that are not present yet and returns
	// how many were new.
	EnsureDates(ctx context.Context, dates []models.DimDate) (int64, error)

	OpenCustomerVersions(ctx context.Context) (map[string]models.DimCustomer, error)
	// ApplyCustomerChanges closes and inserts customer versions in one
	// database transaction.
	ApplyCustomerChanges(ctx context.Context, closes []CustomerClose, inserts []*models.DimCustomer) error
	CustomerVersions(ctx context.Context, originalCustomerID string) ([]models.DimCustomer, error)

	// The Ensure methods insert rows whose combination key is new and return
	// the surrogate key of every requested combination key.
	EnsureLocations(ctx context.Context, rows []*models.DimLocation) (map[string]uint64, error)
	EnsureMerchants(ctx context.Context, rows []*models.DimMerchant) (map[string]uint64, error)
	EnsureDevices(ctx context.Context, rows []*models.DimDevice) (map[string]uint64, error)
	EnsureOtherAttributes(ctx context.Context, rows []*models.DimOtherTransactionAttributes) (map[string]uint64, error)

	// SaveFactBatch inserts facts in one database transaction, skipping
	// transactions that already have a fact, and returns the rows inserted.
	SaveFactBatch(ctx context.Context, facts []*models.FactTransaction) (int64, error)

	RecordRun(ctx context.Context, run *models.LoadRun) error
	LoadRuns(ctx context.Context, runID string) ([]models.LoadRun, error)
	Counts(ctx context.Context) (map[string]int64, error)
}

type warehouseRepository struct {
	db *gorm.DB
}

func NewWarehouseRepository(db *gorm.DB) WarehouseRepository {
	return &warehouseRepository{db: db}
}

func (r *warehouseRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(models.WarehouseModels()...); err != nil {
		return errors.PersistenceError(errors.CodeMigrationFailed, "star schema", err)
	}
	return nil
}

func (r *warehouseRepository) EnsureDates(ctx context.Context, dates []models.DimDate) (int64, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	var inserted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&dates, keyChunkSize)
		inserted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, errors.PersistenceError(errors.CodeBatchCommit, "date dimension", err)
	}
	return inserted, nil
}

func (r *warehouseRepository) OpenCustomerVersions(ctx context.Context) (map[string]models.DimCustomer, error) {
	var rows []models.DimCustomer
	if err := r.db.WithContext(ctx).Where("valid_to_date IS NULL").Find(&rows).Error; err != nil {
		return nil, errors.PersistenceError(errors.CodeQueryFailed, "open customer versions", err)
	}

	open := make(map[string]models.DimCustomer, len(rows))
	for _, row := range rows {
		open[row.OriginalCustomerID] = row
	}
	return open, nil
}

func (r *warehouseRepository) ApplyCustomerChanges(ctx context.Context, closes []CustomerClose, inserts []*models.DimCustomer) error {
	if len(closes) == 0 && len(inserts) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range closes {
			res := tx.Model(&models.DimCustomer{}).
				Where("customer_skey = ? AND valid_to_date IS NULL", c.SKey).
				Update("valid_to_date", c.ValidTo)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return fmt.Errorf("customer version %d is no longer open", c.SKey)
			}
		}
		if len(inserts) > 0 {
			return tx.CreateInBatches(inserts, keyChunkSize).Error
		}
		return nil
	})
	if err != nil {
		return errors.PersistenceError(errors.CodeBatchCommit, "customer dimension", err).
			WithContext("closed_versions", len(closes)).
			WithContext("new_versions", len(inserts))
	}
	return nil
}

func (r *warehouseRepository) CustomerVersions(ctx context.Context, originalCustomerID string) ([]models.DimCustomer, error) {
	var rows []models.DimCustomer
	err := r.db.WithContext(ctx).
		Where("original_customer_id = ?", originalCustomerID).
		Order("row_version").
		Find(&rows).Error
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeQueryFailed, "customer versions", err)
	}
	return rows, nil
}

func (r *warehouseRepository) EnsureLocations(ctx context.Context, rows []*models.DimLocation) (map[string]uint64, error) {
	keys := make([]string, len(rows))
	for i, row := range rows {
		keys[i] = row.CombinationKey
	}
	return ensureByCombinationKey(r.db.WithContext(ctx), &models.DimLocation{}, "location_skey", rows, keys)
}

func (r *warehouseRepository) EnsureMerchants(ctx context.Context, rows []*models.DimMerchant) (map[string]uint64, error) {
	keys := make([]string, len(rows))
	for i, row := range rows {
		keys[i] = row.CombinationKey
	}
	return ensureByCombinationKey(r.db.WithContext(ctx), &models.DimMerchant{}, "merchant_skey", rows, keys)
}

func (r *warehouseRepository) EnsureDevices(ctx context.Context, rows []*models.DimDevice) (map[string]uint64, error) {
	keys := make([]string, len(rows))
	for i, row := range rows {
		keys[i] = row.CombinationKey
	}
	return ensureByCombinationKey(r.db.WithContext(ctx), &models.DimDevice{}, "device_skey", rows, keys)
}

func (r *warehouseRepository) EnsureOtherAttributes(ctx context.Context, rows []*models.DimOtherTransactionAttributes) (map[string]uint64, error) {
	keys := make([]string, len(rows))
	for i, row := range rows {
		keys[i] = row.CombinationKey
	}
	return ensureByCombinationKey(r.db.WithContext(ctx), &models.DimOtherTransactionAttributes{}, "other_attributes_skey", rows, keys)
}

type keyRow struct {
	SKey           uint64 `gorm:"column:skey"`
	CombinationKey string `gorm:"column:combination_key"`
}

// ensureByCombinationKey inserts rows, ignoring combination keys that are
// already present, then reads the surrogate key of every key back.
func ensureByCombinationKey[T any](db *gorm.DB, model *T, pk string, rows []*T, keys []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(keys))
	if len(rows) == 0 {
		return out, nil
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "combination_key"}},
			DoNothing: true,
		}).CreateInBatches(rows, keyChunkSize).Error
	})
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeBatchCommit, "dimension insert", err).
			WithContext("rows", len(rows))
	}

	for start := 0; start < len(keys); start += keyChunkSize {
		end := start + keyChunkSize
		if end > len(keys) {
			end = len(keys)
		}

		var found []keyRow
		err := db.Model(model).
			Select(pk+" AS skey, combination_key").
			Where("combination_key IN ?", keys[start:end]).
			Scan(&found).Error
		if err != nil {
			return nil, errors.PersistenceError(errors.CodeQueryFailed, "dimension read-back", err)
		}
		for _, row := range found {
			out[row.CombinationKey] = row.SKey
		}
	}
	return out, nil
}

func (r *warehouseRepository) SaveFactBatch(ctx context.Context, facts []*models.FactTransaction) (int64, error) {
	if len(facts) == 0 {
		return 0, nil
	}
	var inserted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "original_transaction_id"}},
			DoNothing: true,
		}).Create(facts)
		inserted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// RecordRun inserts the audit row of a stage or updates it when the stage
// of that run is already recorded.
func (r *warehouseRepository) RecordRun(ctx context.Context, run *models.LoadRun) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "stage"}},
		DoUpdates: clause.AssignmentColumns([]string{"finished_at", "status", "stats", "error"}),
	}).Create(run).Error
	if err != nil {
		return errors.PersistenceError(errors.CodeQueryFailed, "load run audit", err).
			WithContext("run_id", run.RunID).
			WithContext("stage", run.Stage)
	}
	return nil
}

func (r *warehouseRepository) LoadRuns(ctx context.Context, runID string) ([]models.LoadRun, error) {
	var runs []models.LoadRun
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&runs).Error; err != nil {
		return nil, errors.PersistenceError(errors.CodeQueryFailed, "load run audit", err)
	}
	return runs, nil
}

func (r *warehouseRepository) Counts(ctx context.Context) (map[string]int64, error) {
	return countTables(r.db.WithContext(ctx), models.WarehouseModels())
}
