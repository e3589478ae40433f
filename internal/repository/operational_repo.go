// Package repository persists the normalized schema and the star schema
// through gorm.
package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/pkg/errors"
)

const lookupBatchSize = 1000

// OperationalRepository reads and writes the normalized schema
type OperationalRepository interface {
	Migrate(ctx context.Context) error
	// Reset drops every normalized table and recreates it empty.
	Reset(ctx context.Context) error

	SaveLookupNames(ctx context.Context, table string, names []string) error
	LoadLookup(ctx context.Context, table string) ([]models.LookupEntity, error)

	SaveCustomers(ctx context.Context, customers []*models.Customer, batchSize int) error
	SaveMerchants(ctx context.Context, merchants []*models.Merchant, batchSize int) error
	SaveDevices(ctx context.Context, devices []*models.Device) error
	LoadDevices(ctx context.Context) ([]models.Device, error)
	SaveTransactionBatch(ctx context.Context, txns []*models.Transaction) error

	FlatTransactions(ctx context.Context) ([]FlatTransaction, error)
	// FlatColumns returns the export column names of the flat query.
	FlatColumns(ctx context.Context) ([]string, error)
	Counts(ctx context.Context) (map[string]int64, error)
}

type operationalRepository struct {
	db *gorm.DB
}

func NewOperationalRepository(db *gorm.DB) OperationalRepository {
	return &operationalRepository{db: db}
}

func (r *operationalRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(models.OperationalModels()...); err != nil {
		return errors.PersistenceError(errors.CodeMigrationFailed, "normalized schema", err)
	}
	return nil
}

func (r *operationalRepository) Reset(ctx context.Context) error {
	tables := models.OperationalModels()
	reversed := make([]interface{}, 0, len(tables))
	for i := len(tables) - 1; i >= 0; i-- {
		reversed = append(reversed, tables[i])
	}

	if err := r.db.WithContext(ctx).Migrator().DropTable(reversed...); err != nil {
		return errors.PersistenceError(errors.CodeMigrationFailed, "normalized schema reset", err)
	}
	return r.Migrate(ctx)
}

func (r *operationalRepository) SaveLookupNames(ctx context.Context, table string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	rows := make([]models.LookupEntity, len(names))
	for i, name := range names {
		rows[i] = models.LookupEntity{Name: name}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Table(table).
			Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(&rows, lookupBatchSize).Error
	})
	if err != nil {
		return errors.PersistenceError(errors.CodeBatchCommit, "lookup "+table, err).
			WithContext("rows", len(rows))
	}
	return nil
}

func (r *operationalRepository) LoadLookup(ctx context.Context, table string) ([]models.LookupEntity, error) {
	var rows []models.LookupEntity
	if err := r.db.WithContext(ctx).Table(table).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.PersistenceError(errors.CodeQueryFailed, "lookup "+table, err)
	}
	return rows, nil
}

func (r *operationalRepository) SaveCustomers(ctx context.Context, customers []*models.Customer, batchSize int) error {
	if len(customers) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(customers, batchSize).Error
	})
	if err != nil {
		return errors.PersistenceError(errors.CodeBatchCommit, "customer load", err).
			WithContext("rows", len(customers))
	}
	return nil
}

func (r *operationalRepository) SaveMerchants(ctx context.Context, merchants []*models.Merchant, batchSize int) error {
	if len(merchants) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(merchants, batchSize).Error
	})
	if err != nil {
		return errors.PersistenceError(errors.CodeBatchCommit, "merchant load", err).
			WithContext("rows", len(merchants))
	}
	return nil
}

func (r *operationalRepository) SaveDevices(ctx context.Context, devices []*models.Device) error {
	if len(devices) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(devices, lookupBatchSize).Error
	})
	if err != nil {
		return errors.PersistenceError(errors.CodeBatchCommit, "device load", err).
			WithContext("rows", len(devices))
	}
	return nil
}

func (r *operationalRepository) LoadDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := r.db.WithContext(ctx).Order("id").Find(&devices).Error; err != nil {
		return nil, errors.PersistenceError(errors.CodeQueryFailed, "device read-back", err)
	}
	return devices, nil
}

// SaveTransactionBatch inserts txns in a single database transaction
func (r *operationalRepository) SaveTransactionBatch(ctx context.Context, txns []*models.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(txns).Error
	})
}

func (r *operationalRepository) FlatTransactions(ctx context.Context) ([]FlatTransaction, error) {
	var rows []FlatTransaction
	if err := flatQuery(r.db.WithContext(ctx)).Scan(&rows).Error; err != nil {
		return nil, errors.PersistenceError(errors.CodeQueryFailed, "flat transaction query", err)
	}
	return rows, nil
}

func (r *operationalRepository) FlatColumns(ctx context.Context) ([]string, error) {
	return flatColumns(ctx, r.db)
}

func (r *operationalRepository) Counts(ctx context.Context) (map[string]int64, error) {
	return countTables(r.db.WithContext(ctx), models.OperationalModels())
}

type tabler interface {
	TableName() string
}

func countTables(db *gorm.DB, tables []interface{}) (map[string]int64, error) {
	counts := make(map[string]int64, len(tables))
	for _, model := range tables {
		var n int64
		if err := db.Model(model).Count(&n).Error; err != nil {
			return nil, errors.PersistenceError(errors.CodeQueryFailed, "row count", err)
		}
		counts[model.(tabler).TableName()] = n
	}
	return counts, nil
}
