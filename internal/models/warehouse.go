package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// DimDate has one immutable row per calendar date; its key is YYYYMMDD.
type DimDate struct {
	ID            int       `gorm:"column:date_skey;primaryKey;autoIncrement:false"`
	FullDate      time.Time `gorm:"column:full_date;not null;uniqueIndex"`
	Year          int       `gorm:"column:year;not null"`
	Quarter       int       `gorm:"column:quarter;not null"`
	MonthOfYear   int       `gorm:"column:month_of_year;not null"`
	MonthName     string    `gorm:"column:month_name;type:varchar(12);not null"`
	DayOfMonth    int       `gorm:"column:day_of_month;not null"`
	DayOfWeekName string    `gorm:"column:day_of_week_name;type:varchar(12);not null"`
	IsWeekend     bool      `gorm:"column:is_weekend;not null"`
}

func (DimDate) TableName() string { return "dim_date" }

// DimCustomer is a type 2 slowly changing dimension. ValidTo is nil for the
// open version; at most one version per business key is open.
type DimCustomer struct {
	ID                 uint64     `gorm:"column:customer_skey;primaryKey;autoIncrement"`
	OriginalCustomerID string     `gorm:"column:original_customer_id;type:varchar(64);not null;index;uniqueIndex:uq_dim_customer_version"`
	CustomerName       string     `gorm:"column:customer_name;type:varchar(150)"`
	Gender             string     `gorm:"column:gender;type:varchar(16)"`
	Age                *int       `gorm:"column:age"`
	City               string     `gorm:"column:city;type:varchar(100)"`
	State              string     `gorm:"column:state;type:varchar(100)"`
	CustomerContact    string     `gorm:"column:customer_contact;type:varchar(50)"`
	CustomerEmail      string     `gorm:"column:customer_email;type:varchar(150)"`
	AccountTypeName    string     `gorm:"column:account_type_name;type:varchar(150)"`
	BankBranchName     string     `gorm:"column:bank_branch_name;type:varchar(150)"`
	RowHash            string     `gorm:"column:row_hash;type:char(64);not null"`
	RowVersion         int        `gorm:"column:row_version;not null;uniqueIndex:uq_dim_customer_version"`
	ValidFrom          time.Time  `gorm:"column:valid_from_date;not null"`
	ValidTo            *time.Time `gorm:"column:valid_to_date;index"`
	LoadRunID          string     `gorm:"column:load_run_id;type:varchar(36)"`
}

func (DimCustomer) TableName() string { return "dim_customer" }

// IsOpen reports whether the version is the current one.
func (d *DimCustomer) IsOpen() bool {
	return d.ValidTo == nil
}

type DimLocation struct {
	ID             uint64  `gorm:"column:location_skey;primaryKey;autoIncrement"`
	CombinationKey string  `gorm:"column:combination_key;type:char(64);not null;uniqueIndex"`
	Description    string  `gorm:"column:transaction_location_description;type:varchar(150);not null"`
	City           *string `gorm:"column:transaction_city;type:varchar(100)"`
	State          *string `gorm:"column:transaction_state;type:varchar(100)"`
}

func (DimLocation) TableName() string { return "dim_location" }

type DimMerchant struct {
	ID                   uint64  `gorm:"column:merchant_skey;primaryKey;autoIncrement"`
	CombinationKey       string  `gorm:"column:combination_key;type:char(64);not null;uniqueIndex"`
	OriginalMerchantID   string  `gorm:"column:original_merchant_id;type:varchar(64);not null"`
	MerchantCategoryName *string `gorm:"column:merchant_category_name;type:varchar(150)"`
}

func (DimMerchant) TableName() string { return "dim_merchant" }

type DimDevice struct {
	ID             uint64 `gorm:"column:device_skey;primaryKey;autoIncrement"`
	CombinationKey string `gorm:"column:combination_key;type:char(64);not null;uniqueIndex"`
	DeviceName     string `gorm:"column:device_name;type:varchar(100);not null"`
	DeviceTypeName string `gorm:"column:device_type_name;type:varchar(150);not null"`
}

func (DimDevice) TableName() string { return "dim_device" }

// DimOtherTransactionAttributes is a junk dimension; any attribute may be nil.
type DimOtherTransactionAttributes struct {
	ID                   uint64  `gorm:"column:other_attributes_skey;primaryKey;autoIncrement"`
	CombinationKey       string  `gorm:"column:combination_key;type:char(64);not null;uniqueIndex"`
	TransactionTypeName  *string `gorm:"column:transaction_type_name;type:varchar(150)"`
	MerchantCategoryName *string `gorm:"column:merchant_category_name;type:varchar(150)"`
	AccountTypeName      *string `gorm:"column:account_type_name;type:varchar(150)"`
	BankBranchName       *string `gorm:"column:bank_branch_name;type:varchar(150)"`
	CurrencyCode         *string `gorm:"column:currency_code;type:varchar(150)"`
}

func (DimOtherTransactionAttributes) TableName() string { return "dim_other_transaction_attributes" }

// FactTransaction rows are insert-only and unique per source transaction.
type FactTransaction struct {
	ID                    uint64          `gorm:"column:fact_transaction_skey;primaryKey;autoIncrement"`
	DateSKey              int             `gorm:"column:date_skey_fk;not null;index"`
	CustomerSKey          uint64          `gorm:"column:customer_skey_fk;not null;index"`
	LocationSKey          uint64          `gorm:"column:location_skey_fk;not null;index"`
	MerchantSKey          uint64          `gorm:"column:merchant_skey_fk;not null;index"`
	DeviceSKey            uint64          `gorm:"column:device_skey_fk;not null;index"`
	OtherAttributesSKey   uint64          `gorm:"column:other_attributes_skey_fk;not null;index"`
	TransactionAmount     decimal.Decimal `gorm:"column:transaction_amount;type:decimal(20,6);not null"`
	IsFraudIndicator      int             `gorm:"column:is_fraud_indicator;not null"`
	TransactionCount      int             `gorm:"column:transaction_count;not null;default:1"`
	OriginalTransactionID string          `gorm:"column:original_transaction_id;type:varchar(64);not null;uniqueIndex"`
	LoadRunID             string          `gorm:"column:load_run_id;type:varchar(36)"`

	Date            *DimDate                       `gorm:"foreignKey:DateSKey"`
	Customer        *DimCustomer                   `gorm:"foreignKey:CustomerSKey"`
	Location        *DimLocation                   `gorm:"foreignKey:LocationSKey"`
	Merchant        *DimMerchant                   `gorm:"foreignKey:MerchantSKey"`
	Device          *DimDevice                     `gorm:"foreignKey:DeviceSKey"`
	OtherAttributes *DimOtherTransactionAttributes `gorm:"foreignKey:OtherAttributesSKey"`
}

func (FactTransaction) TableName() string { return "fact_transaction" }

// Load run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// LoadRun audits one execution of a pipeline stage.
type LoadRun struct {
	ID         uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string         `gorm:"column:run_id;type:varchar(36);not null;uniqueIndex:uq_load_run_stage"`
	Stage      string         `gorm:"column:stage;type:varchar(32);not null;uniqueIndex:uq_load_run_stage"`
	StartedAt  time.Time      `gorm:"column:started_at;not null"`
	FinishedAt *time.Time     `gorm:"column:finished_at"`
	Status     string         `gorm:"column:status;type:varchar(16);not null"`
	Stats      datatypes.JSON `gorm:"column:stats"`
	Error      *string        `gorm:"column:error;type:text"`
}

func (LoadRun) TableName() string { return "etl_load_run" }

// WarehouseModels lists the star schema tables in dependency order.
func WarehouseModels() []interface{} {
	return []interface{}{
		&DimDate{}, &DimCustomer{}, &DimLocation{}, &DimMerchant{},
		&DimDevice{}, &DimOtherTransactionAttributes{}, &FactTransaction{},
		&LoadRun{},
	}
}
