package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LookupEntity is one distinct value of a categorical family. Every lookup
// table shares this shape; the family determines the table.
type LookupEntity struct {
	ID   uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	Name string `gorm:"column:name;type:varchar(150);uniqueIndex;not null"`
}

type AccountType struct{ LookupEntity }

func (AccountType) TableName() string { return "account_type" }

type BankBranch struct{ LookupEntity }

func (BankBranch) TableName() string { return "bank_branch" }

type MerchantCategory struct{ LookupEntity }

func (MerchantCategory) TableName() string { return "merchant_category" }

type DeviceType struct{ LookupEntity }

func (DeviceType) TableName() string { return "device_type" }

type Location struct{ LookupEntity }

func (Location) TableName() string { return "location" }

type Currency struct{ LookupEntity }

func (Currency) TableName() string { return "currency" }

type TransactionType struct{ LookupEntity }

func (TransactionType) TableName() string { return "transaction_type" }

// Customer is keyed by its business key; attributes come from the first
// occurrence in the input.
type Customer struct {
	ID            string  `gorm:"column:customer_id;type:varchar(64);primaryKey"`
	Name          string  `gorm:"column:name;type:varchar(150)"`
	Gender        string  `gorm:"column:gender;type:varchar(16)"`
	Age           *int    `gorm:"column:age"`
	State         string  `gorm:"column:state;type:varchar(100)"`
	City          string  `gorm:"column:city;type:varchar(100)"`
	Contact       string  `gorm:"column:contact;type:varchar(50)"`
	Email         string  `gorm:"column:email;type:varchar(150)"`
	AccountTypeID *uint64 `gorm:"column:account_type_id;index"`
	BankBranchID  *uint64 `gorm:"column:bank_branch_id;index"`

	AccountType *AccountType `gorm:"foreignKey:AccountTypeID"`
	BankBranch  *BankBranch  `gorm:"foreignKey:BankBranchID"`
}

func (Customer) TableName() string { return "customer" }

type Merchant struct {
	ID         string  `gorm:"column:merchant_id;type:varchar(64);primaryKey"`
	CategoryID *uint64 `gorm:"column:category_id;index"`

	Category *MerchantCategory `gorm:"foreignKey:CategoryID"`
}

func (Merchant) TableName() string { return "merchant" }

// Device is keyed by the (name, device type) pair.
type Device struct {
	ID           uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	Name         string `gorm:"column:name;type:varchar(100);not null;uniqueIndex:uq_device_name_type"`
	DeviceTypeID uint64 `gorm:"column:device_type_id;not null;uniqueIndex:uq_device_name_type"`

	DeviceType *DeviceType `gorm:"foreignKey:DeviceTypeID"`
}

func (Device) TableName() string { return "device" }

// DeviceKey is the natural key of a Device.
type DeviceKey struct {
	Name string
	Type string
}

type Transaction struct {
	TransactionID     string              `gorm:"column:transaction_id;type:varchar(64);primaryKey"`
	CustomerID        string              `gorm:"column:customer_id;type:varchar(64);not null;index"`
	MerchantID        string              `gorm:"column:merchant_id;type:varchar(64);not null;index"`
	DeviceID          *uint64             `gorm:"column:device_id;index"`
	LocationID        uint64              `gorm:"column:location_id;not null"`
	CurrencyID        uint64              `gorm:"column:currency_id;not null"`
	TransactionTypeID uint64              `gorm:"column:transaction_type_id;not null"`
	TransactionTime   time.Time           `gorm:"column:transaction_datetime;not null;index"`
	Amount            decimal.Decimal     `gorm:"column:amount;type:decimal(20,6);not null"`
	BalanceAfter      decimal.NullDecimal `gorm:"column:account_balance_after;type:decimal(20,6)"`
	IsFraud           bool                `gorm:"column:is_fraud;not null"`
	Description       *string             `gorm:"column:description;type:varchar(255)"`

	Customer        *Customer        `gorm:"foreignKey:CustomerID"`
	Merchant        *Merchant        `gorm:"foreignKey:MerchantID"`
	Device          *Device          `gorm:"foreignKey:DeviceID"`
	Location        *Location        `gorm:"foreignKey:LocationID"`
	Currency        *Currency        `gorm:"foreignKey:CurrencyID"`
	TransactionType *TransactionType `gorm:"foreignKey:TransactionTypeID"`
}

func (Transaction) TableName() string { return "transaction" }

// OperationalModels lists the normalized tables in dependency order.
func OperationalModels() []interface{} {
	return []interface{}{
		&AccountType{}, &BankBranch{}, &MerchantCategory{}, &DeviceType{},
		&Location{}, &Currency{}, &TransactionType{},
		&Customer{}, &Merchant{}, &Device{}, &Transaction{},
	}
}
