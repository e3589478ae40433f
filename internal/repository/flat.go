package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/pkg/errors"
)

// FlatTransaction is one normalized transaction joined back to every
// entity and lookup it references. Optional references read as nil.
type FlatTransaction struct {
	TransactionID       string              `gorm:"column:transaction_id"`
	CustomerID          string              `gorm:"column:customer_id"`
	CustomerName        *string             `gorm:"column:customer_name"`
	Gender              *string             `gorm:"column:gender"`
	Age                 *int                `gorm:"column:age"`
	State               *string             `gorm:"column:state"`
	City                *string             `gorm:"column:city"`
	CustomerContact     *string             `gorm:"column:customer_contact"`
	CustomerEmail       *string             `gorm:"column:customer_email"`
	AccountType         *string             `gorm:"column:account_type"`
	BankBranch          *string             `gorm:"column:bank_branch"`
	TransactionDateTime time.Time           `gorm:"column:transaction_datetime"`
	Amount              decimal.Decimal     `gorm:"column:transaction_amount"`
	Balance             decimal.NullDecimal `gorm:"column:account_balance"`
	IsFraud             bool                `gorm:"column:is_fraud"`
	Description         *string             `gorm:"column:transaction_description"`
	TransactionType     *string             `gorm:"column:transaction_type"`
	Currency            *string             `gorm:"column:currency"`
	Location            *string             `gorm:"column:transaction_location"`
	MerchantID          string              `gorm:"column:merchant_id"`
	MerchantCategory    *string             `gorm:"column:merchant_category"`
	DeviceName          *string             `gorm:"column:device_name"`
	DeviceType          *string             `gorm:"column:device_type"`
}

const flatSelect = `t.transaction_id, t.customer_id,
	c.name AS customer_name, c.gender, c.age, c.state, c.city,
	c.contact AS customer_contact, c.email AS customer_email,
	acct.name AS account_type, bb.name AS bank_branch,
	t.transaction_datetime, t.amount AS transaction_amount,
	t.account_balance_after AS account_balance, t.is_fraud,
	t.description AS transaction_description,
	tt.name AS transaction_type, cur.name AS currency, loc.name AS transaction_location,
	t.merchant_id, mc.name AS merchant_category,
	d.name AS device_name, dt.name AS device_type`

// flatQuery joins every normalized table onto transaction. The
// transaction table name is a keyword in some dialects, so it goes through
// the dialect's quoting.
func flatQuery(db *gorm.DB) *gorm.DB {
	return db.Table("? AS t", clause.Table{Name: "transaction"}).
		Select(flatSelect).
		Joins("LEFT JOIN customer c ON c.customer_id = t.customer_id").
		Joins("LEFT JOIN account_type acct ON acct.id = c.account_type_id").
		Joins("LEFT JOIN bank_branch bb ON bb.id = c.bank_branch_id").
		Joins("LEFT JOIN merchant m ON m.merchant_id = t.merchant_id").
		Joins("LEFT JOIN merchant_category mc ON mc.id = m.category_id").
		Joins("LEFT JOIN device d ON d.id = t.device_id").
		Joins("LEFT JOIN device_type dt ON dt.id = d.device_type_id").
		Joins("LEFT JOIN location loc ON loc.id = t.location_id").
		Joins("LEFT JOIN currency cur ON cur.id = t.currency_id").
		Joins("LEFT JOIN transaction_type tt ON tt.id = t.transaction_type_id").
		Order("t.transaction_id")
}

// flatColumnNames maps the flat query's columns to export column names.
var flatColumnNames = map[string]string{
	"transaction_id":          models.ColTransactionID,
	"customer_id":             models.ColCustomerID,
	"customer_name":           models.ColCustomerName,
	"gender":                  models.ColGender,
	"age":                     models.ColAge,
	"state":                   models.ColState,
	"city":                    models.ColCity,
	"customer_contact":        models.ColCustomerContact,
	"customer_email":          models.ColCustomerEmail,
	"account_type":            models.ColAccountType,
	"bank_branch":             models.ColBankBranch,
	"transaction_datetime":    models.ColTransactionDateTime,
	"transaction_amount":      models.ColTransactionAmount,
	"account_balance":         models.ColAccountBalance,
	"is_fraud":                models.ColIsFraud,
	"transaction_description": models.ColDescription,
	"transaction_type":        models.ColTransactionType,
	"currency":                models.ColCurrency,
	"transaction_location":    models.ColTransactionLocation,
	"merchant_id":             models.ColMerchantID,
	"merchant_category":       models.ColMerchantCategory,
	"device_name":             models.ColTransactionDevice,
	"device_type":             models.ColDeviceType,
}

// flatColumns returns the export names of the columns the flat query
// actually produces. Unknown columns keep their SQL name.
func flatColumns(ctx context.Context, db *gorm.DB) ([]string, error) {
	rows, err := flatQuery(db.WithContext(ctx)).Limit(1).Rows()
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeQueryFailed, "flat transaction columns", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeQueryFailed, "flat transaction columns", err)
	}
	for i, col := range cols {
		if name, ok := flatColumnNames[col]; ok {
			cols[i] = name
		}
	}
	return cols, nil
}

// Value renders column the way a cleaned record renders it, so the two
// can be compared as text.
func (f *FlatTransaction) Value(column string) string {
	switch column {
	case models.ColTransactionID:
		return f.TransactionID
	case models.ColCustomerID:
		return f.CustomerID
	case models.ColCustomerName:
		return models.StringValue(f.CustomerName)
	case models.ColGender:
		return models.StringValue(f.Gender)
	case models.ColAge:
		if f.Age == nil {
			return ""
		}
		return strconv.Itoa(*f.Age)
	case models.ColState:
		return models.StringValue(f.State)
	case models.ColCity:
		return models.StringValue(f.City)
	case models.ColCustomerContact:
		return models.StringValue(f.CustomerContact)
	case models.ColCustomerEmail:
		return models.StringValue(f.CustomerEmail)
	case models.ColAccountType:
		return models.StringValue(f.AccountType)
	case models.ColBankBranch:
		return models.StringValue(f.BankBranch)
	case models.ColTransactionDateTime:
		return f.TransactionDateTime.UTC().Format(models.TimestampLayout)
	case models.ColTransactionAmount:
		return f.Amount.StringFixed(2)
	case models.ColAccountBalance:
		if !f.Balance.Valid {
			return ""
		}
		return f.Balance.Decimal.StringFixed(2)
	case models.ColIsFraud:
		if f.IsFraud {
			return "1"
		}
		return "0"
	case models.ColDescription:
		return models.StringValue(f.Description)
	case models.ColTransactionType:
		return models.StringValue(f.TransactionType)
	case models.ColCurrency:
		return models.StringValue(f.Currency)
	case models.ColTransactionLocation:
		return models.StringValue(f.Location)
	case models.ColMerchantID:
		return f.MerchantID
	case models.ColMerchantCategory:
		return models.StringValue(f.MerchantCategory)
	case models.ColTransactionDevice:
		return models.StringValue(f.DeviceName)
	case models.ColDeviceType:
		return models.StringValue(f.DeviceType)
	}
	return ""
}
