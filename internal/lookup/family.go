package lookup

import "bank-fraud-etl/internal/models"

// Family is a categorical attribute persisted as its own lookup table. The
// value is the table name.
type Family string

const (
	AccountType      Family = "account_type"
	BankBranch       Family = "bank_branch"
	MerchantCategory Family = "merchant_category"
	DeviceType       Family = "device_type"
	Location         Family = "location"
	Currency         Family = "currency"
	TransactionType  Family = "transaction_type"
)

// Families lists every lookup family in load order.
var Families = []Family{
	AccountType, BankBranch, MerchantCategory, DeviceType,
	Location, Currency, TransactionType,
}

// Table returns the lookup table holding the family
func (f Family) Table() string {
	return string(f)
}

// Column returns the export column the family is read from
func (f Family) Column() string {
	switch f {
	case AccountType:
		return models.ColAccountType
	case BankBranch:
		return models.ColBankBranch
	case MerchantCategory:
		return models.ColMerchantCategory
	case DeviceType:
		return models.ColDeviceType
	case Location:
		return models.ColTransactionLocation
	case Currency:
		return models.ColCurrency
	case TransactionType:
		return models.ColTransactionType
	}
	return ""
}

// Value returns the family's value on rec, "" when missing
func (f Family) Value(rec *models.CleanRecord) string {
	switch f {
	case AccountType:
		return rec.AccountType
	case BankBranch:
		return rec.BankBranch
	case MerchantCategory:
		return rec.MerchantCategory
	case DeviceType:
		return rec.DeviceType
	case Location:
		return rec.Location
	case Currency:
		return rec.Currency
	case TransactionType:
		return rec.TransactionType
	}
	return ""
}
