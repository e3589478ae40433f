package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Column names of the transaction export.
const (
	ColCustomerID          = "Customer_ID"
	ColCustomerName        = "Customer_Name"
	ColGender              = "Gender"
	ColAge                 = "Age"
	ColState               = "State"
	ColCity                = "City"
	ColBankBranch          = "Bank_Branch"
	ColAccountType         = "Account_Type"
	ColTransactionID       = "Transaction_ID"
	ColTransactionDate     = "Transaction_Date"
	ColTransactionTime     = "Transaction_Time"
	ColTransactionAmount   = "Transaction_Amount"
	ColMerchantID          = "Merchant_ID"
	ColTransactionType     = "Transaction_Type"
	ColMerchantCategory    = "Merchant_Category"
	ColAccountBalance      = "Account_Balance"
	ColTransactionDevice   = "Transaction_Device"
	ColTransactionLocation = "Transaction_Location"
	ColDeviceType          = "Device_Type"
	ColIsFraud             = "Is_Fraud"
	ColCurrency            = "Transaction_Currency"
	ColCustomerContact     = "Customer_Contact"
	ColDescription         = "Transaction_Description"
	ColCustomerEmail       = "Customer_Email"

	// ColTransactionDateTime replaces the date and time columns after cleaning.
	ColTransactionDateTime = "Transaction_DateTime"
)

// RawColumns lists the export columns in file order.
var RawColumns = []string{
	ColCustomerID, ColCustomerName, ColGender, ColAge, ColState, ColCity,
	ColBankBranch, ColAccountType, ColTransactionID, ColTransactionDate,
	ColTransactionTime, ColTransactionAmount, ColMerchantID, ColTransactionType,
	ColMerchantCategory, ColAccountBalance, ColTransactionDevice,
	ColTransactionLocation, ColDeviceType, ColIsFraud, ColCurrency,
	ColCustomerContact, ColDescription, ColCustomerEmail,
}

// CleanColumns lists the columns of a cleaned record set: the raw columns
// without date and time, followed by the combined timestamp.
var CleanColumns = func() []string {
	cols := make([]string, 0, len(RawColumns)-1)
	for _, c := range RawColumns {
		if c == ColTransactionDate || c == ColTransactionTime {
			continue
		}
		cols = append(cols, c)
	}
	return append(cols, ColTransactionDateTime)
}()

// TimestampLayout is the layout used when a cleaned timestamp is written out.
const TimestampLayout = "2006-01-02 15:04:05"

// RawRecord is one row of the export, keyed by column name, before any typing.
type RawRecord struct {
	Line   int
	Values map[string]string
}

// Get returns the value of column and whether it holds a non-missing value.
func (r *RawRecord) Get(column string) (string, bool) {
	v, ok := r.Values[column]
	if !ok || IsMissing(v) {
		return "", false
	}
	return v, true
}

// CleanRecord is a typed, validated transaction row. Empty strings stand
// for missing values in optional columns.
type CleanRecord struct {
	Line int

	CustomerID      string
	CustomerName    string
	Gender          string
	Age             *int
	State           string
	City            string
	BankBranch      string
	AccountType     string
	CustomerContact string
	CustomerEmail   string

	TransactionID       string
	TransactionDateTime time.Time
	Amount              decimal.Decimal
	Balance             decimal.NullDecimal
	IsFraud             bool
	TransactionType     string
	Currency            string
	Location            string
	Description         string

	MerchantID       string
	MerchantCategory string

	DeviceName string
	DeviceType string
}

// Value renders column the way the cleaned export writes it.
func (r *CleanRecord) Value(column string) string {
	switch column {
	case ColCustomerID:
		return r.CustomerID
	case ColCustomerName:
		return r.CustomerName
	case ColGender:
		return r.Gender
	case ColAge:
		if r.Age == nil {
			return ""
		}
		return strconv.Itoa(*r.Age)
	case ColState:
		return r.State
	case ColCity:
		return r.City
	case ColBankBranch:
		return r.BankBranch
	case ColAccountType:
		return r.AccountType
	case ColTransactionID:
		return r.TransactionID
	case ColTransactionAmount:
		return r.Amount.StringFixed(2)
	case ColMerchantID:
		return r.MerchantID
	case ColTransactionType:
		return r.TransactionType
	case ColMerchantCategory:
		return r.MerchantCategory
	case ColAccountBalance:
		if !r.Balance.Valid {
			return ""
		}
		return r.Balance.Decimal.StringFixed(2)
	case ColTransactionDevice:
		return r.DeviceName
	case ColTransactionLocation:
		return r.Location
	case ColDeviceType:
		return r.DeviceType
	case ColIsFraud:
		if r.IsFraud {
			return "1"
		}
		return "0"
	case ColCurrency:
		return r.Currency
	case ColCustomerContact:
		return r.CustomerContact
	case ColDescription:
		return r.Description
	case ColCustomerEmail:
		return r.CustomerEmail
	case ColTransactionDateTime:
		return r.TransactionDateTime.Format(TimestampLayout)
	}
	return ""
}

// NullableString maps an empty string to nil.
func NullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences s, returning "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
