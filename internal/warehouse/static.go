package warehouse

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/internal/repository"
)

// CombinationKey fingerprints a tuple of attributes. A nil attribute and
// an empty one produce different keys.
func CombinationKey(parts ...*string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		if p == nil {
			b.WriteByte(0x00)
			continue
		}
		b.WriteByte(0x01)
		b.WriteString(*p)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// SplitLocation derives city and state from a "City, State" description,
// splitting on the last comma. Without a comma neither is known.
func SplitLocation(description string) (city, state *string) {
	idx := strings.LastIndex(description, ",")
	if idx < 0 {
		return nil, nil
	}
	if c := strings.TrimSpace(description[:idx]); c != "" {
		city = &c
	}
	if s := strings.TrimSpace(description[idx+1:]); s != "" {
		state = &s
	}
	return city, state
}

// LocationRow returns the location dimension row of a flat transaction, or
// nil when the transaction has no location.
func LocationRow(row *repository.FlatTransaction) *models.DimLocation {
	if row.Location == nil {
		return nil
	}
	city, state := SplitLocation(*row.Location)
	return &models.DimLocation{
		CombinationKey: CombinationKey(row.Location),
		Description:    *row.Location,
		City:           city,
		State:          state,
	}
}

// MerchantRow returns the merchant dimension row of a flat transaction, or
// nil when the transaction has no merchant.
func MerchantRow(row *repository.FlatTransaction) *models.DimMerchant {
	if row.MerchantID == "" {
		return nil
	}
	return &models.DimMerchant{
		CombinationKey:       CombinationKey(&row.MerchantID, row.MerchantCategory),
		OriginalMerchantID:   row.MerchantID,
		MerchantCategoryName: row.MerchantCategory,
	}
}

// DeviceRow returns nil when either half of the device pair is missing.
func DeviceRow(row *repository.FlatTransaction) *models.DimDevice {
	if row.DeviceName == nil || row.DeviceType == nil {
		return nil
	}
	return &models.DimDevice{
		CombinationKey: CombinationKey(row.DeviceName, row.DeviceType),
		DeviceName:     *row.DeviceName,
		DeviceTypeName: *row.DeviceType,
	}
}

// OtherAttributesRow always returns a row; missing attributes stay nil.
func OtherAttributesRow(row *repository.FlatTransaction) *models.DimOtherTransactionAttributes {
	return &models.DimOtherTransactionAttributes{
		CombinationKey:       CombinationKey(row.TransactionType, row.MerchantCategory, row.AccountType, row.BankBranch, row.Currency),
		TransactionTypeName:  row.TransactionType,
		MerchantCategoryName: row.MerchantCategory,
		AccountTypeName:      row.AccountType,
		BankBranchName:       row.BankBranch,
		CurrencyCode:         row.Currency,
	}
}

// StaticDimensions holds the distinct rows of every static dimension
type StaticDimensions struct {
	Locations       []*models.DimLocation
	Merchants       []*models.DimMerchant
	Devices         []*models.DimDevice
	OtherAttributes []*models.DimOtherTransactionAttributes
}

// BuildStaticDimensions collects the distinct combinations seen in rows,
// in first-seen order.
func BuildStaticDimensions(rows []repository.FlatTransaction) *StaticDimensions {
	out := &StaticDimensions{}
	seen := make(map[string]bool)
	add := func(kind, key string) bool {
		k := kind + ":" + key
		if seen[k] {
			return false
		}
		seen[k] = true
		return true
	}

	for i := range rows {
		row := &rows[i]
		if loc := LocationRow(row); loc != nil && add("location", loc.CombinationKey) {
			out.Locations = append(out.Locations, loc)
		}
		if m := MerchantRow(row); m != nil && add("merchant", m.CombinationKey) {
			out.Merchants = append(out.Merchants, m)
		}
		if d := DeviceRow(row); d != nil && add("device", d.CombinationKey) {
			out.Devices = append(out.Devices, d)
		}
		if o := OtherAttributesRow(row); add("other", o.CombinationKey) {
			out.OtherAttributes = append(out.OtherAttributes, o)
		}
	}
	return out
}
