package warehouse

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/internal/repository"
)

// CustomerSnapshot holds the tracked attributes of a customer
type CustomerSnapshot struct {
	CustomerID  string
	Name        string
	Gender      string
	Age         *int
	City        string
	State       string
	Contact     string
	Email       string
	AccountType string
	BankBranch  string
}

// SnapshotsFromFlat returns one snapshot per customer in first-seen order
func SnapshotsFromFlat(rows []repository.FlatTransaction) []CustomerSnapshot {
	seen := make(map[string]bool)
	var out []CustomerSnapshot
	for _, row := range rows {
		if seen[row.CustomerID] {
			continue
		}
		seen[row.CustomerID] = true
		out = append(out, CustomerSnapshot{
			CustomerID:  row.CustomerID,
			Name:        deref(row.CustomerName),
			Gender:      deref(row.Gender),
			Age:         row.Age,
			City:        deref(row.City),
			State:       deref(row.State),
			Contact:     deref(row.CustomerContact),
			Email:       deref(row.CustomerEmail),
			AccountType: deref(row.AccountType),
			BankBranch:  deref(row.BankBranch),
		})
	}
	return out
}

// RowHash fingerprints the tracked attributes of s. Two snapshots hash
// equal exactly when every tracked attribute is equal.
func (s CustomerSnapshot) RowHash() string {
	age := "\x00"
	if s.Age != nil {
		age = strconv.Itoa(*s.Age)
	}
	fields := []string{s.Name, s.Gender, age, s.City, s.State, s.Contact, s.Email, s.AccountType, s.BankBranch}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func (s CustomerSnapshot) version(rowVersion int, hash string, validFrom time.Time, runID string) *models.DimCustomer {
	return &models.DimCustomer{
		OriginalCustomerID: s.CustomerID,
		CustomerName:       s.Name,
		Gender:             s.Gender,
		Age:                s.Age,
		City:               s.City,
		State:              s.State,
		CustomerContact:    s.Contact,
		CustomerEmail:      s.Email,
		AccountTypeName:    s.AccountType,
		BankBranchName:     s.BankBranch,
		RowHash:            hash,
		RowVersion:         rowVersion,
		ValidFrom:          validFrom,
		LoadRunID:          runID,
	}
}

// CustomerPlan is the set of version transitions of one load
type CustomerPlan struct {
	Closes    []repository.CustomerClose
	Inserts   []*models.DimCustomer
	New       int
	Changed   int
	Unchanged int
}

// PlanCustomerVersions compares snapshots against the open versions and
// plans the writes. Snapshots are applied in order, so a key seen twice with
// different attributes gets two versions in the same load; the earlier one
// is inserted already closed at loadTime. SnapshotsFromFlat yields one
// snapshot per customer, so in a normal run a second version comes from a
// later load.
func PlanCustomerVersions(open map[string]models.DimCustomer, snapshots []CustomerSnapshot, loadTime time.Time, runID string) *CustomerPlan {
	plan := &CustomerPlan{}
	current := make(map[string]*models.DimCustomer, len(open))
	for key, row := range open {
		row := row
		current[key] = &row
	}

	for _, s := range snapshots {
		hash := s.RowHash()
		cur, ok := current[s.CustomerID]
		switch {
		case !ok:
			v := s.version(1, hash, loadTime, runID)
			plan.Inserts = append(plan.Inserts, v)
			current[s.CustomerID] = v
			plan.New++
		case cur.RowHash == hash:
			plan.Unchanged++
		default:
			validTo := loadTime
			if cur.ID != 0 {
				plan.Closes = append(plan.Closes, repository.CustomerClose{SKey: cur.ID, ValidTo: validTo})
			} else {
				cur.ValidTo = &validTo
			}
			v := s.version(cur.RowVersion+1, hash, loadTime, runID)
			plan.Inserts = append(plan.Inserts, v)
			current[s.CustomerID] = v
			plan.Changed++
		}
	}
	return plan
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
