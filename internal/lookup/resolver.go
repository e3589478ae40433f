// Package lookup assigns surrogate ids to the distinct values of each
// categorical attribute and persists them as lookup tables.
//
// A load rebuilds the normalized schema from scratch, so lookups are always
// populated into empty tables. Inserts still skip names that already exist,
// which keeps a re-run against a partially reset store from duplicating rows.
package lookup

import (
	"context"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/pkg/errors"
	"bank-fraud-etl/pkg/logger"
)

// Store persists and reads back lookup tables
type Store interface {
	SaveLookupNames(ctx context.Context, table string, names []string) error
	LoadLookup(ctx context.Context, table string) ([]models.LookupEntity, error)
}

// Resolver builds the lookup tables for a record set
type Resolver struct {
	store  Store
	logger logger.Logger
}

// NewResolver creates a Resolver persisting through store
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.WithComponent("lookup_resolver"),
	}
}

// Discover returns the distinct non-missing values of every family, in
// first-seen order.
func Discover(records []*models.CleanRecord) map[Family][]string {
	out := make(map[Family][]string, len(Families))
	for _, family := range Families {
		seen := make(map[string]bool)
		values := []string{}
		for _, rec := range records {
			v := family.Value(rec)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			values = append(values, v)
		}
		out[family] = values
	}
	return out
}

// Resolve persists every family's distinct values and reads the assigned ids
// back. Each family is committed before the next one starts.
func (r *Resolver) Resolve(ctx context.Context, records []*models.CleanRecord) (*Mappings, error) {
	discovered := Discover(records)
	ids := make(map[Family]map[string]uint64, len(Families))

	for _, family := range Families {
		names := discovered[family]
		if err := r.store.SaveLookupNames(ctx, family.Table(), names); err != nil {
			return nil, err
		}

		rows, err := r.store.LoadLookup(ctx, family.Table())
		if err != nil {
			return nil, err
		}

		byName := make(map[string]uint64, len(rows))
		for _, row := range rows {
			byName[row.Name] = row.ID
		}
		for _, name := range names {
			if _, ok := byName[name]; !ok {
				return nil, errors.ResolutionError(errors.CodeLookupMiss, family.Table(), name).
					WithSuggestion("the lookup row was not readable after insert; check the store")
			}
		}
		ids[family] = byName

		r.logger.WithFields(logger.Fields{
			"family":   family,
			"distinct": len(names),
			"stored":   len(rows),
		}).Debug("Resolved lookup family")
	}

	mappings := NewMappings(ids)
	r.logger.WithField("counts", mappings.Counts()).Info("Lookup tables populated")
	return mappings, nil
}
