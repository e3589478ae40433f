package lookup

import (
	"bank-fraud-etl/pkg/errors"
)

// Mappings holds name -> id maps for every family. It is built once per run
// and never modified afterwards; accessors return copies.
type Mappings struct {
	ids map[Family]map[string]uint64
}

// NewMappings copies ids into an immutable Mappings value
func NewMappings(ids map[Family]map[string]uint64) *Mappings {
	m := &Mappings{ids: make(map[Family]map[string]uint64, len(ids))}
	for family, names := range ids {
		copied := make(map[string]uint64, len(names))
		for name, id := range names {
			copied[name] = id
		}
		m.ids[family] = copied
	}
	return m
}

// ID returns the id of name in family. An unknown family or name is a
// ResolutionError.
func (m *Mappings) ID(family Family, name string) (uint64, error) {
	names, ok := m.ids[family]
	if !ok {
		return 0, errors.ResolutionError(errors.CodeUnknownFamily, string(family), name)
	}
	id, ok := names[name]
	if !ok {
		return 0, errors.ResolutionError(errors.CodeLookupMiss, string(family), name)
	}
	return id, nil
}

// OptionalID resolves name, mapping "" to nil. A non-empty name that is not
// in the mapping is still an error.
func (m *Mappings) OptionalID(family Family, name string) (*uint64, error) {
	if name == "" {
		return nil, nil
	}
	id, err := m.ID(family, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Names returns a copy of the name -> id map of family
func (m *Mappings) Names(family Family) map[string]uint64 {
	out := make(map[string]uint64, len(m.ids[family]))
	for name, id := range m.ids[family] {
		out[name] = id
	}
	return out
}

// Count returns the number of entries in family
func (m *Mappings) Count(family Family) int {
	return len(m.ids[family])
}

// Counts returns the entry count of every family
func (m *Mappings) Counts() map[Family]int {
	out := make(map[Family]int, len(m.ids))
	for family, names := range m.ids {
		out[family] = len(names)
	}
	return out
}
