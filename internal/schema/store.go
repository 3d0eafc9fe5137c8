package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/trialdata/aactschema/internal/logging"
)

// Store is the in-memory schema snapshot. Tables keep dataset order; the
// name index is built once at load time.
type Store struct {
	SchemaName  string
	Tables      []Table
	ForeignKeys []ForeignKey
	Live        bool // true when loaded from a live database

	index map[string]*Table
}

// dataset is the on-disk snapshot shape.
type dataset struct {
	Schema      string       `json:"schema"`
	Tables      []Table      `json:"tables"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

// Load parses the bundled schema snapshot. A missing or malformed snapshot
// is a startup-fatal condition for the caller; Load itself just returns the
// error with context.
func Load(data []byte) (*Store, error) {
	var ds dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parsing schema snapshot: %w", err)
	}
	if len(ds.Tables) == 0 {
		return nil, fmt.Errorf("schema snapshot contains no tables")
	}
	if ds.Schema == "" {
		ds.Schema = "ctgov"
	}
	s := &Store{
		SchemaName:  ds.Schema,
		Tables:      ds.Tables,
		ForeignKeys: ds.ForeignKeys,
	}
	s.buildIndex()
	logging.Info("Schema snapshot loaded: %d tables, %d foreign keys", len(s.Tables), len(s.ForeignKeys))
	return s, nil
}

func (s *Store) buildIndex() {
	s.index = make(map[string]*Table, len(s.Tables))
	for i := range s.Tables {
		s.index[s.Tables[i].Name] = &s.Tables[i]
	}
}

// Table returns the table with the given name, if present.
func (s *Store) Table(name string) (*Table, bool) {
	t, ok := s.index[name]
	return t, ok
}

// Names returns all table names sorted alphabetically. Used by the
// not-found document so a caller can self-correct.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.Tables))
	for i := range s.Tables {
		names = append(names, s.Tables[i].Name)
	}
	sort.Strings(names)
	return names
}

// ChildKeys returns the foreign keys whose child table is name, in dataset
// order. Recomputed per call; the result is derived state, never stored.
func (s *Store) ChildKeys(name string) []ForeignKey {
	var out []ForeignKey
	for _, fk := range s.ForeignKeys {
		if fk.ChildTable == name {
			out = append(out, fk)
		}
	}
	return out
}

// ParentKeys returns the foreign keys whose parent table is name.
func (s *Store) ParentKeys(name string) []ForeignKey {
	var out []ForeignKey
	for _, fk := range s.ForeignKeys {
		if fk.ParentTable == name {
			out = append(out, fk)
		}
	}
	return out
}
