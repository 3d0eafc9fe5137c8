package profile

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/trialdata/aactschema/internal/logging"
)

// Store indexes column profiles by "table.column" and by owning table.
// An absent artifact is not fatal: the store degrades to empty and
// profile-backed resources render an explicit "not available" message.
type Store struct {
	Profiles  map[string]Profile
	ByTable   map[string]map[string]Profile
	RowCounts map[string]int64
	Loaded    bool
}

// artifact is the on-disk shape written by the profiler job.
type artifact struct {
	RowCounts map[string]int64   `json:"table_row_counts"`
	Profiles  map[string]Profile `json:"profiles"`
}

// Empty returns a store representing a missing artifact.
func Empty() *Store {
	return &Store{
		Profiles:  map[string]Profile{},
		ByTable:   map[string]map[string]Profile{},
		RowCounts: map[string]int64{},
	}
}

// Load parses the profiles artifact and builds the per-table index.
func Load(data []byte) (*Store, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parsing column profiles: %w", err)
	}
	s := &Store{
		Profiles:  a.Profiles,
		ByTable:   make(map[string]map[string]Profile),
		RowCounts: a.RowCounts,
		Loaded:    true,
	}
	if s.Profiles == nil {
		s.Profiles = map[string]Profile{}
	}
	if s.RowCounts == nil {
		s.RowCounts = map[string]int64{}
	}
	for key, p := range s.Profiles {
		byCol, ok := s.ByTable[p.Table]
		if !ok {
			byCol = make(map[string]Profile)
			s.ByTable[p.Table] = byCol
		}
		byCol[key] = p
	}
	logging.Info("Column profiles loaded: %d columns across %d tables", len(s.Profiles), len(s.ByTable))
	return s, nil
}

// Tables returns the profiled table names sorted alphabetically.
func (s *Store) Tables() []string {
	names := make([]string, 0, len(s.ByTable))
	for name := range s.ByTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForTable returns the profiles for one table sorted by column name.
func (s *Store) ForTable(table string) []Profile {
	byCol := s.ByTable[table]
	if len(byCol) == 0 {
		return nil
	}
	out := make([]Profile, 0, len(byCol))
	for _, p := range byCol {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Column < out[j].Column })
	return out
}
