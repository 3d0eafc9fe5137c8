package history

import (
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := testStore(t)

	id, err := s.Record("How many lung cancer trials are recruiting?",
		"SELECT COUNT(*) FROM ctgov.studies", []string{"studies", "conditions"})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty id")
	}

	entries, err := s.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entry count = %d", len(entries))
	}
	e := entries[0]
	if e.ID != id {
		t.Errorf("id = %q, want %q", e.ID, id)
	}
	if e.Question != "How many lung cancer trials are recruiting?" {
		t.Errorf("question = %q", e.Question)
	}
	if e.SQL != "SELECT COUNT(*) FROM ctgov.studies" {
		t.Errorf("sql = %q", e.SQL)
	}
	if len(e.Tables) != 2 || e.Tables[0] != "studies" {
		t.Errorf("tables = %v", e.Tables)
	}
	if time.Since(e.AskedAt) > time.Minute {
		t.Errorf("asked_at too old: %v", e.AskedAt)
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	s := testStore(t)

	for _, q := range []string{"first", "second", "third"} {
		if _, err := s.Record(q, "SELECT 1", nil); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entry count = %d", len(entries))
	}
	// Inserts within the same timestamp tick fall back to id order, so only
	// check that the oldest entry is excluded.
	for _, e := range entries {
		if e.Question == "first" {
			t.Errorf("oldest entry should be cut by the limit: %+v", entries)
		}
	}
}

func TestRecentEmptyStore(t *testing.T) {
	s := testStore(t)

	entries, err := s.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("want empty non-nil slice, got %v", entries)
	}
}

func TestRecordNilTables(t *testing.T) {
	s := testStore(t)

	if _, err := s.Record("q", "SELECT 1", nil); err != nil {
		t.Fatal(err)
	}
	entries, err := s.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Tables == nil {
		t.Error("tables must decode to an empty slice, not nil")
	}
}
