// Package history persists demo questions and the SQL generated for them
// in a local SQLite database, so the demo frontend can show recent activity.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS questions (
    id            TEXT PRIMARY KEY,
    asked_at      TIMESTAMP NOT NULL,
    question      TEXT NOT NULL,
    generated_sql TEXT NOT NULL,
    tables_json   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_questions_asked_at ON questions(asked_at DESC);
`

// Entry is one recorded question with its generated SQL.
type Entry struct {
	ID       string    `json:"id"`
	AskedAt  time.Time `json:"asked_at"`
	Question string    `json:"question"`
	SQL      string    `json:"sql"`
	Tables   []string  `json:"tables"`
}

// Store is the question log. Safe for concurrent use; database/sql
// serializes access to the single SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path and ensures the schema
// exists. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// SQLite handles one writer at a time; a second connection would just
	// contend on the file lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one question to the log and returns its assigned id.
func (s *Store) Record(question, generatedSQL string, tables []string) (string, error) {
	if tables == nil {
		tables = []string{}
	}
	tablesJSON, err := json.Marshal(tables)
	if err != nil {
		return "", fmt.Errorf("encoding table list: %w", err)
	}

	id := uuid.New().String()
	_, err = s.db.Exec(
		`INSERT INTO questions (id, asked_at, question, generated_sql, tables_json) VALUES (?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), question, generatedSQL, string(tablesJSON),
	)
	if err != nil {
		return "", fmt.Errorf("recording question: %w", err)
	}
	return id, nil
}

// Recent returns the latest n entries, newest first. n <= 0 defaults to 20.
func (s *Store) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.Query(
		`SELECT id, asked_at, question, generated_sql, tables_json FROM questions ORDER BY asked_at DESC, id LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var tablesJSON string
		if err := rows.Scan(&e.ID, &e.AskedAt, &e.Question, &e.SQL, &tablesJSON); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		if err := json.Unmarshal([]byte(tablesJSON), &e.Tables); err != nil {
			e.Tables = []string{}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
