// Package reference holds the auxiliary lookup datasets: the terminology
// glossary and the canned query patterns. Both are optional; missing
// artifacts degrade to empty stores.
package reference

import (
	"encoding/json"
	"fmt"

	"github.com/trialdata/aactschema/internal/logging"
)

// Term maps clinical-trials terminology to the table/column that encodes it.
type Term struct {
	Term       string `json:"term"`
	MapsTo     string `json:"maps_to"`
	Definition string `json:"definition"`
	Caution    string `json:"caution,omitempty"`
}

// Glossary is the terminology dataset plus free-form domain rules that warn
// about common query mistakes.
type Glossary struct {
	Terms       []Term   `json:"terms"`
	DomainRules []string `json:"domain_rules"`
	Loaded      bool     `json:"-"`
}

// EmptyGlossary represents a missing glossary artifact.
func EmptyGlossary() *Glossary {
	return &Glossary{}
}

// LoadGlossary parses the glossary artifact.
func LoadGlossary(data []byte) (*Glossary, error) {
	var g Glossary
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing glossary: %w", err)
	}
	g.Loaded = true
	logging.Info("Glossary loaded: %d terms, %d domain rules", len(g.Terms), len(g.DomainRules))
	return &g, nil
}

// Pattern is one canned SQL template with applicability notes.
type Pattern struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"sql"`
	Notes       string `json:"notes,omitempty"`
}

// QueryPatterns is the canned-query dataset, pass-through with no indexing.
type QueryPatterns struct {
	Patterns []Pattern `json:"patterns"`
	Loaded   bool      `json:"-"`
}

// EmptyQueryPatterns represents a missing query-patterns artifact.
func EmptyQueryPatterns() *QueryPatterns {
	return &QueryPatterns{}
}

// LoadQueryPatterns parses the query-patterns artifact.
func LoadQueryPatterns(data []byte) (*QueryPatterns, error) {
	var q QueryPatterns
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("parsing query patterns: %w", err)
	}
	q.Loaded = true
	logging.Info("Query patterns loaded: %d patterns", len(q.Patterns))
	return &q, nil
}
