// Package nl2sql turns natural-language questions into SQL in two steps:
// a relevance selector that narrows the schema to the tables a question
// needs, and a composer that generates the final statement from the
// narrowed context. Both delegate the reasoning to an LLM.
package nl2sql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trialdata/aactschema/internal/llm"
	"github.com/trialdata/aactschema/internal/logging"
	"github.com/trialdata/aactschema/internal/schema"
)

// Chatter is the LLM surface the selector and composer need. *llm.Client
// satisfies it; tests substitute a fake.
type Chatter interface {
	Chat(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error)
}

// DefaultTables is the fallback set used when relevance selection fails.
// It covers the most commonly queried tables and always includes the
// central table.
func DefaultTables() []string {
	return []string{"studies", "conditions", "interventions", "sponsors", "eligibilities"}
}

// Selector asks the LLM which tables a question needs.
type Selector struct {
	LLM Chatter
}

const selectPrompt = `You are an expert on the AACT clinical trials database.
Given a user's natural language query and the list of available tables,
identify which tables are needed to answer the query.

RULES:
- Always include 'studies' - it's the central table.
- Only include tables that are genuinely needed for the query.
- Return ONLY a JSON array of table names, nothing else.
- Example: ["studies", "conditions", "interventions"]

USER QUERY: %s

AVAILABLE TABLES:
%s`

// Select returns the table names relevant to the question. It fails soft:
// any call or parse failure yields the default table set, and the central
// table is always present in the result.
func (s *Selector) Select(ctx context.Context, question, tableDirectory string) []string {
	prompt := fmt.Sprintf(selectPrompt, question, tableDirectory)

	raw, err := s.LLM.Chat(ctx, "", prompt, 200, 0)
	if err != nil {
		logging.Warn("Table relevance selection failed: %v", err)
		return DefaultTables()
	}

	var tables []string
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &tables); err != nil {
		logging.Warn("Table relevance response was not a JSON array: %v", err)
		return DefaultTables()
	}
	if len(tables) == 0 {
		return DefaultTables()
	}

	return ensureCentral(tables)
}

// ensureCentral guarantees the central table is in the set, prepending it
// when the model left it out.
func ensureCentral(tables []string) []string {
	for _, t := range tables {
		if t == schema.CentralTable {
			return tables
		}
	}
	return append([]string{schema.CentralTable}, tables...)
}

// Composer asks the LLM for one SQL statement given the narrowed schema
// context.
type Composer struct {
	LLM Chatter
}

const composeSystemPrompt = `You are a SQL expert for the AACT clinical trials database (PostgreSQL).
The database schema is 'ctgov'. Here are the relevant table definitions:

%s

And the foreign key relationships:
%s

Given a user's natural language request (which may be in any language),
generate a valid PostgreSQL SELECT query.
Rules:
- Always use the ctgov schema prefix (e.g., ctgov.studies)
- Use appropriate JOINs based on the foreign keys shown
- Most tables join to studies via nct_id
- Return ONLY the SQL query, no explanation
- Make the query practical and correct`

// Compose returns the generated SQL text with code fences stripped. The
// statement is not validated or executed; a call failure is surfaced to the
// caller since there is no SQL to fall back to.
func (c *Composer) Compose(ctx context.Context, question, schemaContext, relationshipContext string) (string, error) {
	system := fmt.Sprintf(composeSystemPrompt, schemaContext, relationshipContext)

	raw, err := c.LLM.Chat(ctx, system, question, 500, 0.1)
	if err != nil {
		return "", fmt.Errorf("generating SQL: %w", err)
	}

	sql := llm.StripFences(raw)
	if strings.TrimSpace(sql) == "" {
		return "", fmt.Errorf("generating SQL: empty statement returned")
	}
	return sql, nil
}
