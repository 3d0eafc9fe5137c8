// Package resource maps resource URIs to formatted schema documents. The
// router owns no state of its own; it reads the stores aggregate built once
// at startup and dispatches to the render package.
package resource

import (
	"fmt"
	"strings"

	"github.com/trialdata/aactschema/internal/profile"
	"github.com/trialdata/aactschema/internal/reference"
	"github.com/trialdata/aactschema/internal/render"
	"github.com/trialdata/aactschema/internal/schema"
)

// Stores aggregates everything loaded at startup. The schema store is
// required; the rest degrade to empty when their artifacts are missing.
type Stores struct {
	Schema        *schema.Store
	Profiles      *profile.Store
	Glossary      *reference.Glossary
	QueryPatterns *reference.QueryPatterns
}

// Resource URIs. The two {table}-parameterized families are matched by
// prefix.
const (
	URISchema         = "aact://schema"
	URISchemaPrefix   = "aact://schema/"
	URITables         = "aact://tables"
	URIRelationships  = "aact://relationships"
	URIGlossary       = "aact://glossary"
	URIProfiles       = "aact://column-profiles"
	URIProfilesPrefix = "aact://column-profiles/"
	URIQueryPatterns  = "aact://query-patterns"
	URIHealth         = "aact://health"
)

// Resource is the listing metadata for one resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// Router serves resource listings and reads.
type Router struct {
	stores *Stores
}

// NewRouter builds a router over the loaded stores.
func NewRouter(stores *Stores) *Router {
	return &Router{stores: stores}
}

// List returns the metadata for every resource this server exposes. The
// parameterized families are listed once with a {table} placeholder.
func (r *Router) List() []Resource {
	return []Resource{
		{
			URI:  URISchema,
			Name: "AACT Full Schema",
			Description: "Complete DDL-style schema of the AACT clinical trials database. " +
				"Includes all tables, columns with PostgreSQL types, primary keys, " +
				"foreign key constraints, and relationship summary.",
			MimeType: "text/plain",
		},
		{
			URI:  URISchemaPrefix + "{table}",
			Name: "AACT Table Schema",
			Description: "DDL-style schema for a single AACT table with its foreign key " +
				"constraints and relationship annotations.",
			MimeType: "text/plain",
		},
		{
			URI:  URITables,
			Name: "AACT Table List",
			Description: "A concise list of all tables with column counts, domain " +
				"classification, and descriptions. Use this to identify relevant tables " +
				"before requesting full schemas.",
			MimeType: "text/plain",
		},
		{
			URI:  URIRelationships,
			Name: "AACT Relationships",
			Description: "All foreign key relationships, partitioned into nct_id joins " +
				"(linking to studies) and hierarchical FK chains, with example JOIN patterns.",
			MimeType: "text/plain",
		},
		{
			URI:  URIGlossary,
			Name: "AACT Glossary",
			Description: "Clinical-trials terminology mapped to the tables and columns that " +
				"encode it, plus domain rules that warn about common query mistakes.",
			MimeType: "text/plain",
		},
		{
			URI:  URIProfiles,
			Name: "AACT Column Profiles",
			Description: "Which tables have precomputed column statistics and their row " +
				"counts. Request aact://column-profiles/{table} for per-column detail.",
			MimeType: "text/plain",
		},
		{
			URI:  URIProfilesPrefix + "{table}",
			Name: "AACT Table Column Profiles",
			Description: "Precomputed value distributions for one table's columns: " +
				"enumerations with counts, numeric and date ranges, boolean tallies.",
			MimeType: "text/plain",
		},
		{
			URI:  URIQueryPatterns,
			Name: "AACT Query Patterns",
			Description: "Canned SQL templates for common AACT questions with " +
				"applicability notes.",
			MimeType: "text/plain",
		},
		{
			URI:         URIHealth,
			Name:        "Server Health",
			Description: "Loaded dataset counts and availability of optional artifacts.",
			MimeType:    "text/plain",
		},
	}
}

// Read resolves a URI to its document. Unknown table names inside a known
// family return error-shaped documents, not errors; only an unknown URI is
// an error.
func (r *Router) Read(uri string) (string, error) {
	switch uri {
	case URISchema:
		return render.FullSchema(r.stores.Schema), nil
	case URITables:
		return render.TableList(r.stores.Schema), nil
	case URIRelationships:
		return render.Relationships(r.stores.Schema), nil
	case URIGlossary:
		return render.GlossaryDoc(r.stores.Glossary), nil
	case URIProfiles:
		return render.ProfilesOverview(r.stores.Profiles), nil
	case URIQueryPatterns:
		return render.QueryPatternsDoc(r.stores.QueryPatterns), nil
	case URIHealth:
		return r.Health(), nil
	}

	if table, ok := cutPrefix(uri, URISchemaPrefix); ok && table != "" {
		return render.TableDoc(r.stores.Schema, table), nil
	}
	if table, ok := cutPrefix(uri, URIProfilesPrefix); ok && table != "" {
		return render.TableProfiles(r.stores.Profiles, table), nil
	}

	return "", fmt.Errorf("unknown resource URI: %s", uri)
}

// Health renders the liveness document: dataset counts plus booleans for
// each optional artifact.
func (r *Router) Health() string {
	s := r.stores
	lines := []string{
		"aactschema server status: ok",
		"",
		fmt.Sprintf("schema: %d tables, %d foreign keys (live_db=%t)",
			len(s.Schema.Tables), len(s.Schema.ForeignKeys), s.Schema.Live),
		fmt.Sprintf("column_profiles_loaded: %t (%d columns)", s.Profiles.Loaded, len(s.Profiles.Profiles)),
		fmt.Sprintf("glossary_loaded: %t (%d terms)", s.Glossary.Loaded, len(s.Glossary.Terms)),
		fmt.Sprintf("query_patterns_loaded: %t (%d patterns)", s.QueryPatterns.Loaded, len(s.QueryPatterns.Patterns)),
	}
	return strings.Join(lines, "\n") + "\n"
}

func cutPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
