// Package render turns the loaded stores into plain-text documents: DDL
// blocks, table directories, relationship digests, and profile summaries.
// Every function here is pure; errors become readable text, never panics,
// so an LLM-driven caller can self-correct from the output alone.
package render

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/trialdata/aactschema/internal/profile"
	"github.com/trialdata/aactschema/internal/reference"
	"github.com/trialdata/aactschema/internal/schema"
)

const rule = "=================================================="

// truncate shortens s to at most n runes, appending "..." when it cuts.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// ColumnDDL renders one column as a DDL line with a trailing comma. The
// description becomes an inline comment, truncated to 120 characters;
// double hyphens inside it are collapsed so they cannot terminate the
// comment early.
func ColumnDDL(col schema.Column) string {
	nullable := ""
	if !col.IsNullable {
		nullable = " NOT NULL"
	}
	pk := ""
	if col.IsPrimaryKey {
		pk = " PRIMARY KEY"
	}
	comment := ""
	if col.Description != nil && *col.Description != "" {
		short := truncate(*col.Description, 120)
		short = strings.ReplaceAll(short, "--", "-")
		short = strings.ReplaceAll(short, "\n", " ")
		comment = "  -- " + short
	}
	return fmt.Sprintf("    %s %s%s%s,%s", col.Name, col.DataType, nullable, pk, comment)
}

// TableDDL renders one table as a CREATE TABLE block: metadata comment
// lines, one line per column in stored order, then one FOREIGN KEY line per
// edge whose child is this table. The last line before ");" loses its
// trailing comma.
func TableDDL(t *schema.Table, fks []schema.ForeignKey) string {
	var lines []string

	var meta []string
	if t.Domain != "" {
		meta = append(meta, "Domain: "+t.Domain)
	}
	if t.RowsPerStudy != "" {
		meta = append(meta, "Rows per study: "+t.RowsPerStudy)
	}
	if len(meta) > 0 {
		lines = append(lines, "-- "+strings.Join(meta, " | "))
	}
	if t.Description != nil && *t.Description != "" {
		short := truncate(*t.Description, 200)
		short = strings.ReplaceAll(short, "\n", " ")
		lines = append(lines, "-- "+short)
	}

	lines = append(lines, fmt.Sprintf("CREATE TABLE %s (", t.FullName()))

	for _, col := range t.Columns {
		lines = append(lines, ColumnDDL(col))
	}

	for _, fk := range fks {
		if fk.ChildTable != t.Name {
			continue
		}
		lines = append(lines, fmt.Sprintf("    FOREIGN KEY (%s) REFERENCES %s.%s(%s),",
			fk.ChildColumn, t.Schema, fk.ParentTable, fk.ParentColumn))
	}

	if n := len(lines); n > 0 {
		lines[n-1] = strings.TrimSuffix(lines[n-1], ",")
	}
	lines = append(lines, ");")
	return strings.Join(lines, "\n")
}

// FullSchema renders every table's DDL plus a foreign-key summary,
// preceded by a header with counts and join guidance.
func FullSchema(s *schema.Store) string {
	header := []string{
		"-- =============================================================",
		"-- AACT Database Schema (" + s.SchemaName + ")",
		"-- Aggregate Analysis of ClinicalTrials.gov",
		"-- =============================================================",
		fmt.Sprintf("-- %d tables | %d foreign key relationships", len(s.Tables), len(s.ForeignKeys)),
		"--",
		"-- Key relationships:",
		"--   Most tables join to 'studies' via nct_id (VARCHAR).",
		"--   Results tables have hierarchical FK chains, e.g.:",
		"--     outcomes.id -> outcome_analyses.outcome_id",
		"--     outcome_analyses.id -> outcome_analysis_groups.outcome_analysis_id",
		"--   The 'result_groups' table is referenced by baseline and outcome tables.",
		"-- =============================================================",
		"",
	}

	blocks := make([]string, 0, len(s.Tables))
	for i := range s.Tables {
		blocks = append(blocks, TableDDL(&s.Tables[i], s.ForeignKeys))
	}

	summary := []string{
		"",
		"-- =============================================================",
		"-- FOREIGN KEY RELATIONSHIP SUMMARY",
		"-- =============================================================",
	}
	for _, fk := range s.ForeignKeys {
		summary = append(summary, fmt.Sprintf("-- %s.%s -> %s.%s",
			fk.ChildTable, fk.ChildColumn, fk.ParentTable, fk.ParentColumn))
	}

	return strings.Join(header, "\n") + strings.Join(blocks, "\n\n") + "\n" + strings.Join(summary, "\n") + "\n"
}

// NotFound renders the error document for an unknown table name: the
// requested name plus the full sorted set of valid names, so the caller can
// retry with a correct one.
func NotFound(requested string, names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return fmt.Sprintf("-- ERROR: Table '%s' not found in the AACT schema.\n-- Available tables: %s\n",
		requested, strings.Join(sorted, ", "))
}

// TableDoc renders a single table's DDL followed by relationship
// annotations: edges where this table is the parent, then edges where it is
// the child. Unknown names get the not-found document.
func TableDoc(s *schema.Store, name string) string {
	t, ok := s.Table(name)
	if !ok {
		return NotFound(name, s.Names())
	}

	lines := []string{TableDDL(t, s.ForeignKeys), ""}

	if parents := s.ParentKeys(name); len(parents) > 0 {
		lines = append(lines, fmt.Sprintf("-- Tables referencing %s:", name))
		for _, fk := range parents {
			lines = append(lines, fmt.Sprintf("--   %s.%s -> %s.%s",
				fk.ChildTable, fk.ChildColumn, name, fk.ParentColumn))
		}
	}
	if children := s.ChildKeys(name); len(children) > 0 {
		lines = append(lines, fmt.Sprintf("-- %s references:", name))
		for _, fk := range children {
			lines = append(lines, fmt.Sprintf("--   %s.%s -> %s.%s",
				name, fk.ChildColumn, fk.ParentTable, fk.ParentColumn))
		}
	}

	return strings.Join(lines, "\n") + "\n"
}

// TableList renders the table directory: one line per table with column
// count, domain, rows-per-study, and a truncated description.
func TableList(s *schema.Store) string {
	lines := []string{
		"AACT Database Tables (" + s.SchemaName + " schema)",
		rule,
		"",
		fmt.Sprintf("%-35s %5s  %-20s  %-10s", "Table", "Cols", "Domain", "Rows/Study"),
		strings.Repeat("-", 80),
	}
	for i := range s.Tables {
		t := &s.Tables[i]
		line := fmt.Sprintf("%-35s %5d  %-20s  %-10s", t.Name, len(t.Columns), t.Domain, t.RowsPerStudy)
		if t.Description != nil && *t.Description != "" {
			desc := strings.ReplaceAll(truncate(*t.Description, 200), "\n", " ")
			line += "  " + desc
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", fmt.Sprintf("Total: %d tables", len(s.Tables)))
	return strings.Join(lines, "\n") + "\n"
}

// Relationships renders every foreign key, partitioned into nct_id joins
// against the central table versus hierarchical edges, followed by example
// join patterns.
func Relationships(s *schema.Store) string {
	var nctFKs, otherFKs []schema.ForeignKey
	for _, fk := range s.ForeignKeys {
		if fk.ChildColumn == schema.CentralColumn {
			nctFKs = append(nctFKs, fk)
		} else {
			otherFKs = append(otherFKs, fk)
		}
	}

	lines := []string{
		"AACT Database Foreign Key Relationships",
		rule,
		"",
		fmt.Sprintf("Total: %d relationships", len(s.ForeignKeys)),
		"",
		"--- nct_id joins (link tables to studies) ---",
		"",
	}
	for _, fk := range nctFKs {
		lines = append(lines, fmt.Sprintf("  %s.%s -> %s.%s",
			fk.ChildTable, schema.CentralColumn, schema.CentralTable, schema.CentralColumn))
	}

	lines = append(lines,
		"",
		"--- Hierarchical FK relationships ---",
		"--- (Use these for multi-level JOINs beyond nct_id) ---",
		"",
	)
	for _, fk := range otherFKs {
		lines = append(lines, fmt.Sprintf("  %s.%s -> %s.%s",
			fk.ChildTable, fk.ChildColumn, fk.ParentTable, fk.ParentColumn))
	}

	lines = append(lines,
		"",
		"--- Common JOIN patterns ---",
		"",
		"-- Get outcomes with their analyses:",
		"--   SELECT * FROM "+s.SchemaName+".outcomes o",
		"--   JOIN "+s.SchemaName+".outcome_analyses oa ON o.id = oa.outcome_id",
		"--   JOIN "+s.SchemaName+".outcome_analysis_groups oag ON oa.id = oag.outcome_analysis_id",
		"",
		"-- Get baseline data with result groups:",
		"--   SELECT * FROM "+s.SchemaName+".baseline_measurements bm",
		"--   JOIN "+s.SchemaName+".result_groups rg ON bm.result_group_id = rg.id",
		"",
		"-- Join any table to studies:",
		"--   SELECT * FROM "+s.SchemaName+".studies s",
		"--   JOIN "+s.SchemaName+".<table_name> t ON s.nct_id = t.nct_id",
	)

	return strings.Join(lines, "\n") + "\n"
}

// enumTopN caps how many enum values one profile line shows.
const enumTopN = 20

// ProfileEntry renders one column profile as a single line, dispatching on
// the variant. A kind this binary does not recognize gets a generic
// fallback line instead of an error.
func ProfileEntry(p profile.Profile) string {
	switch {
	case p.Enum != nil:
		return enumEntry(p)
	case p.Sample != nil:
		sm := p.Sample
		return fmt.Sprintf("  %s (sample, %d distinct, %d null): %s",
			p.Column, sm.NDistinct, sm.NNull, strings.Join(sm.SampleValues, ", "))
	case p.Numeric != nil:
		n := p.Numeric
		return fmt.Sprintf("  %s (numeric): min=%s, max=%s, median=%s, mean=%s, null=%d, non-null=%d",
			p.Column, fmtFloat(n.Min), fmtFloat(n.Max), fmtFloat(n.Median), fmtFloat(n.Mean), n.NNull, n.NNonNull)
	case p.DateRange != nil:
		d := p.DateRange
		return fmt.Sprintf("  %s (date range): min=%s, max=%s, null=%d, non-null=%d",
			p.Column, fmtString(d.Min), fmtString(d.Max), d.NNull, d.NNonNull)
	case p.Boolean != nil:
		b := p.Boolean
		return fmt.Sprintf("  %s (boolean): true=%d, false=%d, null=%d",
			p.Column, b.NTrue, b.NFalse, b.NNull)
	case p.Err != nil:
		return fmt.Sprintf("  %s: PROFILING FAILED: %s", p.Column, p.Err.Message)
	default:
		return fmt.Sprintf("  %s: unrecognized profile kind '%s'", p.Column, p.Kind)
	}
}

func enumEntry(p profile.Profile) string {
	e := p.Enum

	type vc struct {
		value string
		count int64
	}
	pairs := make([]vc, 0, len(e.Values))
	for v, c := range e.Values {
		pairs = append(pairs, vc{v, c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].value < pairs[j].value
	})

	shown := pairs
	more := 0
	if len(pairs) > enumTopN {
		shown = pairs[:enumTopN]
		more = len(pairs) - enumTopN
	}
	parts := make([]string, 0, len(shown))
	for _, pc := range shown {
		parts = append(parts, pc.value+"="+strconv.FormatInt(pc.count, 10))
	}
	line := fmt.Sprintf("  %s (enum, %d distinct, %d null): %s",
		p.Column, e.NDistinct, e.NNull, strings.Join(parts, ", "))
	if more > 0 {
		line += fmt.Sprintf(" ... and %d more", more)
	}
	return line
}

func fmtFloat(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func fmtString(v *string) string {
	if v == nil {
		return "n/a"
	}
	return *v
}

const profilesUnavailable = "Column profiles are not available.\n" +
	"The profiles artifact was not loaded; regenerate it with the 'profile' command against a live AACT database.\n"

// TableProfiles renders every profile for one table with its row count, or
// an explicit not-available message when the store is empty or the table
// has no profiles.
func TableProfiles(ps *profile.Store, table string) string {
	if !ps.Loaded {
		return profilesUnavailable
	}
	profiles := ps.ForTable(table)
	if len(profiles) == 0 {
		return fmt.Sprintf("No column profiles available for table '%s'.\nProfiled tables: %s\n",
			table, strings.Join(ps.Tables(), ", "))
	}

	lines := []string{
		fmt.Sprintf("Column Profiles: %s", table),
		rule,
	}
	if rc, ok := ps.RowCounts[table]; ok {
		lines = append(lines, fmt.Sprintf("Total rows: %d", rc))
	}
	lines = append(lines, "")
	for _, p := range profiles {
		lines = append(lines, ProfileEntry(p))
	}
	return strings.Join(lines, "\n") + "\n"
}

// ProfilesOverview renders which tables have profiles and their row counts.
func ProfilesOverview(ps *profile.Store) string {
	if !ps.Loaded {
		return profilesUnavailable
	}

	lines := []string{
		"AACT Column Profiles",
		rule,
		"",
		fmt.Sprintf("%d columns profiled across %d tables.", len(ps.Profiles), len(ps.ByTable)),
		"",
		fmt.Sprintf("%-35s %8s  %10s", "Table", "Profiles", "Rows"),
		strings.Repeat("-", 60),
	}
	for _, name := range ps.Tables() {
		rows := "n/a"
		if rc, ok := ps.RowCounts[name]; ok {
			rows = strconv.FormatInt(rc, 10)
		}
		lines = append(lines, fmt.Sprintf("%-35s %8d  %10s", name, len(ps.ByTable[name]), rows))
	}
	lines = append(lines, "", "Request aact://column-profiles/{table} for per-column statistics.")
	return strings.Join(lines, "\n") + "\n"
}

// GlossaryDoc renders the terminology glossary and domain rules.
func GlossaryDoc(g *reference.Glossary) string {
	if !g.Loaded {
		return "The glossary is not available.\nThe glossary artifact was not loaded.\n"
	}

	lines := []string{
		"AACT Terminology Glossary",
		rule,
		"",
	}
	for _, t := range g.Terms {
		lines = append(lines, fmt.Sprintf("%s -> %s", t.Term, t.MapsTo))
		lines = append(lines, "  "+t.Definition)
		if t.Caution != "" {
			lines = append(lines, "  CAUTION: "+t.Caution)
		}
		lines = append(lines, "")
	}

	if len(g.DomainRules) > 0 {
		lines = append(lines, "--- Domain rules ---", "")
		for _, r := range g.DomainRules {
			lines = append(lines, "* "+r)
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

// QueryPatternsDoc renders the canned query templates with their notes.
func QueryPatternsDoc(q *reference.QueryPatterns) string {
	if !q.Loaded {
		return "Query patterns are not available.\nThe query-patterns artifact was not loaded.\n"
	}

	lines := []string{
		"AACT Query Patterns",
		rule,
		"",
	}
	for _, p := range q.Patterns {
		lines = append(lines, "-- "+p.Name+": "+p.Description)
		lines = append(lines, p.SQL)
		if p.Notes != "" {
			lines = append(lines, "-- Note: "+p.Notes)
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}
