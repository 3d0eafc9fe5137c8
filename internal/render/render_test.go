package render

import (
	"fmt"
	"strings"
	"testing"

	"github.com/trialdata/aactschema/internal/profile"
	"github.com/trialdata/aactschema/internal/reference"
	"github.com/trialdata/aactschema/internal/schema"
)

func strPtr(s string) *string { return &s }

func testStore() *schema.Store {
	data := []byte(`{
		"schema": "ctgov",
		"tables": [
			{
				"name": "studies",
				"schema": "ctgov",
				"description": "Basic info",
				"domain": "core",
				"rows_per_study": "1",
				"columns": [
					{"name": "nct_id", "data_type": "character varying", "is_nullable": false, "is_primary_key": true, "is_foreign_key": false},
					{"name": "brief_title", "data_type": "text", "is_nullable": true, "is_primary_key": false, "is_foreign_key": false},
					{"name": "phase", "data_type": "character varying", "is_nullable": true, "is_primary_key": false, "is_foreign_key": false}
				]
			},
			{
				"name": "outcomes",
				"schema": "ctgov",
				"domain": "results",
				"rows_per_study": "0+",
				"columns": [
					{"name": "id", "data_type": "integer", "is_nullable": false, "is_primary_key": true, "is_foreign_key": false},
					{"name": "nct_id", "data_type": "character varying", "is_nullable": true, "is_primary_key": false, "is_foreign_key": true}
				]
			},
			{
				"name": "conditions",
				"schema": "ctgov",
				"domain": "classification",
				"rows_per_study": "1+",
				"columns": [
					{"name": "id", "data_type": "integer", "is_nullable": false, "is_primary_key": true, "is_foreign_key": false},
					{"name": "nct_id", "data_type": "character varying", "is_nullable": true, "is_primary_key": false, "is_foreign_key": true},
					{"name": "name", "data_type": "character varying", "is_nullable": true, "is_primary_key": false, "is_foreign_key": false}
				]
			}
		],
		"foreign_keys": [
			{"child_table": "outcomes", "child_column": "nct_id", "parent_table": "studies", "parent_column": "nct_id"},
			{"child_table": "conditions", "child_column": "nct_id", "parent_table": "studies", "parent_column": "nct_id"},
			{"child_table": "outcomes", "child_column": "id", "parent_table": "outcome_analyses", "parent_column": "outcome_id"}
		]
	}`)
	s, err := schema.Load(data)
	if err != nil {
		panic(err)
	}
	return s
}

func TestColumnDDL(t *testing.T) {
	tests := []struct {
		name string
		col  schema.Column
		want string
	}{
		{
			name: "not null primary key",
			col:  schema.Column{Name: "nct_id", DataType: "character varying", IsNullable: false, IsPrimaryKey: true},
			want: "    nct_id character varying NOT NULL PRIMARY KEY,",
		},
		{
			name: "nullable plain column",
			col:  schema.Column{Name: "phase", DataType: "character varying", IsNullable: true},
			want: "    phase character varying,",
		},
		{
			name: "description becomes inline comment",
			col:  schema.Column{Name: "enrollment", DataType: "integer", IsNullable: true, Description: strPtr("Participant count.")},
			want: "    enrollment integer,  -- Participant count.",
		},
		{
			name: "nil description gets no comment",
			col:  schema.Column{Name: "source", DataType: "text", IsNullable: true, Description: nil},
			want: "    source text,",
		},
		{
			name: "empty description gets no comment",
			col:  schema.Column{Name: "source", DataType: "text", IsNullable: true, Description: strPtr("")},
			want: "    source text,",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ColumnDDL(tt.col); got != tt.want {
				t.Errorf("ColumnDDL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestColumnDDLDescriptionSanitization(t *testing.T) {
	long := strings.Repeat("x", 150)
	col := schema.Column{Name: "c", DataType: "text", IsNullable: true, Description: strPtr(long)}
	got := ColumnDDL(col)
	if !strings.Contains(got, strings.Repeat("x", 120)+"...") {
		t.Errorf("long description not truncated to 120 with ellipsis: %q", got)
	}
	if strings.Contains(got, strings.Repeat("x", 121)) {
		t.Errorf("truncated description longer than 120 characters: %q", got)
	}

	col = schema.Column{Name: "c", DataType: "text", IsNullable: true, Description: strPtr("a -- b\nc")}
	got = ColumnDDL(col)
	if strings.Count(got, "--") != 1 {
		t.Errorf("double hyphen in description must collapse, leaving only the comment marker: %q", got)
	}
	if strings.Contains(got, "\n") {
		t.Errorf("newline in description must become a space: %q", got)
	}
}

func TestTableDDLLineCounts(t *testing.T) {
	s := testStore()
	for i := range s.Tables {
		tbl := &s.Tables[i]
		out := TableDDL(tbl, s.ForeignKeys)

		colLines := 0
		fkLines := 0
		for _, line := range strings.Split(out, "\n") {
			if strings.HasPrefix(line, "    FOREIGN KEY") {
				fkLines++
			} else if strings.HasPrefix(line, "    ") {
				colLines++
			}
		}
		if colLines != len(tbl.Columns) {
			t.Errorf("%s: got %d column lines, want %d", tbl.Name, colLines, len(tbl.Columns))
		}
		if want := len(s.ChildKeys(tbl.Name)); fkLines != want {
			t.Errorf("%s: got %d FK lines, want %d", tbl.Name, fkLines, want)
		}
	}
}

func TestTableDDLForeignKeyLine(t *testing.T) {
	s := testStore()
	tbl, _ := s.Table("outcomes")
	out := TableDDL(tbl, s.ForeignKeys)

	if !strings.Contains(out, "FOREIGN KEY (id) REFERENCES ctgov.outcome_analyses(outcome_id)") {
		t.Errorf("missing hierarchical FK line:\n%s", out)
	}
	// The hierarchical edge is the last dataset edge for outcomes, so its
	// line is the one before ");" and must not carry a trailing comma.
	lines := strings.Split(out, "\n")
	last := lines[len(lines)-2]
	if strings.HasSuffix(last, ",") {
		t.Errorf("last line before ); keeps trailing comma: %q", last)
	}
	if lines[len(lines)-1] != ");" {
		t.Errorf("block must close with );, got %q", lines[len(lines)-1])
	}
}

func TestTableDDLMetadataComments(t *testing.T) {
	s := testStore()
	tbl, _ := s.Table("studies")
	out := TableDDL(tbl, s.ForeignKeys)

	if !strings.Contains(out, "-- Domain: core | Rows per study: 1") {
		t.Errorf("missing metadata comment:\n%s", out)
	}
	if !strings.Contains(out, "-- Basic info") {
		t.Errorf("missing description comment:\n%s", out)
	}
	if !strings.Contains(out, "CREATE TABLE ctgov.studies (") {
		t.Errorf("missing CREATE TABLE header:\n%s", out)
	}
}

func TestFullSchemaOneBlockPerTable(t *testing.T) {
	s := testStore()
	out := FullSchema(s)

	if got, want := strings.Count(out, "CREATE TABLE "), len(s.Tables); got != want {
		t.Errorf("got %d CREATE TABLE occurrences, want %d", got, want)
	}
	if !strings.Contains(out, fmt.Sprintf("%d tables | %d foreign key relationships", len(s.Tables), len(s.ForeignKeys))) {
		t.Errorf("header counts missing:\n%s", out[:200])
	}
	if !strings.Contains(out, "FOREIGN KEY RELATIONSHIP SUMMARY") {
		t.Error("relationship summary section missing")
	}
	if !strings.Contains(out, "-- outcomes.id -> outcome_analyses.outcome_id") {
		t.Error("summary must list each edge as child.col -> parent.col")
	}
}

func TestTableDocIdempotent(t *testing.T) {
	s := testStore()
	a := TableDoc(s, "studies")
	b := TableDoc(s, "studies")
	if a != b {
		t.Error("two successive renders of the same table differ")
	}
}

func TestTableDocRelationshipAnnotations(t *testing.T) {
	s := testStore()
	out := TableDoc(s, "studies")

	if !strings.Contains(out, "-- Tables referencing studies:") {
		t.Errorf("missing referencing section:\n%s", out)
	}
	if !strings.Contains(out, "--   outcomes.nct_id -> studies.nct_id") {
		t.Errorf("missing incoming edge:\n%s", out)
	}

	out = TableDoc(s, "outcomes")
	if !strings.Contains(out, "-- outcomes references:") {
		t.Errorf("missing references section:\n%s", out)
	}
	if !strings.Contains(out, "--   outcomes.id -> outcome_analyses.outcome_id") {
		t.Errorf("missing outgoing edge:\n%s", out)
	}
}

func TestTableDocUnknownTable(t *testing.T) {
	s := testStore()
	out := TableDoc(s, "nonexistent_table")

	if !strings.Contains(out, "nonexistent_table") {
		t.Error("error document must contain the requested name")
	}
	// Sorted full name set.
	if !strings.Contains(out, "conditions, outcomes, studies") {
		t.Errorf("error document must list all valid names sorted:\n%s", out)
	}
}

func TestTableList(t *testing.T) {
	s := testStore()
	out := TableList(s)

	var studiesLine string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "studies") {
			studiesLine = line
			break
		}
	}
	if studiesLine == "" {
		t.Fatalf("no line for studies:\n%s", out)
	}
	for _, want := range []string{"3", "core", "1", "Basic info"} {
		if !strings.Contains(studiesLine, want) {
			t.Errorf("studies line missing %q: %q", want, studiesLine)
		}
	}
	if !strings.Contains(out, "Total: 3 tables") {
		t.Error("missing total count")
	}
}

func TestRelationshipsPartition(t *testing.T) {
	s := testStore()
	out := Relationships(s)

	nctSection := out[strings.Index(out, "--- nct_id joins"):strings.Index(out, "--- Hierarchical")]
	hierSection := out[strings.Index(out, "--- Hierarchical"):strings.Index(out, "--- Common JOIN")]

	if !strings.Contains(nctSection, "outcomes.nct_id -> studies.nct_id") {
		t.Errorf("nct_id edge missing from central-join section:\n%s", nctSection)
	}
	if strings.Contains(nctSection, "outcome_analyses") {
		t.Errorf("hierarchical edge leaked into central-join section:\n%s", nctSection)
	}
	if !strings.Contains(hierSection, "outcomes.id -> outcome_analyses.outcome_id") {
		t.Errorf("hierarchical edge missing:\n%s", hierSection)
	}
	if !strings.Contains(out, "Total: 3 relationships") {
		t.Error("missing edge count")
	}
	if !strings.Contains(out, "--- Common JOIN patterns ---") {
		t.Error("missing join-pattern examples")
	}
}

func TestProfileEntryBoolean(t *testing.T) {
	p := profile.Profile{
		Table:   "studies",
		Column:  "has_dmc",
		Kind:    profile.KindBoolean,
		Boolean: &profile.BooleanStats{NTrue: 10, NFalse: 5, NNull: 2},
	}
	got := ProfileEntry(p)
	for _, want := range []string{"true=10", "false=5", "null=2"} {
		if !strings.Contains(got, want) {
			t.Errorf("boolean entry missing %q: %q", want, got)
		}
	}
}

func TestProfileEntryEnum(t *testing.T) {
	values := map[string]int64{}
	for i := 0; i < 25; i++ {
		values[fmt.Sprintf("value%02d", i)] = int64(100 - i)
	}
	p := profile.Profile{
		Table:  "studies",
		Column: "overall_status",
		Kind:   profile.KindEnum,
		Enum:   &profile.EnumStats{NDistinct: 25, NNull: 7, Values: values},
	}
	got := ProfileEntry(p)

	if !strings.Contains(got, "value00=100") {
		t.Errorf("highest count must render first: %q", got)
	}
	if strings.Contains(got, "value20=") {
		t.Errorf("values past the top 20 must not render: %q", got)
	}
	if !strings.Contains(got, "and 5 more") {
		t.Errorf("truncated enum must say how many values were omitted: %q", got)
	}
	if strings.Index(got, "value00=100") > strings.Index(got, "value01=99") {
		t.Errorf("values must sort by descending count: %q", got)
	}
}

func TestProfileEntrySmallEnumNoSuffix(t *testing.T) {
	p := profile.Profile{
		Table:  "studies",
		Column: "study_type",
		Kind:   profile.KindEnum,
		Enum:   &profile.EnumStats{NDistinct: 2, Values: map[string]int64{"Interventional": 9, "Observational": 3}},
	}
	got := ProfileEntry(p)
	if strings.Contains(got, "more") {
		t.Errorf("untruncated enum must not claim omitted values: %q", got)
	}
	if !strings.Contains(got, "Interventional=9, Observational=3") {
		t.Errorf("unexpected enum rendering: %q", got)
	}
}

func TestProfileEntryNumericAndDates(t *testing.T) {
	min, max, median, mean := 0.0, 99.5, 12.0, 15.25
	p := profile.Profile{
		Table: "studies", Column: "enrollment", Kind: profile.KindNumeric,
		Numeric: &profile.NumericStats{Min: &min, Max: &max, Median: &median, Mean: &mean, NNull: 3, NNonNull: 97},
	}
	got := ProfileEntry(p)
	for _, want := range []string{"min=0", "max=99.5", "median=12", "mean=15.25", "null=3", "non-null=97"} {
		if !strings.Contains(got, want) {
			t.Errorf("numeric entry missing %q: %q", want, got)
		}
	}

	p = profile.Profile{
		Table: "studies", Column: "enrollment", Kind: profile.KindNumeric,
		Numeric: &profile.NumericStats{NNull: 100},
	}
	got = ProfileEntry(p)
	if !strings.Contains(got, "min=n/a") {
		t.Errorf("all-null numeric column must render n/a bounds: %q", got)
	}

	lo, hi := "1999-01-01", "2030-12-01"
	p = profile.Profile{
		Table: "studies", Column: "start_date", Kind: profile.KindDateRange,
		DateRange: &profile.DateRangeStats{Min: &lo, Max: &hi, NNull: 1, NNonNull: 9},
	}
	got = ProfileEntry(p)
	if !strings.Contains(got, "min=1999-01-01") || !strings.Contains(got, "max=2030-12-01") {
		t.Errorf("date range entry missing bounds: %q", got)
	}
}

func TestProfileEntryError(t *testing.T) {
	p := profile.Profile{
		Table: "eligibilities", Column: "criteria", Kind: profile.KindError,
		Err: &profile.ErrorInfo{Message: "statement timeout"},
	}
	got := ProfileEntry(p)
	if !strings.Contains(got, "statement timeout") {
		t.Errorf("error entry must render the stored message: %q", got)
	}
	if strings.Contains(got, "min=") || strings.Contains(got, "distinct") {
		t.Errorf("error entry must not look like a statistics line: %q", got)
	}
}

func TestProfileEntryUnknownKind(t *testing.T) {
	p := profile.Profile{Table: "studies", Column: "phase", Kind: "histogram_v2"}
	got := ProfileEntry(p)
	if !strings.Contains(got, "histogram_v2") {
		t.Errorf("unknown kind must render a fallback naming the kind: %q", got)
	}
}

func TestTableProfiles(t *testing.T) {
	data := []byte(`{
		"table_row_counts": {"studies": 1234},
		"profiles": {
			"studies.has_dmc": {"table": "studies", "column": "has_dmc", "profile_type": "boolean", "n_true": 10, "n_false": 5, "n_null": 2},
			"studies.phase": {"table": "studies", "column": "phase", "profile_type": "enum", "n_distinct": 2, "n_null": 0, "values": {"Phase 1": 3, "Phase 2": 7}}
		}
	}`)
	ps, err := profile.Load(data)
	if err != nil {
		t.Fatal(err)
	}

	out := TableProfiles(ps, "studies")
	if !strings.Contains(out, "Total rows: 1234") {
		t.Errorf("missing row count:\n%s", out)
	}
	if !strings.Contains(out, "has_dmc") || !strings.Contains(out, "phase") {
		t.Errorf("missing profile lines:\n%s", out)
	}
	// Sorted by column name.
	if strings.Index(out, "has_dmc") > strings.Index(out, "phase (") {
		t.Errorf("profiles must sort by column name:\n%s", out)
	}

	out = TableProfiles(ps, "facilities")
	if !strings.Contains(out, "No column profiles available for table 'facilities'") {
		t.Errorf("missing per-table not-available message:\n%s", out)
	}

	out = TableProfiles(profile.Empty(), "studies")
	if !strings.Contains(out, "not available") {
		t.Errorf("empty store must render the not-available document:\n%s", out)
	}
}

func TestProfilesOverview(t *testing.T) {
	data := []byte(`{
		"table_row_counts": {"studies": 50},
		"profiles": {
			"studies.phase": {"table": "studies", "column": "phase", "profile_type": "enum", "n_distinct": 1, "n_null": 0, "values": {"Phase 1": 50}}
		}
	}`)
	ps, err := profile.Load(data)
	if err != nil {
		t.Fatal(err)
	}

	out := ProfilesOverview(ps)
	if !strings.Contains(out, "1 columns profiled across 1 tables") {
		t.Errorf("missing counts:\n%s", out)
	}
	if !strings.Contains(out, "studies") || !strings.Contains(out, "50") {
		t.Errorf("missing per-table row:\n%s", out)
	}

	if out := ProfilesOverview(profile.Empty()); !strings.Contains(out, "not available") {
		t.Errorf("empty store must render the not-available document:\n%s", out)
	}
}

func TestGlossaryDoc(t *testing.T) {
	g := &reference.Glossary{
		Terms: []reference.Term{
			{Term: "phase", MapsTo: "studies.phase", Definition: "Trial phase.", Caution: "NULL for observational studies."},
		},
		DomainRules: []string{"Join through studies via nct_id."},
		Loaded:      true,
	}
	out := GlossaryDoc(g)
	for _, want := range []string{"phase -> studies.phase", "Trial phase.", "CAUTION: NULL for observational studies.", "* Join through studies via nct_id."} {
		if !strings.Contains(out, want) {
			t.Errorf("glossary missing %q:\n%s", want, out)
		}
	}

	if out := GlossaryDoc(reference.EmptyGlossary()); !strings.Contains(out, "not available") {
		t.Errorf("missing glossary must render not-available:\n%s", out)
	}
}

func TestQueryPatternsDoc(t *testing.T) {
	q := &reference.QueryPatterns{
		Patterns: []reference.Pattern{
			{Name: "by_condition", Description: "Find studies by condition.", SQL: "SELECT 1", Notes: "Use mesh-list terms."},
		},
		Loaded: true,
	}
	out := QueryPatternsDoc(q)
	for _, want := range []string{"by_condition", "SELECT 1", "Note: Use mesh-list terms."} {
		if !strings.Contains(out, want) {
			t.Errorf("query patterns missing %q:\n%s", want, out)
		}
	}

	if out := QueryPatternsDoc(reference.EmptyQueryPatterns()); !strings.Contains(out, "not available") {
		t.Errorf("missing patterns must render not-available:\n%s", out)
	}
}
