// Package profiler is the offline batch job that queries a live AACT
// PostgreSQL database and writes the column-profile artifact the server
// embeds. It runs once per dataset refresh, never at serve time.
package profiler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/schollz/progressbar/v3"

	"github.com/trialdata/aactschema/internal/logging"
	"github.com/trialdata/aactschema/internal/profile"
)

// Mode selects the profiling strategy for one column.
type Mode string

const (
	// ModeEnum fetches the full value histogram, collapsing to a sample
	// when the column turns out to exceed the enum cap.
	ModeEnum Mode = "enum"
	// ModeAuto checks cardinality first and picks enum or text.
	ModeAuto Mode = "auto"
	// ModeText records distinct count plus a few random sample values.
	ModeText Mode = "text"
	// ModeNumeric records min/max/median/mean and null counts.
	ModeNumeric Mode = "numeric"
	// ModeDate records the date range and null counts.
	ModeDate Mode = "date"
	// ModeBoolean records true/false/null counts.
	ModeBoolean Mode = "boolean"
)

// ColumnSpec names one column to profile and how.
type ColumnSpec struct {
	Table  string
	Column string
	Mode   Mode
}

// DefaultColumns is the curated profiling list: the columns whose values an
// LLM must know to write correct filters (status strings, phases, types),
// plus the numeric and date columns that anchor range queries.
var DefaultColumns = []ColumnSpec{
	{"studies", "overall_status", ModeEnum},
	{"studies", "phase", ModeEnum},
	{"studies", "study_type", ModeEnum},
	{"studies", "enrollment_type", ModeEnum},
	{"studies", "source_class", ModeEnum},
	{"studies", "last_known_status", ModeEnum},
	{"studies", "biospec_retention", ModeEnum},
	{"studies", "plan_to_share_ipd", ModeEnum},
	{"studies", "enrollment", ModeNumeric},
	{"studies", "number_of_arms", ModeNumeric},
	{"studies", "number_of_groups", ModeNumeric},
	{"studies", "is_fda_regulated_drug", ModeBoolean},
	{"studies", "is_fda_regulated_device", ModeBoolean},
	{"studies", "has_dmc", ModeBoolean},
	{"studies", "has_expanded_access", ModeBoolean},
	{"studies", "fdaaa801_violation", ModeBoolean},
	{"studies", "start_date", ModeDate},
	{"studies", "completion_date", ModeDate},
	{"studies", "primary_completion_date", ModeDate},
	{"studies", "study_first_submitted_date", ModeDate},
	{"studies", "results_first_submitted_date", ModeDate},

	{"conditions", "downcase_name", ModeText},

	{"interventions", "intervention_type", ModeEnum},
	{"interventions", "name", ModeText},

	{"design_outcomes", "outcome_type", ModeEnum},
	{"design_outcomes", "measure", ModeText},

	{"outcomes", "outcome_type", ModeEnum},
	{"outcomes", "param_type", ModeEnum},
	{"outcomes", "dispersion_type", ModeEnum},
	{"outcomes", "units", ModeAuto},

	{"outcome_measurements", "param_type", ModeEnum},
	{"outcome_measurements", "dispersion_type", ModeEnum},
	{"outcome_measurements", "category", ModeAuto},

	{"outcome_analyses", "param_type", ModeEnum},
	{"outcome_analyses", "dispersion_type", ModeEnum},
	{"outcome_analyses", "method", ModeAuto},
	{"outcome_analyses", "non_inferiority_type", ModeEnum},

	{"designs", "allocation", ModeEnum},
	{"designs", "intervention_model", ModeEnum},
	{"designs", "observational_model", ModeEnum},
	{"designs", "primary_purpose", ModeEnum},
	{"designs", "time_perspective", ModeEnum},
	{"designs", "masking", ModeEnum},

	{"eligibilities", "gender", ModeEnum},
	{"eligibilities", "sampling_method", ModeEnum},
	{"eligibilities", "minimum_age", ModeText},
	{"eligibilities", "maximum_age", ModeText},

	{"sponsors", "agency_class", ModeEnum},
	{"sponsors", "lead_or_collaborator", ModeEnum},

	{"facilities", "status", ModeEnum},
	{"facilities", "country", ModeAuto},
	{"facilities", "city", ModeText},

	{"reported_events", "event_type", ModeEnum},
	{"reported_events", "assessment", ModeAuto},

	{"countries", "name", ModeAuto},
	{"countries", "removed", ModeBoolean},

	{"browse_conditions", "mesh_type", ModeEnum},

	{"baseline_measurements", "param_type", ModeEnum},
	{"baseline_measurements", "dispersion_type", ModeEnum},

	{"result_groups", "result_type", ModeEnum},
}

// Options configures one profiler run.
type Options struct {
	// URL is the PostgreSQL connection string.
	URL string
	// Schema is the database schema holding the tables. Default "ctgov".
	Schema string
	// EnumCap is the distinct-value ceiling above which an enum candidate
	// is recorded as a sample instead. Default 50.
	EnumCap int
	// SampleSize is how many random values a sample profile carries.
	// Default 5.
	SampleSize int
	// OutPath is where the artifact JSON is written.
	OutPath string
	// Columns overrides the default profiling list.
	Columns []ColumnSpec
	// Quiet suppresses the progress bar.
	Quiet bool
}

func (o *Options) applyDefaults() {
	if o.Schema == "" {
		o.Schema = "ctgov"
	}
	if o.EnumCap <= 0 {
		o.EnumCap = 50
	}
	if o.SampleSize <= 0 {
		o.SampleSize = 5
	}
	if len(o.Columns) == 0 {
		o.Columns = DefaultColumns
	}
}

// valueCount is one histogram bucket, ordered by frequency.
type valueCount struct {
	value string
	count int64
}

// artifact is the on-disk output shape.
type artifact struct {
	GeneratedBy    string                     `json:"_generated_by"`
	Description    string                     `json:"_description"`
	TableRowCounts map[string]int64           `json:"table_row_counts"`
	Profiles       map[string]profile.Profile `json:"profiles"`
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// validIdent rejects anything that is not a plain lowercase identifier.
// Table and column names are interpolated into SQL text, so this is the
// gate that keeps the curated list from becoming an injection surface.
func validIdent(name string) bool {
	return identRe.MatchString(name)
}

// Run connects, profiles every configured column, and writes the artifact.
// Individual column failures become error profiles; only connection and
// output failures abort the run.
func Run(ctx context.Context, opts Options) error {
	opts.applyDefaults()
	if opts.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if opts.OutPath == "" {
		return fmt.Errorf("output path is required")
	}

	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return fmt.Errorf("parsing database URL: %w", err)
	}
	cfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	p := &profiler{pool: pool, opts: opts}
	out, err := p.run(ctx)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}
	if err := os.WriteFile(opts.OutPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	logging.Info("Wrote %d profiles across %d tables to %s",
		len(out.Profiles), len(out.TableRowCounts), opts.OutPath)
	return nil
}

type profiler struct {
	pool *pgxpool.Pool
	opts Options
}

func (p *profiler) run(ctx context.Context) (*artifact, error) {
	out := &artifact{
		GeneratedBy: "aactschema profile",
		Description: "Statistical profiles of key AACT columns. Consumed by the " +
			"schema server for the aact://column-profiles resource. Regenerate " +
			"against the live AACT database after each dataset refresh.",
		TableRowCounts: make(map[string]int64),
		Profiles:       make(map[string]profile.Profile),
	}

	tables := tableSet(p.opts.Columns)
	for _, tbl := range tables {
		if !validIdent(tbl) {
			return nil, fmt.Errorf("invalid table name %q", tbl)
		}
		var n int64
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", p.opts.Schema, tbl)
		if err := p.pool.QueryRow(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", tbl, err)
		}
		out.TableRowCounts[tbl] = n
		logging.Debug("%s: %d rows", tbl, n)
	}

	var bar *progressbar.ProgressBar
	if !p.opts.Quiet {
		bar = progressbar.NewOptions(len(p.opts.Columns),
			progressbar.OptionSetDescription("profiling columns"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}

	failed := 0
	for _, spec := range p.opts.Columns {
		prof, err := p.profileColumn(ctx, spec)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.Warn("Profiling %s.%s failed: %v", spec.Table, spec.Column, err)
			prof = profile.Profile{
				Table:  spec.Table,
				Column: spec.Column,
				Kind:   profile.KindError,
				Err:    &profile.ErrorInfo{Message: err.Error()},
			}
			failed++
		}
		out.Profiles[prof.Key()] = prof
		if bar != nil {
			bar.Add(1)
		}
	}
	if failed > 0 {
		logging.Warn("%d of %d columns failed and were recorded as error profiles",
			failed, len(p.opts.Columns))
	}
	return out, nil
}

func (p *profiler) profileColumn(ctx context.Context, spec ColumnSpec) (profile.Profile, error) {
	if !validIdent(spec.Table) || !validIdent(spec.Column) {
		return profile.Profile{}, fmt.Errorf("invalid identifier %s.%s", spec.Table, spec.Column)
	}

	base := profile.Profile{Table: spec.Table, Column: spec.Column}
	switch spec.Mode {
	case ModeEnum:
		return p.profileEnum(ctx, base)
	case ModeAuto:
		n, err := p.distinctCount(ctx, base)
		if err != nil {
			return profile.Profile{}, err
		}
		if n <= p.opts.EnumCap {
			return p.profileEnum(ctx, base)
		}
		return p.profileText(ctx, base)
	case ModeText:
		return p.profileText(ctx, base)
	case ModeNumeric:
		return p.profileNumeric(ctx, base)
	case ModeDate:
		return p.profileDate(ctx, base)
	case ModeBoolean:
		return p.profileBoolean(ctx, base)
	default:
		return profile.Profile{}, fmt.Errorf("unknown profiling mode %q", spec.Mode)
	}
}

func (p *profiler) qualified(prof profile.Profile) (string, string) {
	return p.opts.Schema + "." + prof.Table, prof.Column
}

func (p *profiler) distinctCount(ctx context.Context, prof profile.Profile) (int, error) {
	tbl, col := p.qualified(prof)
	var n int
	q := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s WHERE %s IS NOT NULL", col, tbl, col)
	if err := p.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *profiler) nullCount(ctx context.Context, prof profile.Profile) (int64, error) {
	tbl, col := p.qualified(prof)
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", tbl, col)
	if err := p.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// profileEnum fetches the full histogram, downgrading to a sample when the
// column exceeds the enum cap.
func (p *profiler) profileEnum(ctx context.Context, prof profile.Profile) (profile.Profile, error) {
	tbl, col := p.qualified(prof)
	q := fmt.Sprintf(
		"SELECT %s::text, COUNT(*) FROM %s WHERE %s IS NOT NULL GROUP BY %s ORDER BY COUNT(*) DESC",
		col, tbl, col, col)
	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return profile.Profile{}, err
	}
	defer rows.Close()

	var counts []valueCount
	for rows.Next() {
		var vc valueCount
		if err := rows.Scan(&vc.value, &vc.count); err != nil {
			return profile.Profile{}, err
		}
		counts = append(counts, vc)
	}
	if err := rows.Err(); err != nil {
		return profile.Profile{}, err
	}

	nNull, err := p.nullCount(ctx, prof)
	if err != nil {
		return profile.Profile{}, err
	}
	return enumFromCounts(prof, counts, nNull, p.opts.EnumCap, p.opts.SampleSize), nil
}

// enumFromCounts builds the enum profile, or a sample profile when the
// histogram is too wide to be worth carrying in full.
func enumFromCounts(prof profile.Profile, counts []valueCount, nNull int64, enumCap, sampleSize int) profile.Profile {
	if len(counts) > enumCap {
		samples := make([]string, 0, sampleSize)
		for _, vc := range counts {
			if len(samples) == sampleSize {
				break
			}
			samples = append(samples, clip(vc.value, 120))
		}
		prof.Kind = profile.KindSample
		prof.Sample = &profile.SampleStats{
			NDistinct:    len(counts),
			NNull:        nNull,
			SampleValues: samples,
		}
		return prof
	}

	values := make(map[string]int64, len(counts))
	for _, vc := range counts {
		values[vc.value] = vc.count
	}
	prof.Kind = profile.KindEnum
	prof.Enum = &profile.EnumStats{
		NDistinct: len(counts),
		NNull:     nNull,
		Values:    values,
	}
	return prof
}

func (p *profiler) profileText(ctx context.Context, prof profile.Profile) (profile.Profile, error) {
	nDistinct, err := p.distinctCount(ctx, prof)
	if err != nil {
		return profile.Profile{}, err
	}
	nNull, err := p.nullCount(ctx, prof)
	if err != nil {
		return profile.Profile{}, err
	}

	tbl, col := p.qualified(prof)
	// ORDER BY RANDOM() is disallowed under SELECT DISTINCT, hence the
	// subquery.
	q := fmt.Sprintf(
		"SELECT %s::text FROM (SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL) sub ORDER BY RANDOM() LIMIT %d",
		col, col, tbl, col, p.opts.SampleSize)
	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return profile.Profile{}, err
	}
	defer rows.Close()

	samples := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return profile.Profile{}, err
		}
		samples = append(samples, clip(v, 120))
	}
	if err := rows.Err(); err != nil {
		return profile.Profile{}, err
	}

	prof.Kind = profile.KindSample
	prof.Sample = &profile.SampleStats{
		NDistinct:    nDistinct,
		NNull:        nNull,
		SampleValues: samples,
	}
	return prof, nil
}

func (p *profiler) profileNumeric(ctx context.Context, prof profile.Profile) (profile.Profile, error) {
	tbl, col := p.qualified(prof)
	q := fmt.Sprintf(`SELECT
		MIN(%s)::float8,
		MAX(%s)::float8,
		PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY %s)::float8,
		ROUND(AVG(%s)::numeric, 2)::float8,
		COUNT(*) FILTER (WHERE %s IS NULL),
		COUNT(*) FILTER (WHERE %s IS NOT NULL)
		FROM %s`, col, col, col, col, col, col, tbl)

	n := &profile.NumericStats{}
	if err := p.pool.QueryRow(ctx, q).Scan(&n.Min, &n.Max, &n.Median, &n.Mean, &n.NNull, &n.NNonNull); err != nil {
		return profile.Profile{}, err
	}
	prof.Kind = profile.KindNumeric
	prof.Numeric = n
	return prof, nil
}

func (p *profiler) profileDate(ctx context.Context, prof profile.Profile) (profile.Profile, error) {
	tbl, col := p.qualified(prof)
	q := fmt.Sprintf(`SELECT
		MIN(%s)::text,
		MAX(%s)::text,
		COUNT(*) FILTER (WHERE %s IS NULL),
		COUNT(*) FILTER (WHERE %s IS NOT NULL)
		FROM %s`, col, col, col, col, tbl)

	d := &profile.DateRangeStats{}
	if err := p.pool.QueryRow(ctx, q).Scan(&d.Min, &d.Max, &d.NNull, &d.NNonNull); err != nil {
		return profile.Profile{}, err
	}
	prof.Kind = profile.KindDateRange
	prof.DateRange = d
	return prof, nil
}

func (p *profiler) profileBoolean(ctx context.Context, prof profile.Profile) (profile.Profile, error) {
	tbl, col := p.qualified(prof)
	q := fmt.Sprintf(`SELECT
		COUNT(*) FILTER (WHERE %s = TRUE),
		COUNT(*) FILTER (WHERE %s = FALSE),
		COUNT(*) FILTER (WHERE %s IS NULL)
		FROM %s`, col, col, col, tbl)

	b := &profile.BooleanStats{}
	if err := p.pool.QueryRow(ctx, q).Scan(&b.NTrue, &b.NFalse, &b.NNull); err != nil {
		return profile.Profile{}, err
	}
	prof.Kind = profile.KindBoolean
	prof.Boolean = b
	return prof, nil
}

// FilterColumns keeps only the specs whose table is in the given set.
func FilterColumns(specs []ColumnSpec, tables []string) []ColumnSpec {
	want := make(map[string]bool, len(tables))
	for _, t := range tables {
		want[t] = true
	}
	var out []ColumnSpec
	for _, s := range specs {
		if want[s.Table] {
			out = append(out, s)
		}
	}
	return out
}

// tableSet returns the sorted distinct tables named by the specs.
func tableSet(specs []ColumnSpec) []string {
	seen := make(map[string]bool)
	var tables []string
	for _, s := range specs {
		if !seen[s.Table] {
			seen[s.Table] = true
			tables = append(tables, s.Table)
		}
	}
	sort.Strings(tables)
	return tables
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
