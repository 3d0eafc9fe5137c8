// Package schema holds the AACT schema metadata: tables, columns, and
// foreign keys. The data is loaded once at startup, either from the bundled
// snapshot or from a live PostgreSQL instance, and never mutated afterwards.
package schema

// CentralTable is the clinical-study registry root that most other tables
// join to.
const CentralTable = "studies"

// CentralColumn is the shared identifier linking child tables to studies.
const CentralColumn = "nct_id"

// Table describes one AACT table. Columns are kept in ordinal position
// order; that order is display order.
type Table struct {
	Name         string   `json:"name"`
	Schema       string   `json:"schema"`
	Description  *string  `json:"description,omitempty"`
	Domain       string   `json:"domain,omitempty"`
	RowsPerStudy string   `json:"rows_per_study,omitempty"`
	Columns      []Column `json:"columns"`
}

// FullName returns the schema-qualified table name.
func (t *Table) FullName() string {
	return t.Schema + "." + t.Name
}

// Column describes one column of a table. Description is a pointer so that
// "no description provided" stays distinguishable from an empty description.
type Column struct {
	Name         string  `json:"name"`
	DataType     string  `json:"data_type"`
	IsNullable   bool    `json:"is_nullable"`
	IsPrimaryKey bool    `json:"is_primary_key"`
	IsForeignKey bool    `json:"is_foreign_key"`
	Description  *string `json:"description,omitempty"`
}

// ForeignKey is one relationship edge. Duplicate edges in the dataset are
// preserved; both render.
type ForeignKey struct {
	ChildTable   string `json:"child_table"`
	ChildColumn  string `json:"child_column"`
	ParentTable  string `json:"parent_table"`
	ParentColumn string `json:"parent_column"`
}
