package schema

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trialdata/aactschema/internal/logging"
)

// LiveConfig holds connection settings for a live AACT PostgreSQL instance.
type LiveConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	Schema   string
}

// LiveConfigFromEnv reads the AACT_DB_* environment variables. Returns
// ok=false when no host/user is configured, meaning the bundled snapshot
// should be used instead.
func LiveConfigFromEnv() (LiveConfig, bool) {
	cfg := LiveConfig{
		Host:     os.Getenv("AACT_DB_HOST"),
		Port:     os.Getenv("AACT_DB_PORT"),
		Database: os.Getenv("AACT_DB_NAME"),
		User:     os.Getenv("AACT_DB_USER"),
		Password: os.Getenv("AACT_DB_PASS"),
		Schema:   os.Getenv("AACT_DB_SCHEMA"),
	}
	if cfg.Port == "" {
		cfg.Port = "5432"
	}
	if cfg.Database == "" {
		cfg.Database = "aact"
	}
	if cfg.Schema == "" {
		cfg.Schema = "ctgov"
	}
	return cfg, cfg.Host != "" && cfg.User != ""
}

// DSN renders the pgx connection string.
func (c LiveConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=prefer",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// LoadLive introspects information_schema of a live database and builds a
// Store equivalent to the bundled snapshot, minus curated descriptions and
// domain metadata (those exist only in the snapshot).
func LoadLive(ctx context.Context, cfg LiveConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	poolCfg.MaxConns = 3
	poolCfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pkSet, err := loadKeyColumns(ctx, pool, cfg.Schema, "PRIMARY KEY")
	if err != nil {
		return nil, fmt.Errorf("loading primary keys: %w", err)
	}
	fks, err := loadForeignKeys(ctx, pool, cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("loading foreign keys: %w", err)
	}
	fkChildSet := make(map[[2]string]bool, len(fks))
	for _, fk := range fks {
		fkChildSet[[2]string{fk.ChildTable, fk.ChildColumn}] = true
	}

	tables, err := loadColumns(ctx, pool, cfg.Schema, pkSet, fkChildSet)
	if err != nil {
		return nil, fmt.Errorf("loading columns: %w", err)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables found in schema %q", cfg.Schema)
	}

	s := &Store{
		SchemaName:  cfg.Schema,
		Tables:      tables,
		ForeignKeys: fks,
		Live:        true,
	}
	s.buildIndex()
	logging.Info("Live schema loaded from %s: %d tables, %d foreign keys",
		cfg.Host, len(s.Tables), len(s.ForeignKeys))
	return s, nil
}

func loadColumns(ctx context.Context, pool *pgxpool.Pool, schemaName string, pkSet, fkSet map[[2]string]bool) ([]Table, error) {
	rows, err := pool.Query(ctx, `
		SELECT c.table_name, c.column_name, c.data_type, c.is_nullable
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema = $1 AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position`, schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	var cur *Table
	for rows.Next() {
		var tname, cname, dtype, nullable string
		if err := rows.Scan(&tname, &cname, &dtype, &nullable); err != nil {
			return nil, err
		}
		if cur == nil || cur.Name != tname {
			tables = append(tables, Table{Name: tname, Schema: schemaName})
			cur = &tables[len(tables)-1]
		}
		cur.Columns = append(cur.Columns, Column{
			Name:         cname,
			DataType:     dtype,
			IsNullable:   nullable == "YES",
			IsPrimaryKey: pkSet[[2]string{tname, cname}],
			IsForeignKey: fkSet[[2]string{tname, cname}],
		})
	}
	return tables, rows.Err()
}

func loadKeyColumns(ctx context.Context, pool *pgxpool.Pool, schemaName, constraintType string) (map[[2]string]bool, error) {
	rows, err := pool.Query(ctx, `
		SELECT kcu.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = $1 AND tc.table_schema = $2`,
		constraintType, schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[[2]string]bool)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, err
		}
		set[[2]string{table, column}] = true
	}
	return set, rows.Err()
}

func loadForeignKeys(ctx context.Context, pool *pgxpool.Pool, schemaName string) ([]ForeignKey, error) {
	rows, err := pool.Query(ctx, `
		SELECT
			kcu.table_name  AS child_table,
			kcu.column_name AS child_column,
			ccu.table_name  AS parent_table,
			ccu.column_name AS parent_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema   = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name
		 AND tc.table_schema   = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1
		ORDER BY kcu.table_name, kcu.column_name`, schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.ChildTable, &fk.ChildColumn, &fk.ParentTable, &fk.ParentColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}
