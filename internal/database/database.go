// Package database threads a single *sqlx.DB (or an active transaction bound to
// it) through the context object, modeling spec.md §9's "global transaction" as
// explicit connection threading rather than the teacher's process-wide handle
// swap: a DipDupContext simply carries whichever Conn is live for the current
// commit unit (SPEC_FULL.md §9, §5 Transaction discipline).
package database

import (
	"context"
	"crypto/sha256"
	dbsql "database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres database/sql driver
	_ "modernc.org/sqlite"             // sqlite database/sql driver (pure Go)

	"github.com/dipdup-net/indexer/internal/config"
)

// Conn is satisfied by both *sqlx.DB and *sqlx.Tx so callbacks and state
// persistence can run against either a plain connection or a commit-unit
// transaction without type switches at every call site.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (dbsql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Open dials the configured backend and returns a ready *sqlx.DB.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	switch cfg.Kind {
	case config.DatabaseSQLite:
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		return sqlx.Open("sqlite", path)
	case config.DatabasePostgres:
		return sqlx.Open("pgx", cfg.ConnString)
	default:
		return nil, fmt.Errorf("unknown database kind %q", cfg.Kind)
	}
}

// WithTx runs fn inside a transaction on db and commits iff fn returns nil,
// matching the "commit unit" discipline of spec.md §5: all callback mutations
// plus the cursor update either commit together or abort together.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// SchemaHash computes a deterministic fingerprint of the model layout, used to
// detect schema drift between runs (spec.md §3). DDL statements are lower-cased
// by neither side; they're sorted line-by-line with commas stripped so that
// column-order differences in generated DDL don't change the hash (spec.md §8:
// "The schema hash is stable under reordering of columns that differ only in
// DDL text order"), exactly mirroring dipdup-py's get_schema_hash.
func SchemaHash(ddlStatements []string) string {
	joined := strings.Join(ddlStatements, "\n")
	lines := strings.Split(strings.ReplaceAll(joined, ",", ""), "\n")
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// RecreateSchema drops and recreates a Postgres schema (name, CASCADE).
func RecreateSchema(ctx context.Context, conn Conn, name string) error {
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", name)); err != nil {
		return err
	}
	_, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", name))
	return err
}

// MoveTable reassigns a table from one Postgres schema to another.
func MoveTable(ctx context.Context, conn Conn, table, fromSchema, toSchema string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s.%s SET SCHEMA %s", fromSchema, table, toSchema))
	return err
}

// DropAllTables drops exactly the named tables. Used by the non-Postgres
// reindex path with the table list ListTables returns; the Postgres path drops
// and recreates the schema instead.
func DropAllTables(ctx context.Context, conn Conn, tables []string) error {
	for _, t := range tables {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", t)); err != nil {
			return err
		}
	}
	return nil
}

// ListTables returns every user table in a SQLite database (sqlite_master,
// excluding SQLite's own internal sqlite_% tables). There is no schema concept
// to drop-and-recreate on SQLite, so the non-Postgres reindex path enumerates
// every table this way and drops them all, mirroring Tortoise._drop_databases'
// effect for spec.md §4.6 "On non-Postgres: drop the database entirely, then
// restart."
func ListTables(ctx context.Context, conn Conn) ([]string, error) {
	var names []string
	query := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`
	if err := conn.SelectContext(ctx, &names, query); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}
