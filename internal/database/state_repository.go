package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dipdup-net/indexer/internal/models"
)

// StateRepository persists IndexState and Contract rows, matching the
// dipdup_state / dipdup_contract tables of spec.md §6.
type StateRepository struct{}

func NewStateRepository() *StateRepository { return &StateRepository{} }

// EnsureTables creates dipdup_state and dipdup_contract if absent. Safe to call
// against either backend; the DDL below is portable across SQLite and Postgres.
func (r *StateRepository) EnsureTables(ctx context.Context, conn Conn) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dipdup_state (
			dapp TEXT PRIMARY KEY,
			level INTEGER NOT NULL,
			status INTEGER NOT NULL,
			hash TEXT NOT NULL,
			config_hash TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS dipdup_contract (
			name TEXT PRIMARY KEY,
			address TEXT UNIQUE NOT NULL,
			typename TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure tables: %w", err)
		}
	}
	return nil
}

// DDL returns the column definitions of the two tables EnsureTables creates,
// one string per table, for SchemaHash.
func (r *StateRepository) DDL() []string {
	return []string{
		"dapp TEXT PRIMARY KEY level INTEGER NOT NULL status INTEGER NOT NULL hash TEXT NOT NULL config_hash TEXT NOT NULL DEFAULT ''",
		"name TEXT PRIMARY KEY address TEXT UNIQUE NOT NULL typename TEXT",
	}
}

// GetState loads the persisted cursor for name, or (nil, nil) if it has never
// been written (a brand-new index starts in NEW with level 0).
func (r *StateRepository) GetState(ctx context.Context, conn Conn, name string) (*models.IndexState, error) {
	var state models.IndexState
	query := `SELECT dapp, level, status, hash, config_hash FROM dipdup_state WHERE dapp = ?`
	query = rebind(conn, query)
	if err := conn.GetContext(ctx, &state, query, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// SaveState upserts the cursor row. Called within the same transaction as the
// callback outputs it validates (spec.md §4.3 invariant).
func (r *StateRepository) SaveState(ctx context.Context, conn Conn, state *models.IndexState) error {
	query := rebind(conn, `
		INSERT INTO dipdup_state (dapp, level, status, hash, config_hash) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (dapp) DO UPDATE SET level = excluded.level, status = excluded.status, hash = excluded.hash, config_hash = excluded.config_hash
	`)
	_, err := conn.ExecContext(ctx, query, state.Name, state.Level, state.Status, state.Hash, state.ConfigHash)
	return err
}

// SaveContract inserts a contract row, failing silently on a pre-existing row
// (the caller, Context.AddContract, has already checked name/address collisions
// against in-memory config before calling this).
func (r *StateRepository) SaveContract(ctx context.Context, conn Conn, c *models.Contract) error {
	query := rebind(conn, `
		INSERT INTO dipdup_contract (name, address, typename) VALUES (?, ?, ?)
		ON CONFLICT (name) DO NOTHING
	`)
	_, err := conn.ExecContext(ctx, query, c.Name, c.Address, c.Typename)
	return err
}

// ListContracts returns every persisted contract row.
func (r *StateRepository) ListContracts(ctx context.Context, conn Conn) ([]models.Contract, error) {
	var out []models.Contract
	query := `SELECT name, address, typename FROM dipdup_contract`
	if err := conn.SelectContext(ctx, &out, query); err != nil {
		return nil, err
	}
	return out, nil
}

// rebind translates '?' placeholders into the bind style of conn's driver
// (Postgres driver stacks such as pgx expect $1 positional placeholders, SQLite
// expects '?') when conn has a Rebind method, as *sqlx.DB and *sqlx.Tx do; any
// other Conn gets the query back unchanged.
func rebind(conn Conn, query string) string {
	if b, ok := conn.(interface{ Rebind(string) string }); ok {
		return b.Rebind(query)
	}
	return query
}
