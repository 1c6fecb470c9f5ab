package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaHashStableUnderColumnReordering(t *testing.T) {
	a := []string{"id INTEGER PRIMARY KEY,\nname TEXT,\nlevel INTEGER"}
	b := []string{"level INTEGER,\nid INTEGER PRIMARY KEY,\nname TEXT"}

	// column order differs but the same columns (one per line), same statement count
	require.Equal(t, SchemaHash(a), SchemaHash(b), "reordered column lines must hash identically")
	require.NotEqual(t, a, b)
}

func TestSchemaHashSensitiveToContentChange(t *testing.T) {
	a := SchemaHash([]string{"id INTEGER PRIMARY KEY"})
	b := SchemaHash([]string{"id INTEGER PRIMARY KEY, extra TEXT"})
	require.NotEqual(t, a, b)
}

func TestSchemaHashDeterministic(t *testing.T) {
	stmts := []string{
		"CREATE TABLE dipdup_state (dapp TEXT PRIMARY KEY, level INTEGER)",
		"CREATE TABLE dipdup_contract (name TEXT PRIMARY KEY, address TEXT)",
	}
	require.Equal(t, SchemaHash(stmts), SchemaHash(stmts))
	require.Len(t, SchemaHash(stmts), 64, "sha256 hex digest is 64 chars")
}
