package reindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dipdup-net/indexer/internal/config"
	"github.com/dipdup-net/indexer/internal/database"
	"github.com/dipdup-net/indexer/internal/models"
)

func TestCheckSchemaDetectsDrift(t *testing.T) {
	ctrl := NewController(config.DatabaseConfig{Kind: config.DatabaseSQLite}, zap.NewNop().Sugar(), nil)

	reason, drifted := ctrl.CheckSchema("abc123", "abc123")
	require.False(t, drifted)
	require.Empty(t, reason)

	reason, drifted = ctrl.CheckSchema("abc123", "def456")
	require.True(t, drifted)
	require.Equal(t, ReasonSchemaModified, reason)
}

func TestEscalateRollbackReturnsReason(t *testing.T) {
	ctrl := NewController(config.DatabaseConfig{Kind: config.DatabaseSQLite}, zap.NewNop().Sugar(), nil)
	require.Equal(t, ReasonRollbackTooDeep, ctrl.EscalateRollback())
}

func TestReindexSQLiteDropsAllTables(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{Kind: config.DatabaseSQLite, Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	repo := database.NewStateRepository()
	require.NoError(t, repo.EnsureTables(ctx, db))
	require.NoError(t, repo.SaveContract(ctx, db, &models.Contract{Name: "hen", Address: "KT1hen"}))
	_, err = db.ExecContext(ctx, "CREATE TABLE hen_transfers (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	ctrl := NewController(config.DatabaseConfig{Kind: config.DatabaseSQLite}, zap.NewNop().Sugar(), repo)
	require.NoError(t, ctrl.Reindex(ctx, db, ReasonManual))

	tables, err := database.ListTables(ctx, db)
	require.NoError(t, err)
	require.Empty(t, tables, "reindex must drop every user table, not just the framework's own")

	require.NoError(t, repo.EnsureTables(ctx, db))
	contracts, err := repo.ListContracts(ctx, db)
	require.NoError(t, err)
	require.Empty(t, contracts)
}

func TestResyncIndexResetsOnlyThatIndex(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{Kind: config.DatabaseSQLite, Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	repo := database.NewStateRepository()
	require.NoError(t, repo.EnsureTables(ctx, db))
	require.NoError(t, repo.SaveState(ctx, db, &models.IndexState{Name: "hen", Level: 500, Status: int(models.IndexStatusRealtime), Hash: "schema1", ConfigHash: "old"}))
	require.NoError(t, repo.SaveState(ctx, db, &models.IndexState{Name: "quipu", Level: 600, Status: int(models.IndexStatusRealtime), Hash: "schema1", ConfigHash: "unrelated"}))

	ctrl := NewController(config.DatabaseConfig{Kind: config.DatabaseSQLite}, zap.NewNop().Sugar(), repo)
	require.NoError(t, ctrl.ResyncIndex(ctx, db, "hen", "schema1", "new"))

	hen, err := repo.GetState(ctx, db, "hen")
	require.NoError(t, err)
	require.Equal(t, int64(0), hen.Level)
	require.Equal(t, int(models.IndexStatusNew), hen.Status)
	require.Equal(t, "new", hen.ConfigHash)

	quipu, err := repo.GetState(ctx, db, "quipu")
	require.NoError(t, err)
	require.Equal(t, int64(600), quipu.Level, "resyncing one index must not touch another index's cursor")
}
