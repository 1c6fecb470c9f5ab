package index

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dipdup-net/indexer/internal/config"
	"github.com/dipdup-net/indexer/internal/database"
	"github.com/dipdup-net/indexer/internal/models"
)

func newTestRepo(t *testing.T) (*database.StateRepository, *sqlx.DB) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Kind: config.DatabaseSQLite, Path: ":memory:"})
	require.NoError(t, err)
	repo := database.NewStateRepository()
	require.NoError(t, repo.EnsureTables(context.Background(), db))
	return repo, db
}

func TestStateMachineAdvanceCommitsCursorWithCallback(t *testing.T) {
	repo, db := newTestRepo(t)
	defer db.Close()
	log := zap.NewNop().Sugar()

	var committedLevels []int64
	commit := func(ctx context.Context, tx *sqlx.Tx, level int64) error {
		committedLevels = append(committedLevels, level)
		return nil
	}

	sm, err := New(context.Background(), "hen", models.IndexKindOperation, db, repo, log, commit, nil)
	require.NoError(t, err)
	require.Equal(t, models.IndexStatusSyncing, sm.Status())

	require.NoError(t, sm.Advance(context.Background(), 100, 1000))
	require.Equal(t, int64(100), sm.Level())
	require.Equal(t, []int64{100}, committedLevels)

	persisted, err := repo.GetState(context.Background(), db, "hen")
	require.NoError(t, err)
	require.Equal(t, int64(100), persisted.Level)
}

func TestStateMachineTransitionsToRealtimeNearHead(t *testing.T) {
	repo, db := newTestRepo(t)
	defer db.Close()
	log := zap.NewNop().Sugar()

	noop := func(ctx context.Context, tx *sqlx.Tx, level int64) error { return nil }
	sm, err := New(context.Background(), "hen", models.IndexKindOperation, db, repo, log, noop, nil)
	require.NoError(t, err)

	require.NoError(t, sm.Advance(context.Background(), 500, 1000))
	require.Equal(t, models.IndexStatusSyncing, sm.Status(), "still far behind head")

	require.NoError(t, sm.Advance(context.Background(), 999, 1000))
	require.Equal(t, models.IndexStatusRealtime, sm.Status())
}

func TestStateMachineRollbackResetsCursor(t *testing.T) {
	repo, db := newTestRepo(t)
	defer db.Close()
	log := zap.NewNop().Sugar()

	var rolledBackTo []int64
	commit := func(ctx context.Context, tx *sqlx.Tx, level int64) error { return nil }
	rollback := func(ctx context.Context, tx *sqlx.Tx, toLevel int64) error {
		rolledBackTo = append(rolledBackTo, toLevel)
		return nil
	}

	sm, err := New(context.Background(), "hen", models.IndexKindOperation, db, repo, log, commit, rollback)
	require.NoError(t, err)
	require.NoError(t, sm.Advance(context.Background(), 500, 1000))

	require.NoError(t, sm.Rollback(context.Background(), 400))
	require.Equal(t, int64(400), sm.Level())
	require.Equal(t, []int64{400}, rolledBackTo)
	require.Equal(t, models.IndexStatusSyncing, sm.Status())
}

func TestStateMachineRollbackAboveCursorIsNoop(t *testing.T) {
	repo, db := newTestRepo(t)
	defer db.Close()
	log := zap.NewNop().Sugar()
	noop := func(ctx context.Context, tx *sqlx.Tx, level int64) error { return nil }

	sm, err := New(context.Background(), "hen", models.IndexKindOperation, db, repo, log, noop, nil)
	require.NoError(t, err)
	require.NoError(t, sm.Advance(context.Background(), 100, 1000))

	require.NoError(t, sm.Rollback(context.Background(), 200))
	require.Equal(t, int64(100), sm.Level())
}
