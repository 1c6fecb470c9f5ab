package callback

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dipdup-net/indexer/internal/config"
	"github.com/dipdup-net/indexer/internal/database"
	dipdup_errors "github.com/dipdup-net/indexer/internal/errors"
)

func newTestManager(t *testing.T, cfg *config.Config) (*Manager, *sqlx.DB) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Kind: config.DatabaseSQLite, Path: ":memory:"})
	require.NoError(t, err)
	repo := database.NewStateRepository()
	require.NoError(t, repo.EnsureTables(context.Background(), db))
	if cfg == nil {
		cfg = &config.Config{Package: "demo", Hooks: map[string]*config.HookConfig{}}
	}
	return NewManager(cfg, zap.NewNop().Sugar(), repo), db
}

func TestFireHandlerUnregisteredReturnsHandlerImportError(t *testing.T) {
	mgr, db := newTestManager(t, nil)
	err := database.WithTx(context.Background(), db, func(tx *sqlx.Tx) error {
		return mgr.FireHandler(context.Background(), tx, "missing", nil)
	})
	var importErr *dipdup_errors.HandlerImportError
	require.ErrorAs(t, err, &importErr)
}

func TestFireHandlerWrapsUnderlyingError(t *testing.T) {
	mgr, db := newTestManager(t, nil)
	mgr.RegisterHandler("boom", func(ctx *HandlerContext) error { return errors.New("bad state") })

	err := database.WithTx(context.Background(), db, func(tx *sqlx.Tx) error {
		return mgr.FireHandler(context.Background(), tx, "boom", nil)
	})
	var cbErr *dipdup_errors.CallbackError
	require.ErrorAs(t, err, &cbErr)
	require.Equal(t, 4, cbErr.ExitCode())
}

func TestFireHookDefaultUnimplementedIsNotFatal(t *testing.T) {
	mgr, db := newTestManager(t, nil)
	err := database.WithTx(context.Background(), db, func(tx *sqlx.Tx) error {
		return mgr.FireHook(context.Background(), tx, "on_rollback", nil)
	})
	var notImpl *dipdup_errors.CallbackNotImplementedError
	require.ErrorAs(t, err, &notImpl)
}

func TestFireHookArgTypeMismatch(t *testing.T) {
	cfg := &config.Config{
		Package: "demo",
		Hooks: map[string]*config.HookConfig{
			"seed": {Callback: "seed", Args: []config.HookArgSpec{{Name: "count", Type: "int"}}},
		},
	}
	mgr, db := newTestManager(t, cfg)
	mgr.RegisterHook("seed", func(ctx *HookContext, args map[string]any) error { return nil })

	err := database.WithTx(context.Background(), db, func(tx *sqlx.Tx) error {
		return mgr.FireHook(context.Background(), tx, "seed", map[string]any{"count": "not-an-int"})
	})
	var typeErr *dipdup_errors.CallbackTypeError
	require.ErrorAs(t, err, &typeErr)
}

func TestAddContractRejectsDuplicateAddress(t *testing.T) {
	cfg := &config.Config{Package: "demo", Contracts: map[string]*config.ContractConfig{
		"hen": {Address: "KT1hen"},
	}, Hooks: map[string]*config.HookConfig{}}
	mgr, db := newTestManager(t, cfg)
	mgr.RegisterHandler("h", func(ctx *HandlerContext) error {
		return ctx.AddContract("other", "KT1hen", "")
	})

	err := database.WithTx(context.Background(), db, func(tx *sqlx.Tx) error {
		return mgr.FireHandler(context.Background(), tx, "h", nil)
	})
	var cbErr *dipdup_errors.CallbackError
	require.ErrorAs(t, err, &cbErr)
	var existsErr *dipdup_errors.ContractAlreadyExistsError
	require.ErrorAs(t, cbErr.Unwrap(), &existsErr)
}

func TestCheckRegisteredAllowsDefaultHooks(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	require.NoError(t, mgr.CheckRegistered("on_restart"))
	require.NoError(t, mgr.CheckRegistered("on_rollback"))

	err := mgr.CheckRegistered("on_transfer")
	var importErr *dipdup_errors.HandlerImportError
	require.ErrorAs(t, err, &importErr)
}
