// Package index implements the Index State Machine of spec.md §4.3: one
// instance per configured index, holding the last-processed block level and
// transitioning between NEW, SYNCING, REALTIME, and ROLLBACK, persisting its
// cursor after each successful level commit.
package index

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/dipdup-net/indexer/internal/config"
	"github.com/dipdup-net/indexer/internal/database"
	"github.com/dipdup-net/indexer/internal/metrics"
	"github.com/dipdup-net/indexer/internal/models"
)

// ConfirmationWindow is how many blocks short of the head an index's cursor may
// be for Advance to move it from SYNCING to REALTIME. Advance does not hold the
// cursor back from the head once the index is in REALTIME.
const ConfirmationWindow = 2

// CommitFunc runs the handler/hook callbacks for one level and must return
// before the cursor is persisted, so both land in the same transaction
// (spec.md §4.3, §5 Transaction discipline).
type CommitFunc func(ctx context.Context, tx *sqlx.Tx, level int64) error

// RollbackFunc deletes rollback-aware records above level R (spec.md §4.6).
// Returning an error signals the affected index cannot roll back its own
// side-effects; the engine's rollback handler answers that by setting
// ControlReindex.
type RollbackFunc func(ctx context.Context, tx *sqlx.Tx, toLevel int64) error

// StateMachine drives one configured index's cursor through NEW → SYNCING →
// REALTIME, with ROLLBACK as the only transition permitted to decrease Level.
type StateMachine struct {
	Name string
	Kind models.IndexKind

	db    *sqlx.DB
	repo  *database.StateRepository
	log   *zap.SugaredLogger

	state models.IndexState

	onCommit   CommitFunc
	onRollback RollbackFunc
}

// New constructs a StateMachine for an index, loading any previously persisted
// cursor (or starting fresh at NEW/level 0).
func New(ctx context.Context, name string, kind models.IndexKind, db *sqlx.DB, repo *database.StateRepository, log *zap.SugaredLogger, onCommit CommitFunc, onRollback RollbackFunc) (*StateMachine, error) {
	sm := &StateMachine{
		Name: name, Kind: kind, db: db, repo: repo, log: log,
		onCommit: onCommit, onRollback: onRollback,
	}
	if err := sm.initializeState(ctx); err != nil {
		return nil, err
	}
	return sm, nil
}

// initializeState loads the persisted cursor, transitioning NEW → SYNCING once
// loaded (spec.md §4.3 transition table).
func (sm *StateMachine) initializeState(ctx context.Context) error {
	existing, err := sm.repo.GetState(ctx, sm.db, sm.Name)
	if err != nil {
		return fmt.Errorf("load state for index %q: %w", sm.Name, err)
	}
	if existing != nil {
		sm.state = *existing
	} else {
		sm.state = models.IndexState{Name: sm.Name, Level: 0, Status: int(models.IndexStatusNew), Kind: sm.Kind}
	}
	sm.transition(models.IndexStatusSyncing)
	return nil
}

func (sm *StateMachine) Level() int64                  { return sm.state.Level }
func (sm *StateMachine) Status() models.IndexStatus     { return models.IndexStatus(sm.state.Status) }

func (sm *StateMachine) transition(to models.IndexStatus) {
	sm.state.Status = int(to)
	metrics.IndexStatus.WithLabelValues(sm.Name).Set(float64(to))
}

// Advance runs onCommit for level inside a transaction together with the
// cursor update, so they commit or abort as one unit (spec.md §5). On success
// the cursor advances to level; on error the caller is expected to instruct
// the datasource to replay from the last committed cursor (spec.md §5
// Cancellation).
func (sm *StateMachine) Advance(ctx context.Context, level int64, head int64) error {
	if sm.Status() == models.IndexStatusRollback {
		// no callbacks fire until the cursor has been reset (spec.md §4.3 invariant)
		return fmt.Errorf("index %q: cannot advance while in ROLLBACK", sm.Name)
	}
	if level < sm.state.Level {
		return fmt.Errorf("index %q: level %d is behind cursor %d", sm.Name, level, sm.state.Level)
	}

	err := database.WithTx(ctx, sm.db, func(tx *sqlx.Tx) error {
		if sm.onCommit != nil {
			if err := sm.onCommit(ctx, tx, level); err != nil {
				return err
			}
		}
		sm.state.Level = level
		return sm.repo.SaveState(ctx, tx, &sm.state)
	})
	if err != nil {
		return err
	}

	metrics.IndexLevel.WithLabelValues(sm.Name).Set(float64(level))

	if sm.Status() == models.IndexStatusSyncing && level >= head-ConfirmationWindow {
		sm.transition(models.IndexStatusRealtime)
	}
	return nil
}

// Rollback handles a reorg to level R: if R >= cursor there is nothing to do
// for this index (spec.md §4.6: "every index with cursor > R enters
// ROLLBACK"). Otherwise it enters ROLLBACK, deletes rollback-aware records
// above R, resets the cursor, and returns to SYNCING — all within one
// transaction so the cursor reset and the deletions are atomic.
func (sm *StateMachine) Rollback(ctx context.Context, toLevel int64) error {
	if sm.state.Level <= toLevel {
		return nil
	}
	sm.transition(models.IndexStatusRollback)

	err := database.WithTx(ctx, sm.db, func(tx *sqlx.Tx) error {
		if sm.onRollback != nil {
			if err := sm.onRollback(ctx, tx, toLevel); err != nil {
				return fmt.Errorf("index %q cannot roll back its side-effects: %w", sm.Name, err)
			}
		}
		sm.state.Level = toLevel
		return sm.repo.SaveState(ctx, tx, &sm.state)
	})
	if err != nil {
		return err
	}

	metrics.IndexLevel.WithLabelValues(sm.Name).Set(float64(toLevel))
	sm.transition(models.IndexStatusSyncing)
	sm.log.Infow("index rolled back", "index", sm.Name, "level", toLevel)
	return nil
}

// Disable marks the index DISABLED and persists its state row.
func (sm *StateMachine) Disable(ctx context.Context) error {
	sm.transition(models.IndexStatusDisabled)
	return sm.repo.SaveState(ctx, sm.db, &sm.state)
}

// ResolveIndexes expands the config's declared indexes (after Initialize has
// resolved templates) into the list StateMachines should be built from. The
// order follows map iteration and is not defined.
func ResolveIndexes(cfg *config.Config) []*config.IndexEntry {
	var out []*config.IndexEntry
	for _, entry := range cfg.Indexes {
		out = append(out, entry)
	}
	return out
}
