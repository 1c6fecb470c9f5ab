// Package reindex implements the Reindex/Reorg Controller of spec.md §4.5,
// §4.6: decides whether a run can resume against the existing schema or must
// wipe and restart, and drives the Postgres immune-table preservation
// algorithm. Grounded on original_source's dipdup/context.py _reindex /
// ReindexingReason handling and the teacher's migrations.go named-migration
// idiom (each reason below plays the role of one named migration step).
package reindex

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

// Reason names why a reindex was triggered, carried through logging the way
// dipdup-py tags its own reindex log lines.
type Reason string

const (
	ReasonSchemaModified   Reason = "schema_modified"
	ReasonConfigModified   Reason = "config_modified"
	ReasonManual           Reason = "manual"
	ReasonRollbackTooDeep  Reason = "rollback_too_deep"
)

// Controller decides, at startup, whether the existing schema can be reused,
// and performs the wipe-and-recreate dance when it cannot.
type Controller struct {
	cfg  config.DatabaseConfig
	log  *zap.SugaredLogger
	repo *database.StateRepository
}

func NewController(cfg config.DatabaseConfig, log *zap.SugaredLogger, repo *database.StateRepository) *Controller {
	return &Controller{cfg: cfg, log: log, repo: repo}
}

// CheckSchema compares storedHash (the hash recorded the last time this
// project ran) against currentHash (the hash of the DDL this build would
// create). A mismatch with no prior hash at all (storedHash == "") is a fresh
// database, not drift — callers should only call CheckSchema after confirming
// dipdup_state already has rows.
func (c *Controller) CheckSchema(storedHash, currentHash string) (Reason, bool) {
	if storedHash == currentHash {
		return "", false
	}
	return ReasonSchemaModified, true
}

// Reindex wipes every table a callback or the framework itself ever created
// and restarts from level 0 — spec.md §4.6 step 3 "Drop and recreate
// <schema>" on Postgres, "drop the database entirely" otherwise. On Postgres,
// tables listed in ImmuneTables are preserved by moving them into a holding
// schema before the project schema is dropped and recreated, then moved back
// (spec.md §4.5 Postgres immune-table algorithm). On SQLite there is no
// schema to drop and recreate, so every table the database actually contains
// is enumerated and dropped outright.
func (c *Controller) Reindex(ctx context.Context, db *sqlx.DB, reason Reason) error {
	c.log.Infow("reindexing", "reason", string(reason))
	metrics.ReindexesTotal.Inc()

	return database.WithTx(ctx, db, func(tx *sqlx.Tx) error {
		switch c.cfg.Kind {
		case config.DatabasePostgres:
			return c.reindexPostgres(ctx, tx)
		default:
			tables, err := database.ListTables(ctx, tx)
			if err != nil {
				return err
			}
			return database.DropAllTables(ctx, tx, tables)
		}
	})
}

// reindexPostgres implements the immune-table preservation algorithm: immune
// tables move to a holding schema, the project schema itself is dropped and
// recreated (wiping every table a handler ever created along with the
// framework's own), then immune tables move back.
func (c *Controller) reindexPostgres(ctx context.Context, tx *sqlx.Tx) error {
	schema := c.cfg.SchemaName
	if schema == "" {
		schema = "public"
	}
	holding := schema + "_immune"

	if len(c.cfg.ImmuneTables) > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", holding)); err != nil {
			return fmt.Errorf("create holding schema: %w", err)
		}
		for _, t := range c.cfg.ImmuneTables {
			if err := database.MoveTable(ctx, tx, t, schema, holding); err != nil {
				return fmt.Errorf("move immune table %q out: %w", t, err)
			}
		}
	}

	if err := database.RecreateSchema(ctx, tx, schema); err != nil {
		return fmt.Errorf("recreate schema %q: %w", schema, err)
	}

	for _, t := range c.cfg.ImmuneTables {
		if err := database.MoveTable(ctx, tx, t, holding, schema); err != nil {
			return fmt.Errorf("move immune table %q back: %w", t, err)
		}
	}
	return nil
}

// ResyncIndex resets a single index's own cursor back to NEW/level 0 and
// restamps its hashes, without touching any other index's data or tables —
// the narrower response to that one index's declared pattern changing
// (SPEC_FULL.md §3.1 ConfigHash drift), as opposed to Reindex's whole-database
// wipe for a DDL-wide schema change. The index picks its own history back up
// from level 0 the next time its StateMachine initializes (spec.md §4.3: a
// NEW-status row resyncs the same way a brand-new index would).
func (c *Controller) ResyncIndex(ctx context.Context, db *sqlx.DB, name, schemaHash, configHash string) error {
	c.log.Infow("resyncing index", "index", name, "reason", string(ReasonConfigModified))
	metrics.ReindexesTotal.Inc()
	return database.WithTx(ctx, db, func(tx *sqlx.Tx) error {
		return c.repo.SaveState(ctx, tx, &models.IndexState{
			Name:       name,
			Level:      0,
			Status:     int(models.IndexStatusNew),
			Hash:       schemaHash,
			ConfigHash: configHash,
		})
	})
}

// EscalateRollback logs that a reorg could not be rolled back incrementally and
// returns ReasonRollbackTooDeep as the reason for the full reindex that follows.
// The engine's own rollback handler does not call it; it sets ControlReindex
// directly.
func (c *Controller) EscalateRollback() Reason {
	c.log.Warnw("rollback could not be applied incrementally, escalating to reindex")
	return ReasonRollbackTooDeep
}
