package callback

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/dipdup-net/indexer/internal/config"
	dipdup_errors "github.com/dipdup-net/indexer/internal/errors"
	"github.com/dipdup-net/indexer/internal/database"
	"github.com/dipdup-net/indexer/internal/models"
)

// DipdupContext is the handle every callback receives, threading the live
// transaction through context rather than a global connection handle
// (SPEC_FULL.md §9 redesign note). AddContract/AddIndex mutate the in-memory
// config the running process holds; the running engine does not pick them up
// until it is next rebuilt from that config.
type DipdupContext struct {
	ctx context.Context
	tx  *sqlx.Tx
	cfg *config.Config
	mgr *Manager

	repo *database.StateRepository

	reindexRequested bool
	restartRequested bool
}

func (c *DipdupContext) Context() context.Context { return c.ctx }
func (c *DipdupContext) Tx() *sqlx.Tx              { return c.tx }
func (c *DipdupContext) Config() *config.Config    { return c.cfg }

// AddContract registers a new contract at runtime, persisting it immediately
// so a subsequent restart picks it up (spec.md §4.4 add_contract).
func (c *DipdupContext) AddContract(name, address, typename string) error {
	if existing, ok := c.cfg.Contracts[name]; ok {
		active := map[string]string{name: existing.Address}
		return dipdup_errors.NewContractAlreadyExistsError(name, address, active)
	}
	for n, contract := range c.cfg.Contracts {
		if contract.Address == address {
			return dipdup_errors.NewContractAlreadyExistsError(name, address, map[string]string{n: address})
		}
	}
	c.cfg.Contracts[name] = &config.ContractConfig{Address: address, Typename: typename}
	if c.repo != nil {
		if err := c.repo.SaveContract(c.ctx, c.tx, &models.Contract{Name: name, Address: address, Typename: typename}); err != nil {
			return err
		}
	}
	return nil
}

// AddIndex registers a new index declaration at runtime. Unlike spec.md
// §4.4's "spawns the index immediately", this only stages the declaration in
// the in-memory config: its StateMachine is not constructed, nor is it
// registered with the running OperationCache/BigMapCache, until the engine is
// next rebuilt from cfg.Indexes. Wiring a live
// spawn here would need the callback package to reach into engine/index/cache
// to register a machine and caches that are already running mid-dispatch —
// those packages import callback, so that dependency can't run the other way
// without a cycle. Documented as a deliberate deviation (see DESIGN.md).
func (c *DipdupContext) AddIndex(name string, entry *config.IndexEntry) error {
	if _, ok := c.cfg.Indexes[name]; ok {
		active := make([]string, 0, len(c.cfg.Indexes))
		for n := range c.cfg.Indexes {
			active = append(active, n)
		}
		return dipdup_errors.NewIndexAlreadyExistsError(name, active)
	}
	entry.Name = name
	c.cfg.Indexes[name] = entry
	return nil
}

// Reindex sets the flag ReindexRequested reports. The context is discarded when
// the callback returns and nothing in the engine or run loop reads the flag, so
// calling it does not by itself drop the schema or trigger a reindex.
func (c *DipdupContext) Reindex() { c.reindexRequested = true }

// Restart sets the flag RestartRequested reports. The context is discarded when
// the callback returns and nothing in the engine or run loop reads the flag, so
// calling it does not by itself restart the engine.
func (c *DipdupContext) Restart() { c.restartRequested = true }

func (c *DipdupContext) ReindexRequested() bool { return c.reindexRequested }
func (c *DipdupContext) RestartRequested() bool { return c.restartRequested }

// FireHook delegates to the Manager, letting hooks call other hooks (spec.md
// §4.4 fire_hook).
func (c *DipdupContext) FireHook(name string, args map[string]any) error {
	return c.mgr.FireHook(c.ctx, c.tx, name, args)
}

// ExecuteSQL delegates to the Manager.
func (c *DipdupContext) ExecuteSQL(statements []string) error {
	return c.mgr.ExecuteSQL(c.ctx, c.tx, statements)
}

// HandlerContext is passed to operation/big-map handlers: a DipdupContext plus
// whichever payload triggered this call. Operations is set for an
// OperationIndex match; BigMapDiff is set for a BigMapIndex match. Exactly one
// is populated per invocation.
type HandlerContext struct {
	DipdupContext
	Operations []models.Operation
	BigMapDiff *models.BigMapDiff
}

// HookContext is passed to hooks: a bare DipdupContext, since hooks carry no
// implicit payload beyond their declared args map.
type HookContext struct {
	DipdupContext
}

// FireHandler lets a hook or handler trigger another handler directly, for the
// rare case a project wants to replay a handler's logic outside its normal
// dispatch path (spec.md §4.4 fire_handler).
func (c *DipdupContext) FireHandler(name string, group []models.Operation) error {
	return c.mgr.FireHandler(c.ctx, c.tx, name, group)
}
