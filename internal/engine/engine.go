// Package engine wires a configured project's datasources, caches, index state
// machines, and callback manager into the single run loop spec.md §5
// describes: datasource batches flow into the matchers, completed matches fire
// callbacks inside the index's commit transaction, and a reported rollback
// drives every affected index's Rollback path. Grounded on the teacher's
// eth/stagedsync loop (stage-by-stage execution driven off a shared context)
// and on other_examples' polymarket-indexer syncer.go (single run() goroutine
// per datasource, mode switch between backfill and realtime).
package engine

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dipdup-net/indexer/internal/cache"
	"github.com/dipdup-net/indexer/internal/callback"
	"github.com/dipdup-net/indexer/internal/config"
	"github.com/dipdup-net/indexer/internal/database"
	"github.com/dipdup-net/indexer/internal/datasource"
	"github.com/dipdup-net/indexer/internal/index"
	"github.com/dipdup-net/indexer/internal/metrics"
	"github.com/dipdup-net/indexer/internal/models"
)

// ControlSignal is the return-code convention the CLI's run loop checks to
// decide between a clean exit, a restart, and a full reindex (SPEC_FULL.md §9
// redesign note — process restart modeled as a return value, not os.execl).
type ControlSignal int

const (
	ControlNone ControlSignal = iota
	ControlRestart
	ControlReindex
)

// Engine owns one configured project's datasources and indexes for the
// lifetime of one `run` invocation.
type Engine struct {
	cfg *config.Config
	log *zap.SugaredLogger
	db  *sqlx.DB
	repo *database.StateRepository
	mgr *callback.Manager

	sources map[string]datasource.Client

	opCache *cache.OperationCache
	bmCache *cache.BigMapCache

	machines map[string]*index.StateMachine

	// pendingOps/pendingBigMaps hold the matches drained for the level
	// currently being committed, bucketed by index name. advanceAll fills
	// these once per level before calling Advance on any index, since
	// cache.Process drains its cache wholesale on every call — calling it once
	// per index would starve every index after the first (SPEC_FULL.md §4.7).
	pendingOps     map[string][]cache.Match
	pendingBigMaps map[string][]cache.BigMapMatch

	signal ControlSignal
}

// New builds an Engine from a fully initialized config, constructing one
// StateMachine per declared index and wiring its commit/rollback callbacks to
// the shared caches and callback manager.
func New(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger, db *sqlx.DB, repo *database.StateRepository, mgr *callback.Manager, sources map[string]datasource.Client) (*Engine, error) {
	e := &Engine{
		cfg: cfg, log: log, db: db, repo: repo, mgr: mgr,
		sources:  sources,
		opCache:  cache.NewOperationCache(),
		bmCache:  cache.NewBigMapCache(),
		machines: map[string]*index.StateMachine{},
	}

	scopes := map[string]*subscribeScope{}

	for name, entry := range cfg.Indexes {
		entry.Name = name
		switch entry.Kind {
		case models.IndexKindOperation:
			e.opCache.AddIndex(entry)
		case models.IndexKindBigMap:
			e.bmCache.AddIndex(entry)
		default:
			return nil, fmt.Errorf("index %q: unknown kind %q", name, entry.Kind)
		}

		scope, ok := scopes[entry.Datasource]
		if !ok {
			scope = &subscribeScope{}
			scopes[entry.Datasource] = scope
		}
		scope.merge(entry)

		sm, err := index.New(ctx, name, entry.Kind, db, repo, log,
			e.commitFuncFor(entry),
			e.rollbackFuncFor(entry),
		)
		if err != nil {
			return nil, err
		}
		e.machines[name] = sm
	}

	for dsName, scope := range scopes {
		src, ok := sources[dsName]
		if !ok {
			continue
		}
		if err := src.Subscribe(ctx, scope.contracts(), scope.entrypoints(), scope.bigMapPaths()); err != nil {
			return nil, fmt.Errorf("datasource %q: subscribe: %w", dsName, err)
		}
	}

	return e, nil
}

// subscribeScope accumulates the union of contracts, handler entrypoints, and
// big-map paths declared by every index assigned to one datasource, so that
// datasource's Subscribe call narrows its fetch/stream scope to exactly what
// the configured indexes actually watch (spec.md §4.1).
type subscribeScope struct {
	contractSet   map[string]bool
	entrypointSet map[string]bool
	bigMapPathSet map[string]bool
}

func (s *subscribeScope) merge(entry *config.IndexEntry) {
	if s.contractSet == nil {
		s.contractSet = map[string]bool{}
		s.entrypointSet = map[string]bool{}
		s.bigMapPathSet = map[string]bool{}
	}
	for _, c := range entry.Contracts {
		s.contractSet[c] = true
	}
	for _, h := range entry.Handlers {
		for _, item := range h.Pattern {
			if item.Destination != "" {
				s.contractSet[item.Destination] = true
			}
			if item.Entrypoint != "" {
				s.entrypointSet[item.Entrypoint] = true
			}
		}
	}
	for _, b := range entry.BigMaps {
		if b.Contract != "" {
			s.contractSet[b.Contract] = true
		}
		if b.Path != "" {
			s.bigMapPathSet[b.Path] = true
		}
	}
}

func (s *subscribeScope) contracts() []string   { return setToSlice(s.contractSet) }
func (s *subscribeScope) entrypoints() []string { return setToSlice(s.entrypointSet) }
func (s *subscribeScope) bigMapPaths() []string { return setToSlice(s.bigMapPathSet) }

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}

// commitFuncFor returns the CommitFunc an index's StateMachine invokes inside
// its per-level transaction: fire the handler for every match advanceAll
// already bucketed for this index this cycle.
func (e *Engine) commitFuncFor(entry *config.IndexEntry) index.CommitFunc {
	name := entry.Name
	return func(ctx context.Context, tx *sqlx.Tx, level int64) error {
		switch entry.Kind {
		case models.IndexKindOperation:
			for _, m := range e.pendingOps[name] {
				if err := e.mgr.FireHandler(ctx, tx, m.Handler.Callback, m.Operations); err != nil {
					return err
				}
			}
		case models.IndexKindBigMap:
			for _, m := range e.pendingBigMaps[name] {
				if err := e.mgr.FireBigMapHandler(ctx, tx, m.Binding.Callback, m.Diff); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// rollbackFuncFor returns the RollbackFunc the state machine runs while
// entering ROLLBACK: fire on_rollback so project-specific tables can drop
// their own rows above toLevel (spec.md §4.6). A CallbackNotImplementedError
// (or any other error) is returned unchanged rather than swallowed; Run's
// rollback handler answers it by setting ControlReindex.
func (e *Engine) rollbackFuncFor(entry *config.IndexEntry) index.RollbackFunc {
	return func(ctx context.Context, tx *sqlx.Tx, toLevel int64) error {
		args := map[string]any{"index": entry.Name, "level": int(toLevel)}
		return e.mgr.FireHook(ctx, tx, "on_rollback", args)
	}
}

// Run starts every datasource and feeds their batches into the matchers until
// ctx is cancelled or a datasource returns a terminal error. One goroutine per
// datasource plus one dispatch goroutine, supervised with errgroup so the
// first failure cancels the rest (spec.md §5 Task supervision).
func (e *Engine) Run(ctx context.Context) (ControlSignal, error) {
	g, gctx := errgroup.WithContext(ctx)

	for name, src := range e.sources {
		src := src
		name := name
		src.OnRollback(func(ev datasource.RollbackEvent) {
			e.log.Infow("rollback received", "datasource", name, "level", ev.Level)
			metrics.ReorgsTotal.Inc()
			if err := e.handleRollback(gctx, ev.Level); err != nil {
				e.log.Errorw("rollback handling failed, escalating to reindex", "error", err)
				e.signal = ControlReindex
			}
		})
		g.Go(func() error { return src.Run(gctx) })
	}

	g.Go(func() error { return e.dispatchLoop(gctx) })

	err := g.Wait()
	return e.signal, err
}

// dispatchLoop drains every datasource's channels, feeding matchers and
// advancing each affected index's cursor once its commit transaction lands.
func (e *Engine) dispatchLoop(ctx context.Context) error {
	opCh := make(chan datasource.OperationBatch, 64)
	bmCh := make(chan datasource.BigMapBatch, 64)

	for _, src := range e.sources {
		src := src
		go forward(ctx, src.Operations(), opCh)
		go forwardBigMaps(ctx, src.BigMaps(), bmCh)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-opCh:
			if !ok {
				continue
			}
			for _, op := range batch.Operations {
				e.opCache.Add(op)
			}
			e.opCache.EndOfLevel()
			if err := e.advanceAll(ctx, batch.Level); err != nil {
				return err
			}
		case batch, ok := <-bmCh:
			if !ok {
				continue
			}
			for _, diff := range batch.Diffs {
				e.bmCache.Add(diff)
			}
			if err := e.advanceAll(ctx, batch.Level); err != nil {
				return err
			}
		}
	}
}

func forward(ctx context.Context, in <-chan datasource.OperationBatch, out chan<- datasource.OperationBatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}
}

func forwardBigMaps(ctx context.Context, in <-chan datasource.BigMapBatch, out chan<- datasource.BigMapBatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}
}

// advanceAll drains both matchers once for this level, buckets the results by
// index name, then advances every index's cursor to level — each index's
// commit callback consumes only its own bucket (see pendingOps/pendingBigMaps).
func (e *Engine) advanceAll(ctx context.Context, level int64) error {
	head, err := e.highestHead(ctx)
	if err != nil {
		return err
	}

	e.pendingOps = map[string][]cache.Match{}
	e.opCache.Process(func(m cache.Match) {
		e.pendingOps[m.Index.Name] = append(e.pendingOps[m.Index.Name], m)
	})

	e.pendingBigMaps = map[string][]cache.BigMapMatch{}
	e.bmCache.Process(func(m cache.BigMapMatch) {
		e.pendingBigMaps[m.Index.Name] = append(e.pendingBigMaps[m.Index.Name], m)
	})

	for name, sm := range e.machines {
		if sm.Status() == models.IndexStatusRollback {
			continue
		}
		if err := sm.Advance(ctx, level, head); err != nil {
			return fmt.Errorf("index %q: %w", name, err)
		}
	}
	return nil
}

func (e *Engine) highestHead(ctx context.Context) (int64, error) {
	var head int64
	for _, src := range e.sources {
		h, err := src.CurrentHeadLevel(ctx)
		if err != nil {
			return 0, err
		}
		if h > head {
			head = h
		}
	}
	return head, nil
}

// handleRollback drives every index whose cursor sits above toLevel through
// its Rollback transition (spec.md §4.6).
func (e *Engine) handleRollback(ctx context.Context, toLevel int64) error {
	for name, sm := range e.machines {
		if err := sm.Rollback(ctx, toLevel); err != nil {
			return fmt.Errorf("index %q: %w", name, err)
		}
	}
	return nil
}
