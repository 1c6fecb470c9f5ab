package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dipdup-net/indexer/internal/callback"
	"github.com/dipdup-net/indexer/internal/database"
	"github.com/dipdup-net/indexer/internal/datasource"
	"github.com/dipdup-net/indexer/internal/engine"
	"github.com/dipdup-net/indexer/internal/reindex"
)

var forceReindex bool

func init() {
	runCmd.Flags().BoolVar(&forceReindex, "reindex", false, "drop all indexed data and start over before the first cursor read")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the indexer, fetching history then following the chain head",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject()
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if forceReindex {
			if err := p.repo.EnsureTables(ctx, p.db); err != nil {
				return err
			}
			ctrl := reindex.NewController(p.cfg.Database, p.log, p.repo)
			if err := ctrl.Reindex(ctx, p.db, reindex.ReasonManual); err != nil {
				return err
			}
		}

		return runLoop(ctx, p)
	},
}

// runLoop drives the restart/reindex control-signal loop of SPEC_FULL.md §9:
// a signaled restart or reindex reconstructs the engine and runs again rather
// than re-executing the process, bounded the same way a supervisor would by
// the caller (here, the enclosing shell/systemd unit) restarting this binary
// on exit for anything beyond a clean shutdown.
func runLoop(ctx context.Context, p *project) error {
	for {
		if err := p.repo.EnsureTables(ctx, p.db); err != nil {
			return err
		}

		mgr := callback.NewManager(p.cfg, p.log, p.repo)
		registerCallbacks(mgr)

		if err := checkSchema(ctx, p); err != nil {
			return err
		}

		sources, err := buildDatasources(p)
		if err != nil {
			return err
		}

		eng, err := engine.New(ctx, p.cfg, p.log, p.db, p.repo, mgr, sources)
		if err != nil {
			return err
		}

		signal, err := eng.Run(ctx)
		if err != nil && ctx.Err() == nil {
			return err
		}

		switch signal {
		case engine.ControlReindex:
			ctrl := reindex.NewController(p.cfg.Database, p.log, p.repo)
			if err := ctrl.Reindex(ctx, p.db, reindex.ReasonRollbackTooDeep); err != nil {
				return err
			}
			continue
		case engine.ControlRestart:
			continue
		default:
			return nil
		}
	}
}

func buildDatasources(p *project) (map[string]datasource.Client, error) {
	sources := make(map[string]datasource.Client, len(p.cfg.Datasources))
	for name, ds := range p.cfg.Datasources {
		sources[name] = datasource.NewLive(datasource.Config{Name: name, BaseURL: ds.URL}, p.log)
	}
	return sources, nil
}

// checkSchema compares every declared index's stored hashes against the
// current build: a whole-schema DDL drift (database.SchemaHash, identical for
// every index) triggers a full reindex, while a single index's own declared
// shape drifting (config.IndexEntry.ConfigHash) triggers only that index's
// resync, distinctly (SPEC_FULL.md §3.1, spec.md §4.5). A brand-new index (no
// stored row yet) has nothing to compare against; an index whose row has no
// hashes recorded yet (Hash == "", as a StateMachine writes it) is stamped with
// both hashes as its baseline rather than treated as drifted.
func checkSchema(ctx context.Context, p *project) error {
	schemaHash := database.SchemaHash(p.repo.DDL())
	ctrl := reindex.NewController(p.cfg.Database, p.log, p.repo)

	for name, entry := range p.cfg.Indexes {
		state, err := p.repo.GetState(ctx, p.db, name)
		if err != nil {
			return err
		}
		if state == nil {
			continue
		}
		configHash := entry.ConfigHash()

		if state.Hash == "" {
			state.Hash = schemaHash
			state.ConfigHash = configHash
			if err := p.repo.SaveState(ctx, p.db, state); err != nil {
				return err
			}
			continue
		}

		if _, drift := ctrl.CheckSchema(state.Hash, schemaHash); drift {
			return ctrl.Reindex(ctx, p.db, reindex.ReasonSchemaModified)
		}
		if state.ConfigHash != configHash {
			if err := ctrl.ResyncIndex(ctx, p.db, name, schemaHash, configHash); err != nil {
				return err
			}
		}
	}
	return nil
}
