package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dipdup-net/indexer/internal/database"
	"github.com/dipdup-net/indexer/internal/reindex"
)

func init() {
	schemaCmd.AddCommand(schemaApproveCmd)
	schemaCmd.AddCommand(schemaWipeCmd)
	rootCmd.AddCommand(schemaCmd)
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect or reset the project's database schema",
}

// schemaApproveCmd accepts the current DDL as correct without reindexing,
// for the case a drift was intentional (spec.md §6.1 schema approve).
var schemaApproveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Mark the current schema hash as approved, skipping the next drift check",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject()
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.repo.EnsureTables(cmd.Context(), p.db); err != nil {
			return err
		}
		hash := database.SchemaHash(p.repo.DDL())
		for name, entry := range p.cfg.Indexes {
			state, err := p.repo.GetState(cmd.Context(), p.db, name)
			if err != nil {
				return err
			}
			if state == nil {
				continue
			}
			state.Hash = hash
			state.ConfigHash = entry.ConfigHash()
			if err := p.repo.SaveState(cmd.Context(), p.db, state); err != nil {
				return err
			}
		}
		p.log.Infow("schema approved", "hash", hash)
		return nil
	},
}

// schemaWipeCmd drops every managed table (and, on Postgres, preserves immune
// tables) then exits; the next `run` starts a fresh indexing pass.
var schemaWipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Drop all indexed data and start over on the next run",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject()
		if err != nil {
			return err
		}
		defer p.Close()

		color.Yellow("dropping all indexed data for %s, this cannot be undone", p.cfg.Package)

		ctrl := reindex.NewController(p.cfg.Database, p.log, p.repo)
		return ctrl.Reindex(cmd.Context(), p.db, reindex.ReasonManual)
	},
}
