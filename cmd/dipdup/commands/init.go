package commands

import (
	"github.com/spf13/cobra"

	"github.com/dipdup-net/indexer/internal/callback"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

// initCmd is the Go analogue of dipdup-py's scaffolding step: since handlers
// are compiled Go functions rather than generated stub files, `init` here
// validates that every callback name the config declares has a matching
// Register call, surfacing HandlerImportError up front instead of at first
// dispatch (spec.md §6.1).
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Verify handler/hook registrations against the project config",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject()
		if err != nil {
			return err
		}
		defer p.Close()

		mgr := callback.NewManager(p.cfg, p.log, p.repo)
		registerCallbacks(mgr)

		for _, index := range p.cfg.Indexes {
			for _, h := range index.Handlers {
				if err := mgr.CheckRegistered(h.Callback); err != nil {
					return err
				}
			}
			for _, b := range index.BigMaps {
				if err := mgr.CheckRegistered(b.Callback); err != nil {
					return err
				}
			}
		}
		for _, hook := range p.cfg.Hooks {
			if err := mgr.CheckRegistered(hook.Callback); err != nil {
				return err
			}
		}

		p.log.Infow("init ok", "indexes", len(p.cfg.Indexes), "hooks", len(p.cfg.Hooks))
		return nil
	},
}
