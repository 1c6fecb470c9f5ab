// Package commands implements the dipdup CLI surface of spec.md §6.1: run,
// init, config export, schema approve|wipe. Grounded on the teacher's
// cmd/headers/commands package layout (a package-level rootCmd, subcommands
// registered from their own file's init()).
package commands

import (
	"github.com/spf13/cobra"
)

var (
	configPaths []string
	logLevel    string
)

// RootCommand builds the dipdup cobra root, matching the teacher's
// cmd/rpcdaemon/cli.RootCommand() shape: callers call ExecuteContext on the
// result.
func RootCommand() *cobra.Command {
	rootCmd.PersistentFlags().StringSliceVarP(&configPaths, "config", "c", []string{"dipdup.yml"}, "path to a project config file (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "logging", "l", "info", "log level: debug, info, warn, error")
	return rootCmd
}

var rootCmd = &cobra.Command{
	Use:           "dipdup",
	Short:         "Selective blockchain indexing framework",
	SilenceUsage:  true,
	SilenceErrors: true,
}
