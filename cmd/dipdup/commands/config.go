package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	configCmd.AddCommand(configExportCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the resolved project configuration",
}

var configExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the fully resolved config (templates expanded) as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject()
		if err != nil {
			return err
		}
		defer p.Close()

		out, err := yaml.Marshal(p.cfg)
		if err != nil {
			return fmt.Errorf("marshal resolved config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
