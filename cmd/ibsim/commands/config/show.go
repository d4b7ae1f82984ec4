package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/ibsim/internal/cli/output"
	"github.com/marmos91/ibsim/pkg/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective ibsim configuration: file, environment
overrides and defaults merged.

Outputs YAML unless --output json is given.

Examples:
  # Show default config as YAML
  ibsim config show

  # Show as JSON
  ibsim config show --output json

  # Show specific config file
  ibsim config show --config /etc/ibsim/config.yaml`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	outputFlag, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(outputFlag)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	default:
		return output.PrintYAML(cmd.OutOrStdout(), cfg)
	}
}
