package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/ibsim/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the ibsim configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  ibsim config validate

  # Validate specific config file
  ibsim config validate --config /etc/ibsim/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Simulator.Host == "" {
		warnings = append(warnings, fmt.Sprintf(
			"simulator.host not set - the transport stays inert unless %s is exported", config.EnvServerName))
	}
	if cfg.Transport.Retries == 0 {
		warnings = append(warnings, "transport.retries is 0 - a lost MAD is never resent")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Simulator:       %s\n", cfg.Simulator.Address())
	_, _ = fmt.Fprintf(out, "  Node id:         %q\n", cfg.Simulator.NodeID)
	_, _ = fmt.Fprintf(out, "  MAD timeout:     %s (retries %d)\n", cfg.Transport.Timeout, cfg.Transport.Retries)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}
