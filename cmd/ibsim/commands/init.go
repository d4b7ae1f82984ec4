package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/ibsim/internal/cli/prompt"
	"github.com/marmos91/ibsim/pkg/config"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample ibsim configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/ibsim/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  ibsim init

  # Ask for the simulator endpoint and node settings
  ibsim init --interactive

  # Initialize with custom path, overwriting an existing file
  ibsim init --config /etc/ibsim/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for the main settings")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	cfg := config.GetDefaultConfig()
	if initInteractive {
		if err := askConfig(cfg); err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
	}

	if err := config.WriteConfig(configPath, cfg, initForce); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Point simulator.host at your ibsim server (or export "+config.EnvServerName+")")
	_, _ = fmt.Fprintln(out, "  2. Check the device with: ibsim info")
	_, _ = fmt.Fprintln(out, "  3. Or start a local simulator with: ibsim simulate")
	return nil
}

// askConfig fills the simulator, transport and simulate sections from
// terminal prompts.
func askConfig(cfg *config.Config) error {
	var err error

	if cfg.Simulator.Host, err = prompt.Input("Simulator host", "localhost", nil); err != nil {
		return err
	}
	if cfg.Simulator.Port, err = prompt.Int("Simulator port", cfg.Simulator.Port, 1, 65535); err != nil {
		return err
	}
	if cfg.Simulator.NodeID, err = prompt.Input("Node id (empty for the simulator default)", "", prompt.ValidateNodeID); err != nil {
		return err
	}

	timeout, err := prompt.Input("MAD timeout", cfg.Transport.Timeout.String(), func(s string) error {
		_, err := time.ParseDuration(s)
		return err
	})
	if err != nil {
		return err
	}
	if cfg.Transport.Timeout, err = time.ParseDuration(timeout); err != nil {
		return err
	}
	if cfg.Transport.Retries, err = prompt.Int("MAD retries", cfg.Transport.Retries, 0, 32); err != nil {
		return err
	}

	ok, err := prompt.Confirm("Configure the built-in simulator", false)
	if err != nil || !ok {
		return err
	}

	if cfg.Simulate.NodeType, err = prompt.Select("Node type", []string{"ca", "switch", "router"}, cfg.Simulate.NodeType); err != nil {
		return err
	}
	if cfg.Simulate.NumPorts, err = prompt.Int("Number of ports", cfg.Simulate.NumPorts, 1, 254); err != nil {
		return err
	}
	if cfg.Simulate.NodeGUID, err = prompt.GUID("Node GUID", cfg.Simulate.NodeGUID); err != nil {
		return err
	}
	if cfg.Simulate.GIDPrefix, err = prompt.Input("GID prefix", cfg.Simulate.GIDPrefix, prompt.ValidateGIDPrefix); err != nil {
		return err
	}
	return nil
}
