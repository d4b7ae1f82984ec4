// Package commands implements the ibsim command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/ibsim/cmd/ibsim/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile      string
	outputFormat string
	flagHost     string
	flagPort     int
	flagNodeID   string
	flagTimeout  string
	flagRetries  int
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ibsim",
	Short: "Simulated InfiniBand management transport",
	Long: `ibsim talks to an ibsim simulator over UDP as if a local InfiniBand
adapter were present: it opens the simulated device, reads port state and
sends management datagrams with timeout and retry.

The simulator is found through the configuration file or the environment
(IBSIM_SERVER_NAME, IBSIM_SERVER_PORT, SIM_HOST). "ibsim simulate" runs a
small built-in simulator for testing.

Use "ibsim [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/ibsim/config.yaml)")
	pf.StringVarP(&outputFormat, "output", "o", "table", "Output format (table|json|yaml)")
	pf.StringVar(&flagHost, "host", "", "Simulator host (overrides simulator.host)")
	pf.IntVar(&flagPort, "port", 0, "Simulator control port (overrides simulator.port)")
	pf.StringVar(&flagNodeID, "node-id", "", "Simulated node to attach to (overrides simulator.node_id)")
	pf.StringVar(&flagTimeout, "timeout", "", "Per-attempt MAD timeout, e.g. 500ms (overrides transport.timeout)")
	pf.IntVar(&flagRetries, "retries", 0, "MAD resends after the first send (overrides transport.retries)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: DEBUG, INFO, WARN, ERROR")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(saPathCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
