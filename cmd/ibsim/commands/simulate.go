package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/ibsim/internal/logger"
	"github.com/marmos91/ibsim/pkg/config"
	"github.com/marmos91/ibsim/pkg/metrics"
	"github.com/marmos91/ibsim/pkg/simulator"
)

var (
	simListen    int
	simClientID  uint32
	simNodeType  string
	simNumPorts  int
	simDropFirst int
	simPKeys     []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a built-in simulator",
	Long: `Run a small in-process stand-in for the ibsim server. It answers the
control protocol and serves NodeInfo, PortInfo and PKeyTable queries for one
node described by the simulate section of the configuration.

Examples:
  # Serve the configured node on the default port
  ibsim simulate

  # A 36-port switch that drops the first two MADs
  ibsim simulate --node-type switch --num-ports 36 --drop-first 2`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&simListen, "listen", 0, "Control port to listen on (overrides simulate.port)")
	f.Uint32Var(&simClientID, "client-id", 0, "Assign this client id to every client")
	f.StringVar(&simNodeType, "node-type", "", "Node type: ca, switch or router")
	f.IntVar(&simNumPorts, "num-ports", 0, "Number of ports")
	f.IntVar(&simDropFirst, "drop-first", 0, "Drop this many MADs before answering")
	f.StringSliceVar(&simPKeys, "pkeys", nil, "Partition table, e.g. 0xffff,0x8001 (empty answers GET_PKEYS with ERROR)")
}

func applySimulateFlags(cmd *cobra.Command, cfg *config.SimulateConfig) error {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Port = simListen
	}
	if flags.Changed("client-id") {
		cfg.ClientID = simClientID
	}
	if flags.Changed("node-type") {
		cfg.NodeType = simNodeType
	}
	if flags.Changed("num-ports") {
		cfg.NumPorts = simNumPorts
	}
	if flags.Changed("drop-first") {
		cfg.DropFirst = simDropFirst
	}
	if flags.Changed("pkeys") {
		pkeys, err := config.ParsePKeys(simPKeys)
		if err != nil {
			return err
		}
		cfg.PKeys = pkeys
	}
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := applySimulateFlags(cmd, &env.cfg.Simulate); err != nil {
		return err
	}
	simCfg, err := simulator.ConfigFromSettings(env.cfg.Simulate)
	if err != nil {
		return err
	}
	simCfg.Metrics = metrics.NewSimulatorMetrics()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if env.cfg.Metrics.Enabled {
		srv := metrics.NewServer(env.cfg.Metrics.Port, metrics.GetRegistry())
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("Metrics server error", logger.Err(err))
			}
		}()
	}

	srv := simulator.NewServer(simCfg)
	go func() {
		select {
		case <-srv.WaitReady():
			env.printer.Printf("Simulator listening on %s (data ports start at %d)\n", srv.Addr(), srv.Port()+1)
			env.printer.Printf("Connect with: %s=%s %s=%d\n",
				config.EnvServerName, simCfg.Bind, config.EnvServerPort, srv.Port())
		case <-ctx.Done():
		}
	}()

	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("simulator: %w", err)
	}
	logger.Info("Simulator stopped")
	return nil
}
