package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/ibsim/internal/logger"
	"github.com/marmos91/ibsim/pkg/iba"
	"github.com/marmos91/ibsim/pkg/metrics"
	"github.com/marmos91/ibsim/pkg/sim"
)

var (
	watchDevice   string
	watchPort     int
	watchInterval time.Duration
	watchCount    int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll a port and report state changes",
	Long: `Poll a port of the simulated device and print a line whenever its
state, physical state or LID changes. Port attributes are cached for one
second, so intervals shorter than that mostly hit the cache.

With metrics.enabled the transport metrics are served on metrics.port
while watching.

Examples:
  ibsim watch
  ibsim watch --ib-port 2 --interval 5s --count 10`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchDevice, "device", defaultDevice, "Device name")
	watchCmd.Flags().IntVar(&watchPort, "ib-port", 0, "Port number (0 selects the first port)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Polling interval")
	watchCmd.Flags().IntVar(&watchCount, "count", 0, "Stop after this many polls (0 runs until interrupted)")
}

// portSnapshot is the part of PortInfo watch reports on.
type portSnapshot struct {
	State     uint8
	PhysState uint8
	LID       uint16
	SMLID     uint16
}

func (s portSnapshot) String() string {
	return fmt.Sprintf("state=%s phys=%s lid=%d sm_lid=%d",
		iba.PortStateString(s.State), iba.PhysStateString(s.PhysState), s.LID, s.SMLID)
}

func snapshot(ctx context.Context, ep *sim.EndPort) (portSnapshot, error) {
	pi, err := ep.PortInfo(ctx)
	if err != nil {
		return portSnapshot{}, err
	}
	return portSnapshot{
		State:     pi.PortState,
		PhysState: pi.PortPhysicalState,
		LID:       pi.LID,
		SMLID:     pi.MasterSMLID,
	}, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchInterval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

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

	ep, err := env.openPort(ctx, watchDevice, watchPort)
	if err != nil {
		return err
	}
	return watchPortState(ctx, ep, watchInterval, watchCount, func(at time.Time, s portSnapshot) {
		env.printer.Printf("%s %s %s\n", at.Format(time.RFC3339), ep, s)
	})
}

// watchPortState polls ep every interval and calls report for the first
// snapshot and for every change. count bounds the number of polls when
// positive. Cancelling ctx ends the watch without error.
func watchPortState(ctx context.Context, ep *sim.EndPort, interval time.Duration, count int, report func(time.Time, portSnapshot)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last  portSnapshot
		seen  bool
		polls int
	)
	for {
		s, err := snapshot(ctx, ep)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !seen || s != last {
			report(time.Now(), s)
			last, seen = s, true
		}

		polls++
		if count > 0 && polls >= count {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
