package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/ibsim/internal/cli/output"
	"github.com/marmos91/ibsim/internal/logger"
	"github.com/marmos91/ibsim/internal/telemetry"
	"github.com/marmos91/ibsim/pkg/config"
	"github.com/marmos91/ibsim/pkg/metrics"
	"github.com/marmos91/ibsim/pkg/sim"
)

// runtimeEnv is what a command needs after start-up: the effective
// configuration and the shutdown hooks of the ambient services.
type runtimeEnv struct {
	cfg     *config.Config
	printer *output.Printer
	closers []func()
}

// setup loads the configuration, applies flag overrides and starts
// logging, tracing, profiling and the metrics registry.
func setup(cmd *cobra.Command) (*runtimeEnv, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}

	env := &runtimeEnv{cfg: cfg, printer: output.NewPrinter(cmd.OutOrStdout(), format)}

	if err := InitLogger(cfg); err != nil {
		return nil, err
	}

	shutdownTracing, err := telemetry.Init(cmd.Context(), telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "ibsim",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	env.closers = append(env.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	})

	stopProfiling, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "ibsim",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}
	env.closers = append(env.closers, func() {
		if err := stopProfiling(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	})

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}
	return env, nil
}

// Close runs the shutdown hooks in reverse order.
func (e *runtimeEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// connect opens a session with the configured simulator. The session is
// closed by Close.
func (e *runtimeEnv) connect(ctx context.Context) (*sim.Session, error) {
	if e.cfg.Simulator.Host == "" {
		return nil, fmt.Errorf("no simulator host configured: set simulator.host, %s or --host",
			config.EnvServerName)
	}
	s, err := sim.Connect(ctx, sim.OptionsFromConfig(e.cfg))
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, s.Disconnect)
	return s, nil
}

// openPort connects, opens device name and returns port num (0 selects
// the first port of the device).
func (e *runtimeEnv) openPort(ctx context.Context, name string, num int) (*sim.EndPort, error) {
	s, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	dev, err := sim.OpenDevice(ctx, s, name)
	if err != nil {
		return nil, err
	}
	if num == 0 {
		return dev.EndPorts()[0], nil
	}
	if num < 0 || num > 255 {
		return nil, fmt.Errorf("invalid port %d", num)
	}
	port, ok := dev.EndPort(uint8(num))
	if !ok {
		return nil, fmt.Errorf("device %s has no port %d", dev, num)
	}
	return port, nil
}

// applyFlags copies explicitly set global flags into cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Simulator.Host = flagHost
	}
	if flags.Changed("port") {
		cfg.Simulator.Port = flagPort
	}
	if flags.Changed("node-id") {
		cfg.Simulator.NodeID = flagNodeID
	}
	if flags.Changed("timeout") {
		d, err := time.ParseDuration(flagTimeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
		cfg.Transport.Timeout = d
	}
	if flags.Changed("retries") {
		cfg.Transport.Retries = flagRetries
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = flagLogLevel
		config.ApplyDefaults(cfg)
	}
	return nil
}

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
