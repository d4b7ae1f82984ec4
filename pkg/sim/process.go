package sim

import (
	"context"
	"sync"

	"github.com/marmos91/ibsim/internal/logger"
	"github.com/marmos91/ibsim/pkg/config"
	"github.com/marmos91/ibsim/pkg/madtransactor"
	"github.com/marmos91/ibsim/pkg/metrics"
)

// OptionsFromConfig builds session options from a loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		Host:          cfg.Simulator.Host,
		Port:          cfg.Simulator.Port,
		NodeID:        cfg.Simulator.NodeID,
		QPN:           cfg.Simulator.QPN,
		IsSM:          cfg.Simulator.IsSM,
		Timeout:       cfg.Transport.Timeout,
		Retries:       cfg.Transport.Retries,
		SubnetTimeout: cfg.Transport.SubnetTimeout,
		Metrics:       metrics.NewTransportMetrics(),
	}
	if logger.GetLevel() == logger.LevelDebug {
		opts.Trace = madtransactor.LogTracer()
	}
	return opts
}

var (
	defaultMu      sync.Mutex
	defaultSession *Session
	defaultErr     error
	defaultDone    bool
)

// Default returns the process-wide session described by the environment,
// connecting on first use. It returns (nil, nil) when IBSIM_SERVER_NAME is
// unset. A failed connection is remembered and returned by later calls
// until Shutdown.
func Default(ctx context.Context) (*Session, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultDone {
		return defaultSession, defaultErr
	}

	cfg, err := config.FromEnvironment()
	if err != nil || cfg == nil {
		defaultDone = true
		defaultErr = err
		return nil, err
	}

	defaultSession, defaultErr = Connect(ctx, OptionsFromConfig(cfg))
	defaultDone = true
	return defaultSession, defaultErr
}

// Shutdown disconnects the process-wide session, if any. A later Default
// connects again.
func Shutdown() {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultSession != nil {
		defaultSession.Disconnect()
	}
	defaultSession, defaultErr, defaultDone = nil, nil, false
}
