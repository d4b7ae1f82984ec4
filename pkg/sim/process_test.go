package sim

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/ibsim/pkg/config"
	"github.com/marmos91/ibsim/pkg/simulator"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{config.EnvServerName, config.EnvServerPort, config.EnvNodeID, "IBSIM_SIMULATOR_HOST"} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
	t.Cleanup(Shutdown)
}

func TestDefault_InertWithoutEnvironment(t *testing.T) {
	isolateEnv(t)

	s, err := Default(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestDefault_ConnectsOnce(t *testing.T) {
	isolateEnv(t)
	srv := startSimulator(t, simulator.Config{Node: testNode()})

	t.Setenv(config.EnvServerName, "127.0.0.1")
	t.Setenv(config.EnvServerPort, strconv.Itoa(srv.Port()))
	t.Setenv(config.EnvNodeID, "node-env")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := Default(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, uint32(testClientID), s.ClientID())
	assert.Equal(t, "node-env", s.Options().NodeID)

	again, err := Default(ctx)
	require.NoError(t, err)
	assert.Same(t, s, again)

	info, ok := srv.ClientInfo(testClientID)
	require.True(t, ok)
	assert.Equal(t, "node-env", info.NodeID)

	Shutdown()
	assert.Empty(t, srv.Clients())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Simulator.Host = "sim"
	cfg.Simulator.NodeID = "n1"
	cfg.Transport.Retries = 5
	cfg.Transport.SubnetTimeout = 14

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "sim", opts.Host)
	assert.Equal(t, config.DefaultSimulatorPort, opts.Port)
	assert.Equal(t, "n1", opts.NodeID)
	assert.Equal(t, 5, opts.Retries)
	assert.Equal(t, cfg.Transport.Timeout, opts.Timeout)
	assert.Equal(t, uint8(14), opts.SubnetTimeout)
}
