package config

import (
	"os"

	"github.com/spf13/viper"
)

// Environment variables understood by the transport in addition to the
// IBSIM_<SECTION>_<KEY> overrides.
const (
	EnvServerName = "IBSIM_SERVER_NAME"
	EnvServerPort = "IBSIM_SERVER_PORT"
	EnvNodeID     = "SIM_HOST"
)

func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("simulator.host", "IBSIM_SIMULATOR_HOST", EnvServerName)
	_ = v.BindEnv("simulator.port", "IBSIM_SIMULATOR_PORT", EnvServerPort)
	_ = v.BindEnv("simulator.node_id", "IBSIM_SIMULATOR_NODE_ID", EnvNodeID)
}

// Enabled reports whether the environment names a simulator host.
func Enabled() bool {
	return os.Getenv(EnvServerName) != "" || os.Getenv("IBSIM_SIMULATOR_HOST") != ""
}

// FromEnvironment loads the configuration for a process that found the
// simulator through its environment. It returns (nil, nil) when no
// simulator host is set, leaving the transport inert. The default config
// file, if present, supplies the remaining settings.
func FromEnvironment() (*Config, error) {
	if !Enabled() {
		return nil, nil
	}
	return Load("")
}
