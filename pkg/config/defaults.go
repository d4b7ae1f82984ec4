package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/marmos91/ibsim/pkg/iba"
	"github.com/marmos91/ibsim/pkg/path"
)

// Default values shared with the CLI flag definitions.
const (
	DefaultSimulatorPort = 7070
	DefaultMetricsPort   = 9090
	DefaultNodeGUID      = iba.GUID(0x0002c90300000001)
)

// ApplyDefaults fills zero-valued fields. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applySimulatorDefaults(&cfg.Simulator)
	applyTransportDefaults(&cfg.Transport)
	applySimulateDefaults(&cfg.Simulate)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

func applySimulatorDefaults(cfg *SimulatorConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultSimulatorPort
	}
}

func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = path.DefaultTimeout
	}
	// Retries keeps its zero value: zero means a single send.
}

func applySimulateDefaults(cfg *SimulateConfig) {
	if cfg.Bind == "" {
		cfg.Bind = "127.0.0.1"
	}
	if cfg.NodeType == "" {
		cfg.NodeType = "ca"
	}
	cfg.NodeType = strings.ToLower(cfg.NodeType)
	if cfg.NumPorts == 0 {
		cfg.NumPorts = 1
	}
	if cfg.NodeGUID == 0 {
		cfg.NodeGUID = DefaultNodeGUID
	}
	if cfg.BaseLID == 0 {
		cfg.BaseLID = 1
	}
	if cfg.SMLID == 0 {
		cfg.SMLID = 1
	}
	if cfg.GIDPrefix == "" {
		cfg.GIDPrefix = iba.FormatGIDPrefix(iba.GIDDefaultPrefix)
	}
}

// GetDefaultConfig returns a Config with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Transport: TransportConfig{Retries: path.DefaultRetries},
		Simulate: SimulateConfig{
			Port:  DefaultSimulatorPort,
			PKeys: []uint16{iba.PKeyDefault},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// setViperDefaults registers every key so environment variables are seen
// by Unmarshal even when no file mentions the key.
func setViperDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.endpoint", d.Telemetry.Profiling.Endpoint)
	v.SetDefault("telemetry.profiling.profile_types", d.Telemetry.Profiling.ProfileTypes)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", DefaultMetricsPort)

	v.SetDefault("simulator.host", "")
	v.SetDefault("simulator.port", d.Simulator.Port)
	v.SetDefault("simulator.node_id", "")
	v.SetDefault("simulator.qpn", 0)
	v.SetDefault("simulator.is_sm", false)

	v.SetDefault("transport.timeout", d.Transport.Timeout.String())
	v.SetDefault("transport.retries", d.Transport.Retries)
	v.SetDefault("transport.subnet_timeout", 0)

	v.SetDefault("simulate.bind", d.Simulate.Bind)
	v.SetDefault("simulate.port", d.Simulate.Port)
	v.SetDefault("simulate.client_id", 0)
	v.SetDefault("simulate.node_type", d.Simulate.NodeType)
	v.SetDefault("simulate.num_ports", d.Simulate.NumPorts)
	v.SetDefault("simulate.node_guid", d.Simulate.NodeGUID.String())
	v.SetDefault("simulate.device_id", 0)
	v.SetDefault("simulate.vendor_id", 0)
	v.SetDefault("simulate.base_lid", d.Simulate.BaseLID)
	v.SetDefault("simulate.sm_lid", d.Simulate.SMLID)
	v.SetDefault("simulate.sm_sl", 0)
	v.SetDefault("simulate.gid_prefix", d.Simulate.GIDPrefix)
	v.SetDefault("simulate.subnet_timeout", 0)
	v.SetDefault("simulate.pkeys", []int{int(iba.PKeyDefault)})
	v.SetDefault("simulate.drop_first", 0)
}
