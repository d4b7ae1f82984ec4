package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/ibsim/pkg/iba"
)

// EnvPrefix prefixes every environment override, e.g. IBSIM_LOGGING_LEVEL.
const EnvPrefix = "IBSIM"

// Config is the ibsim configuration.
//
// Sources, highest precedence first:
//  1. CLI flags
//  2. Environment variables (IBSIM_*, plus IBSIM_SERVER_NAME,
//     IBSIM_SERVER_PORT and SIM_HOST for the simulator endpoint)
//  3. Configuration file (YAML)
//  4. Defaults
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`

	// Simulator is the ibsim endpoint the transport connects to
	Simulator SimulatorConfig `mapstructure:"simulator" yaml:"simulator"`

	// Transport tunes MAD transactions issued over the simulator
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Simulate configures the built-in fake simulator (ibsim simulate)
	Simulate SimulateConfig `mapstructure:"simulate" yaml:"simulate"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector (host:port)
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of traces kept (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// ProfileTypes lists profiles to collect (cpu, alloc_space, goroutines, ...)
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus endpoint. When disabled nothing
// is collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port serving /metrics
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// SimulatorConfig identifies the ibsim server and how this client presents
// itself to it.
type SimulatorConfig struct {
	// Host is the simulator host name. Empty leaves the transport inert.
	// Override: IBSIM_SERVER_NAME
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the simulator control port.
	// Override: IBSIM_SERVER_PORT
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// NodeID names the simulated node this client attaches to.
	// Override: SIM_HOST
	NodeID string `mapstructure:"node_id" validate:"max=32" yaml:"node_id"`

	// QPN is announced in the client info at connect time
	QPN uint32 `mapstructure:"qpn" yaml:"qpn"`

	// IsSM announces the client as a subnet manager
	IsSM bool `mapstructure:"is_sm" yaml:"is_sm"`
}

// Address returns host:port.
func (c SimulatorConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TransportConfig holds MAD transaction defaults.
type TransportConfig struct {
	// Timeout bounds each attempt of a transaction
	Timeout time.Duration `mapstructure:"timeout" validate:"required,gt=0" yaml:"timeout"`

	// Retries is the number of resends after the first send
	Retries int `mapstructure:"retries" validate:"gte=0,lte=32" yaml:"retries"`

	// SubnetTimeout overrides the packet life time of SA paths (0 keeps the
	// port's value)
	SubnetTimeout uint8 `mapstructure:"subnet_timeout" validate:"lte=31" yaml:"subnet_timeout"`
}

// SimulateConfig describes the node served by the fake simulator.
type SimulateConfig struct {
	// Bind is the listen address
	Bind string `mapstructure:"bind" validate:"required" yaml:"bind"`

	// Port is the control port; client data ports are Port+clientID+1
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// ClientID, when non-zero, is assigned to every connecting client
	ClientID uint32 `mapstructure:"client_id" yaml:"client_id"`

	// NodeType is ca, switch or router
	NodeType string `mapstructure:"node_type" validate:"required,oneof=ca switch router" yaml:"node_type"`

	NumPorts int      `mapstructure:"num_ports" validate:"min=1,max=254" yaml:"num_ports"`
	NodeGUID iba.GUID `mapstructure:"node_guid" validate:"required" yaml:"node_guid"`
	DeviceID uint16   `mapstructure:"device_id" yaml:"device_id"`
	VendorID uint32   `mapstructure:"vendor_id" validate:"lte=16777215" yaml:"vendor_id"`

	// BaseLID is assigned to port 1; further ports take consecutive LIDs
	BaseLID uint16 `mapstructure:"base_lid" validate:"min=1,max=49151" yaml:"base_lid"`
	SMLID   uint16 `mapstructure:"sm_lid" validate:"min=1,max=49151" yaml:"sm_lid"`
	SMSL    uint8  `mapstructure:"sm_sl" validate:"lte=15" yaml:"sm_sl"`

	// GIDPrefix is the subnet prefix in IPv6 notation
	GIDPrefix string `mapstructure:"gid_prefix" validate:"required,ib_gid_prefix" yaml:"gid_prefix"`

	SubnetTimeout uint8 `mapstructure:"subnet_timeout" validate:"lte=31" yaml:"subnet_timeout"`

	// PKeys is the partition table; empty answers GET_PKEYS with ERROR
	PKeys []uint16 `mapstructure:"pkeys" yaml:"pkeys,flow"`

	// DropFirst drops this many data datagrams before answering
	DropFirst int `mapstructure:"drop_first" validate:"gte=0" yaml:"drop_first"`
}

// Load reads configuration from file, environment and defaults. An empty
// configPath searches the default location; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad is Load for CLI commands: an explicitly named file must exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Create one with:\n"+
				"  ibsim init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	setViperDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reports whether a configuration file was read.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		guidDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
		pkeyListDecodeHook(),
	)
}

// guidDecodeHook accepts GUIDs as "0x0002c90300001234",
// "0002:c903:0000:1234" or plain integers.
func guidDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(iba.GUID(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return iba.ParseGUID(v)
		case int:
			return iba.GUID(v), nil
		case int64:
			return iba.GUID(v), nil
		case uint64:
			return iba.GUID(v), nil
		case float64:
			return iba.GUID(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook accepts "30s"-style strings and raw nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// pkeyListDecodeHook parses partition keys written as hex strings
// ("0xffff") in addition to plain integers.
func pkeyListDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf([]uint16(nil)) {
			return data, nil
		}
		items, ok := data.([]interface{})
		if !ok {
			if strs, isStrs := data.([]string); isStrs {
				for _, s := range strs {
					items = append(items, s)
				}
			} else {
				return data, nil
			}
		}

		out := make([]uint16, 0, len(items))
		for _, item := range items {
			switch v := item.(type) {
			case string:
				pk, err := parsePKey(v)
				if err != nil {
					return nil, err
				}
				out = append(out, pk)
			case int:
				out = append(out, uint16(v))
			case float64:
				out = append(out, uint16(v))
			default:
				return nil, fmt.Errorf("invalid partition key %v", item)
			}
		}
		return out, nil
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/ibsim, ~/.config/ibsim or ".".
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ibsim")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ibsim")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
