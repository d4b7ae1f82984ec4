package simulator

import (
	"fmt"
	"strings"

	"github.com/marmos91/ibsim/pkg/config"
	"github.com/marmos91/ibsim/pkg/iba"
)

var nodeTypes = map[string]uint8{
	"ca":     iba.NodeCA,
	"switch": iba.NodeSwitch,
	"router": iba.NodeRouter,
}

// ParseNodeType maps "ca", "switch" or "router" to its NodeInfo code.
func ParseNodeType(s string) (uint8, error) {
	t, ok := nodeTypes[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown node type %q (want ca, switch or router)", s)
	}
	return t, nil
}

// ConfigFromSettings builds a server configuration from the simulate section
// of the ibsim configuration.
func ConfigFromSettings(cfg config.SimulateConfig) (Config, error) {
	nodeType, err := ParseNodeType(cfg.NodeType)
	if err != nil {
		return Config{}, err
	}
	prefix, err := iba.ParseGIDPrefix(cfg.GIDPrefix)
	if err != nil {
		return Config{}, fmt.Errorf("simulate.gid_prefix: %w", err)
	}
	if cfg.NumPorts < 1 || cfg.NumPorts > 254 {
		return Config{}, fmt.Errorf("simulate.num_ports: %d out of range", cfg.NumPorts)
	}

	return Config{
		Bind:     cfg.Bind,
		Port:     cfg.Port,
		ClientID: cfg.ClientID,
		Node: NodeSpec{
			NodeType:      nodeType,
			NumPorts:      uint8(cfg.NumPorts),
			NodeGUID:      cfg.NodeGUID,
			DeviceID:      cfg.DeviceID,
			VendorID:      cfg.VendorID,
			BaseLID:       cfg.BaseLID,
			SMLID:         cfg.SMLID,
			SMSL:          cfg.SMSL,
			GIDPrefix:     prefix,
			SubnetTimeout: cfg.SubnetTimeout,
			PKeys:         append([]uint16(nil), cfg.PKeys...),
		},
		DropFirst: cfg.DropFirst,
	}, nil
}
