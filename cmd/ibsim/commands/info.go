package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/ibsim/internal/cli/output"
	"github.com/marmos91/ibsim/pkg/iba"
	"github.com/marmos91/ibsim/pkg/sim"
)

// defaultDevice is the name given to the simulated adapter.
const defaultDevice = "ibsim0"

var infoCmd = &cobra.Command{
	Use:   "info [device]",
	Short: "Show the simulated device and its ports",
	Long: `Show the simulated device and the state of each of its ports,
in the layout of ibstat.

Examples:
  # Default device, table output
  ibsim info

  # As JSON
  ibsim info -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInfo,
}

type portReport struct {
	Port          uint8    `json:"port" yaml:"port"`
	State         string   `json:"state" yaml:"state"`
	PhysicalState string   `json:"physical_state" yaml:"physical_state"`
	Rate          string   `json:"rate" yaml:"rate"`
	BaseLID       uint16   `json:"base_lid" yaml:"base_lid"`
	LMC           uint8    `json:"lmc" yaml:"lmc"`
	SMLID         uint16   `json:"sm_lid" yaml:"sm_lid"`
	CapMask       uint32   `json:"capability_mask" yaml:"capability_mask"`
	PortGUID      iba.GUID `json:"port_guid" yaml:"port_guid"`
	GIDs          []string `json:"gids" yaml:"gids"`
	PKeys         []uint16 `json:"pkeys" yaml:"pkeys,flow"`
}

type deviceReport struct {
	Name            string       `json:"name" yaml:"name"`
	NodeType        string       `json:"node_type" yaml:"node_type"`
	HCAType         string       `json:"hca_type" yaml:"hca_type"`
	NumPorts        int          `json:"num_ports" yaml:"num_ports"`
	FirmwareVersion uint32       `json:"firmware_version" yaml:"firmware_version"`
	HardwareVersion uint32       `json:"hardware_version" yaml:"hardware_version"`
	BoardID         uint16       `json:"board_id" yaml:"board_id"`
	NodeGUID        iba.GUID     `json:"node_guid" yaml:"node_guid"`
	SystemImageGUID iba.GUID     `json:"system_image_guid" yaml:"system_image_guid"`
	Ports           []portReport `json:"ports" yaml:"ports"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	name := defaultDevice
	if len(args) == 1 {
		name = args[0]
	}

	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	s, err := env.connect(ctx)
	if err != nil {
		return err
	}
	dev, err := sim.OpenDevice(ctx, s, name)
	if err != nil {
		return err
	}

	report, err := describeDevice(ctx, dev)
	if err != nil {
		return err
	}
	if env.printer.Format() != output.FormatTable {
		return env.printer.Print(report)
	}
	return printDeviceReport(env.printer, report)
}

// describeDevice reads the device and every port once.
func describeDevice(ctx context.Context, dev *sim.Device) (*deviceReport, error) {
	r := &deviceReport{
		Name:            dev.Name(),
		NodeType:        iba.NodeTypeString(dev.NodeType()),
		HCAType:         dev.HCAType(),
		NumPorts:        len(dev.EndPorts()),
		FirmwareVersion: dev.FWVersion(),
		HardwareVersion: dev.HWVersion(),
		BoardID:         dev.BoardID(),
		NodeGUID:        dev.NodeGUID(),
		SystemImageGUID: dev.SystemImageGUID(),
	}
	for _, ep := range dev.EndPorts() {
		pr, err := describePort(ctx, ep)
		if err != nil {
			return nil, fmt.Errorf("port %s: %w", ep, err)
		}
		r.Ports = append(r.Ports, *pr)
	}
	return r, nil
}

func describePort(ctx context.Context, ep *sim.EndPort) (*portReport, error) {
	pi, err := ep.PortInfo(ctx)
	if err != nil {
		return nil, err
	}
	rate, err := ep.Rate(ctx)
	if err != nil {
		return nil, err
	}
	guid, err := ep.PortGUID(ctx)
	if err != nil {
		return nil, err
	}
	gids, err := ep.GIDs(ctx)
	if err != nil {
		return nil, err
	}
	pkeys, err := ep.PKeys(ctx)
	if err != nil {
		return nil, err
	}

	pr := &portReport{
		Port:          ep.Num(),
		State:         iba.PortStateString(pi.PortState),
		PhysicalState: iba.PhysStateString(pi.PortPhysicalState),
		Rate:          rate,
		BaseLID:       pi.LID,
		LMC:           pi.LMC,
		SMLID:         pi.MasterSMLID,
		CapMask:       pi.CapabilityMask,
		PortGUID:      guid,
		PKeys:         pkeys,
	}
	for _, g := range gids {
		pr.GIDs = append(pr.GIDs, g.String())
	}
	return pr, nil
}

func printDeviceReport(p *output.Printer, r *deviceReport) error {
	p.Printf("%s '%s'\n", r.NodeType, r.Name)
	if err := p.Fields([]output.Field{
		{Label: "  CA type", Value: r.HCAType},
		{Label: "  Number of ports", Value: fmt.Sprint(r.NumPorts)},
		{Label: "  Firmware version", Value: fmt.Sprint(r.FirmwareVersion)},
		{Label: "  Hardware version", Value: fmt.Sprintf("%x", r.HardwareVersion)},
		{Label: "  Node GUID", Value: r.NodeGUID.String()},
		{Label: "  System image GUID", Value: r.SystemImageGUID.String()},
	}); err != nil {
		return err
	}
	for _, pr := range r.Ports {
		p.Printf("  Port %d:\n", pr.Port)
		if err := p.Fields([]output.Field{
			{Label: "    State", Value: pr.State},
			{Label: "    Physical state", Value: pr.PhysicalState},
			{Label: "    Rate", Value: pr.Rate},
			{Label: "    Base lid", Value: fmt.Sprint(pr.BaseLID)},
			{Label: "    LMC", Value: fmt.Sprint(pr.LMC)},
			{Label: "    SM lid", Value: fmt.Sprint(pr.SMLID)},
			{Label: "    Capability mask", Value: fmt.Sprintf("0x%08x", pr.CapMask)},
			{Label: "    Port GUID", Value: pr.PortGUID.String()},
			{Label: "    Link layer", Value: "InfiniBand"},
		}); err != nil {
			return err
		}
	}
	return nil
}
