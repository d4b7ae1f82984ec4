package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/ibsim/internal/cli/output"
	"github.com/marmos91/ibsim/pkg/iba"
	"github.com/marmos91/ibsim/pkg/madtransactor"
	"github.com/marmos91/ibsim/pkg/sim"
)

var (
	queryDevice   string
	queryPort     int
	queryLID      uint16
	queryAttr     string
	queryAttrMod  uint32
	querySendOnly bool
)

var queryAttrs = map[string]uint16{
	"nodeinfo": madtransactor.AttrNodeInfo,
	"portinfo": madtransactor.AttrPortInfo,
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Send a SubnGet MAD and print the reply",
	Long: `Send a LID routed SubnGet(NodeInfo) or SubnGet(PortInfo) through the
simulated transport, resending on timeout, and print the decoded reply.

Examples:
  # NodeInfo of the local port
  ibsim query

  # PortInfo of port 1 at LID 7 with two resends
  ibsim query --lid 7 --attr portinfo --attr-mod 1 --retries 2

  # Fire and forget
  ibsim query --send-only`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryDevice, "device", defaultDevice, "Device name")
	queryCmd.Flags().IntVar(&queryPort, "ib-port", 0, "Local port number (0 selects the first port)")
	queryCmd.Flags().Uint16Var(&queryLID, "lid", 0, "Destination LID (default: the local port's LID)")
	queryCmd.Flags().StringVar(&queryAttr, "attr", "nodeinfo", "Attribute: nodeinfo or portinfo")
	queryCmd.Flags().Uint32Var(&queryAttrMod, "attr-mod", 0, "Attribute modifier (port number for portinfo)")
	queryCmd.Flags().BoolVar(&querySendOnly, "send-only", false, "Send without waiting for a reply")
}

func runQuery(cmd *cobra.Command, args []string) error {
	attr, ok := queryAttrs[strings.ToLower(queryAttr)]
	if !ok {
		return fmt.Errorf("unknown attribute %q (want nodeinfo or portinfo)", queryAttr)
	}

	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	ep, err := env.openPort(ctx, queryDevice, queryPort)
	if err != nil {
		return err
	}

	result, err := querySMP(ctx, ep, queryLID, attr, queryAttrMod, querySendOnly)
	if err != nil {
		return err
	}
	if result == nil {
		if querySendOnly {
			env.printer.Printf("sent\n")
			return nil
		}
		return fmt.Errorf("no reply from LID %d after %d retries", queryLID, env.cfg.Transport.Retries)
	}

	if env.printer.Format() != output.FormatTable {
		return env.printer.Print(result)
	}
	return printQueryResult(env.printer, result)
}

// queryResult is a decoded SubnGet reply. Exactly one of NodeInfo and
// PortInfo is set.
type queryResult struct {
	LID      uint16        `json:"lid" yaml:"lid"`
	TID      uint32        `json:"tid" yaml:"tid"`
	Status   uint16        `json:"status" yaml:"status"`
	NodeInfo *iba.NodeInfo `json:"node_info,omitempty" yaml:"node_info,omitempty"`
	PortInfo *iba.PortInfo `json:"port_info,omitempty" yaml:"port_info,omitempty"`
}

// querySMP sends SubnGet(attr) to lid (0 meaning the port's own LID) and
// decodes the reply. It returns (nil, nil) for send-only requests and when
// every attempt went unanswered.
func querySMP(ctx context.Context, ep *sim.EndPort, lid uint16, attr uint16, attrMod uint32, sendOnly bool) (*queryResult, error) {
	if lid == 0 {
		own, err := ep.LID(ctx)
		if err != nil {
			return nil, err
		}
		lid = own
	}

	sa, err := ep.SAPath(ctx)
	if err != nil {
		return nil, err
	}
	p := sa.Clone()
	p.DLID = lid
	p.DQPN, p.SQPN = 0, 0

	u := ep.UMAD()
	tid := u.NewTID()
	req := madtransactor.NewGetRequest(madtransactor.ClassSubnLIDRouted, attr, attrMod, tid)

	reply, err := u.Execute(ctx, req, p, sendOnly)
	if err != nil || reply == nil {
		return nil, err
	}

	h, err := madtransactor.DecodeHeader(reply.Payload)
	if err != nil {
		return nil, err
	}
	result := &queryResult{LID: lid, TID: tid, Status: h.Status}
	if h.Status != 0 {
		return result, nil
	}

	data, err := madtransactor.SMPData(reply.Payload)
	if err != nil {
		return nil, err
	}
	switch attr {
	case madtransactor.AttrNodeInfo:
		result.NodeInfo, err = iba.DecodeNodeInfo(data)
	case madtransactor.AttrPortInfo:
		result.PortInfo, err = iba.DecodePortInfo(data)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func printQueryResult(p *output.Printer, r *queryResult) error {
	p.Printf("Reply from LID %d (TID 0x%08x)\n", r.LID, r.TID)
	switch {
	case r.Status != 0:
		return p.Fields([]output.Field{{Label: "MAD status", Value: fmt.Sprintf("0x%04x", r.Status)}})
	case r.NodeInfo != nil:
		ni := r.NodeInfo
		return p.Fields([]output.Field{
			{Label: "Node type", Value: iba.NodeTypeString(ni.NodeType)},
			{Label: "Ports", Value: fmt.Sprint(ni.NumPorts)},
			{Label: "Node GUID", Value: ni.NodeGUID.String()},
			{Label: "System image GUID", Value: ni.SystemImageGUID.String()},
			{Label: "Port GUID", Value: ni.PortGUID.String()},
			{Label: "Partition cap", Value: fmt.Sprint(ni.PartitionCap)},
			{Label: "Device id", Value: fmt.Sprintf("0x%04x", ni.DeviceID)},
			{Label: "Revision", Value: fmt.Sprintf("0x%x", ni.Revision)},
			{Label: "Local port", Value: fmt.Sprint(ni.LocalPortNum)},
			{Label: "Vendor id", Value: fmt.Sprintf("0x%06x", ni.VendorID)},
		})
	case r.PortInfo != nil:
		pi := r.PortInfo
		return p.Fields([]output.Field{
			{Label: "Port", Value: fmt.Sprint(pi.LocalPortNum)},
			{Label: "State", Value: iba.PortStateString(pi.PortState)},
			{Label: "Physical state", Value: iba.PhysStateString(pi.PortPhysicalState)},
			{Label: "Rate", Value: sim.RateString(pi.LinkWidthActive, pi.LinkSpeedActive)},
			{Label: "LID", Value: fmt.Sprint(pi.LID)},
			{Label: "LMC", Value: fmt.Sprint(pi.LMC)},
			{Label: "SM LID", Value: fmt.Sprint(pi.MasterSMLID)},
			{Label: "SM SL", Value: fmt.Sprint(pi.MasterSMSL)},
			{Label: "GID prefix", Value: iba.FormatGIDPrefix(pi.GIDPrefix)},
			{Label: "Capability mask", Value: fmt.Sprintf("0x%08x", pi.CapabilityMask)},
			{Label: "Subnet timeout", Value: fmt.Sprint(pi.SubnetTimeout)},
		})
	}
	return nil
}
