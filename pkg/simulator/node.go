package simulator

import (
	"github.com/marmos91/ibsim/pkg/iba"
)

// NodeSpec describes the simulated node.
type NodeSpec struct {
	NodeType      uint8 // iba.NodeCA, iba.NodeSwitch or iba.NodeRouter
	NumPorts      uint8
	NodeGUID      iba.GUID
	DeviceID      uint16
	Revision      uint32
	VendorID      uint32
	BaseLID       uint16
	SMLID         uint16
	SMSL          uint8
	LMC           uint8
	GIDPrefix     uint64
	SubnetTimeout uint8

	// PKeys is the partition table. Empty makes GET_PKEYS answer ERROR.
	PKeys []uint16
}

// Node is the state served by the simulator. Mutating methods are safe for
// concurrent use through the owning Server.
type Node struct {
	Info  iba.NodeInfo
	Ports map[uint8]*iba.PortInfo
	PKeys []uint16
}

// NewNode builds a node with every port ACTIVE/LinkUp at 4X 10 Gb/sec.
// Switches expose management port 0 only; other node types expose ports
// 1..NumPorts with consecutive LIDs starting at BaseLID.
func NewNode(spec NodeSpec) *Node {
	if spec.NodeType == 0 {
		spec.NodeType = iba.NodeCA
	}
	if spec.NumPorts == 0 {
		spec.NumPorts = 1
	}
	if spec.GIDPrefix == 0 {
		spec.GIDPrefix = iba.GIDDefaultPrefix
	}

	n := &Node{
		Info: iba.NodeInfo{
			BaseVersion:     1,
			ClassVersion:    1,
			NodeType:        spec.NodeType,
			NumPorts:        spec.NumPorts,
			SystemImageGUID: spec.NodeGUID,
			NodeGUID:        spec.NodeGUID,
			PortGUID:        spec.NodeGUID,
			PartitionCap:    uint16(len(spec.PKeys)),
			DeviceID:        spec.DeviceID,
			Revision:        spec.Revision,
			LocalPortNum:    1,
			VendorID:        spec.VendorID,
		},
		Ports: make(map[uint8]*iba.PortInfo),
		PKeys: append([]uint16(nil), spec.PKeys...),
	}

	first, last := uint8(1), spec.NumPorts
	if spec.NodeType == iba.NodeSwitch {
		first, last = 0, 0
		n.Info.LocalPortNum = 0
	}
	for p := first; ; p++ {
		lid := spec.BaseLID
		if p > 1 {
			lid += uint16(p-1) << spec.LMC
		}
		n.Ports[p] = &iba.PortInfo{
			GIDPrefix:          spec.GIDPrefix,
			LID:                lid,
			MasterSMLID:        spec.SMLID,
			CapabilityMask:     0x02510868,
			LocalPortNum:       p,
			LinkWidthEnabled:   2,
			LinkWidthSupported: 3,
			LinkWidthActive:    2,
			LinkSpeedSupported: 5,
			PortState:          iba.PortStateActive,
			PortPhysicalState:  iba.PhysStateLinkUp,
			LMC:                spec.LMC,
			LinkSpeedActive:    4,
			LinkSpeedEnabled:   5,
			NeighborMTU:        5,
			MasterSMSL:         spec.SMSL,
			SubnetTimeout:      spec.SubnetTimeout,
		}
		if p == last {
			break
		}
	}
	return n
}

// Port returns the PortInfo of port num. Port 0 on a CA answers for the
// local port, matching GET_PORTINFO on real hardware.
func (n *Node) Port(num uint8) (*iba.PortInfo, bool) {
	if pi, ok := n.Ports[num]; ok {
		return pi, true
	}
	if num == 0 {
		pi, ok := n.Ports[n.Info.LocalPortNum]
		return pi, ok
	}
	return nil, false
}
