// Package iba holds the slice of the InfiniBand Architecture data model the
// simulated transport needs: node and port attribute layouts, GUIDs, GIDs
// and well-known constants.
//
// All attribute layouts are the big-endian SMP wire layouts from IBA Vol 1
// chapter 14.
package iba

// Node types (NodeInfo.NodeType).
const (
	NodeCA     uint8 = 1
	NodeSwitch uint8 = 2
	NodeRouter uint8 = 3
)

// Port states (PortInfo.PortState).
const (
	PortStateNop    uint8 = 0
	PortStateDown   uint8 = 1
	PortStateInit   uint8 = 2
	PortStateArmed  uint8 = 3
	PortStateActive uint8 = 4
)

// Port physical states (PortInfo.PortPhysicalState).
const (
	PhysStateSleep             uint8 = 1
	PhysStatePolling           uint8 = 2
	PhysStateDisabled          uint8 = 3
	PhysStatePortConfigTrain   uint8 = 4
	PhysStateLinkUp            uint8 = 5
	PhysStateLinkErrorRecovery uint8 = 6
	PhysStatePhyTest           uint8 = 7
)

const (
	// GIDDefaultPrefix is the link-local subnet prefix fe80::/64.
	GIDDefaultPrefix uint64 = 0xfe80000000000000

	// PKeyDefault is the full-membership default partition key.
	PKeyDefault uint16 = 0xffff

	// PKeyPartialDefault is the limited-membership default partition key.
	PKeyPartialDefault uint16 = 0x7fff

	// DefaultQP1QKey is the well-known QKey for QP1 (GSI).
	DefaultQP1QKey uint32 = 0x80010000

	// DefaultSubnetTimeout is the packet lifetime exponent used when no
	// subnet timeout has been learned.
	DefaultSubnetTimeout uint8 = 18
)

var nodeTypeNames = map[uint8]string{
	NodeCA:     "CA",
	NodeSwitch: "Switch",
	NodeRouter: "Router",
}

// NodeTypeString returns a printable node type.
func NodeTypeString(t uint8) string {
	if s, ok := nodeTypeNames[t]; ok {
		return s
	}
	return "Unknown"
}

var portStateNames = [...]string{
	PortStateNop:    "NOP",
	PortStateDown:   "DOWN",
	PortStateInit:   "INIT",
	PortStateArmed:  "ARMED",
	PortStateActive: "ACTIVE",
}

// PortStateString returns a printable port state.
func PortStateString(s uint8) string {
	if int(s) < len(portStateNames) {
		return portStateNames[s]
	}
	return "UNKNOWN"
}

var physStateNames = map[uint8]string{
	PhysStateSleep:             "Sleep",
	PhysStatePolling:           "Polling",
	PhysStateDisabled:          "Disabled",
	PhysStatePortConfigTrain:   "PortConfigurationTraining",
	PhysStateLinkUp:            "LinkUp",
	PhysStateLinkErrorRecovery: "LinkErrorRecovery",
	PhysStatePhyTest:           "PhyTest",
}

// PhysStateString returns a printable physical port state.
func PhysStateString(s uint8) string {
	if name, ok := physStateNames[s]; ok {
		return name
	}
	return "Unknown"
}
