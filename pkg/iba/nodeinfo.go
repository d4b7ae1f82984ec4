package iba

import (
	"encoding/binary"

	simerrors "github.com/marmos91/ibsim/pkg/errors"
)

// NodeInfoSize is the wire size of the NodeInfo attribute.
const NodeInfoSize = 40

// NodeInfo is the SMP NodeInfo attribute (IBA 14.2.5.3).
//
// Wire format (big-endian):
//
//	[0] BaseVersion [1] ClassVersion [2] NodeType [3] NumPorts
//	[4:12] SystemImageGUID [12:20] NodeGUID [20:28] PortGUID
//	[28:30] PartitionCap [30:32] DeviceID [32:36] Revision
//	[36] LocalPortNum [37:40] VendorID
type NodeInfo struct {
	BaseVersion     uint8
	ClassVersion    uint8
	NodeType        uint8
	NumPorts        uint8
	SystemImageGUID GUID
	NodeGUID        GUID
	PortGUID        GUID
	PartitionCap    uint16
	DeviceID        uint16
	Revision        uint32
	LocalPortNum    uint8
	VendorID        uint32 // 24 bits
}

// DecodeNodeInfo decodes a NodeInfo attribute.
func DecodeNodeInfo(buf []byte) (*NodeInfo, error) {
	if len(buf) < NodeInfoSize {
		return nil, simerrors.NewProtocolError("decode NodeInfo",
			"short NodeInfo: %d bytes, want %d", len(buf), NodeInfoSize)
	}

	be := binary.BigEndian
	return &NodeInfo{
		BaseVersion:     buf[0],
		ClassVersion:    buf[1],
		NodeType:        buf[2],
		NumPorts:        buf[3],
		SystemImageGUID: GUID(be.Uint64(buf[4:12])),
		NodeGUID:        GUID(be.Uint64(buf[12:20])),
		PortGUID:        GUID(be.Uint64(buf[20:28])),
		PartitionCap:    be.Uint16(buf[28:30]),
		DeviceID:        be.Uint16(buf[30:32]),
		Revision:        be.Uint32(buf[32:36]),
		LocalPortNum:    buf[36],
		VendorID:        uint32(buf[37])<<16 | uint32(buf[38])<<8 | uint32(buf[39]),
	}, nil
}

// Encode returns the wire form of the attribute.
func (n *NodeInfo) Encode() []byte {
	buf := make([]byte, NodeInfoSize)
	be := binary.BigEndian
	buf[0] = n.BaseVersion
	buf[1] = n.ClassVersion
	buf[2] = n.NodeType
	buf[3] = n.NumPorts
	be.PutUint64(buf[4:12], uint64(n.SystemImageGUID))
	be.PutUint64(buf[12:20], uint64(n.NodeGUID))
	be.PutUint64(buf[20:28], uint64(n.PortGUID))
	be.PutUint16(buf[28:30], n.PartitionCap)
	be.PutUint16(buf[30:32], n.DeviceID)
	be.PutUint32(buf[32:36], n.Revision)
	buf[36] = n.LocalPortNum
	buf[37] = byte(n.VendorID >> 16)
	buf[38] = byte(n.VendorID >> 8)
	buf[39] = byte(n.VendorID)
	return buf
}
