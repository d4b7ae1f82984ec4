package wire

import (
	"bytes"
	"encoding/binary"

	simerrors "github.com/marmos91/ibsim/pkg/errors"
)

// NodeIDSize is the fixed width of the node id string in a client info.
const NodeIDSize = 32

// ClientInfoSize is the encoded size of a client info payload.
//
// Wire format (host order): [client_id:u32][qp:u32][issm:u32][nodeid:32]
const ClientInfoSize = 12 + NodeIDSize

// ClientInfo is the CONNECT payload, sent by the client and echoed back by
// the simulator with the authoritative client id.
type ClientInfo struct {
	ClientID uint32
	QPN      uint32
	IsSM     bool
	NodeID   string
}

// EncodeClientInfo encodes ci into a ClientInfoSize buffer. Node ids longer
// than NodeIDSize are truncated.
func EncodeClientInfo(ci ClientInfo) []byte {
	buf := make([]byte, ClientInfoSize)
	order := binary.NativeEndian
	order.PutUint32(buf[0:4], ci.ClientID)
	order.PutUint32(buf[4:8], ci.QPN)
	if ci.IsSM {
		order.PutUint32(buf[8:12], 1)
	}
	copy(buf[12:], ci.NodeID)
	return buf
}

// DecodeClientInfo decodes a client info payload. The node id is cut at the
// first NUL byte.
func DecodeClientInfo(buf []byte) (ClientInfo, error) {
	if len(buf) < ClientInfoSize {
		return ClientInfo{}, simerrors.NewProtocolError("decode client info",
			"short client info: %d bytes, want %d", len(buf), ClientInfoSize)
	}

	order := binary.NativeEndian
	nodeID := buf[12:ClientInfoSize]
	if i := bytes.IndexByte(nodeID, 0); i >= 0 {
		nodeID = nodeID[:i]
	}

	return ClientInfo{
		ClientID: order.Uint32(buf[0:4]),
		QPN:      order.Uint32(buf[4:8]),
		IsSM:     order.Uint32(buf[8:12]) != 0,
		NodeID:   string(nodeID),
	}, nil
}
