// Package wire provides the fixed-layout encoders and decoders for the ibsim
// simulator protocol.
//
// Two message families travel on the wire:
//
//   - Control family (control envelope, client info). The simulator does no
//     byte swapping, so both ends must share endianness; fields are written in
//     host order (binary.NativeEndian).
//   - Data family (request envelope). Always big-endian.
//
// Every message has a fixed size. Encoders never grow a message past its slot;
// payloads longer than the slot are silently truncated, so callers that care
// must reject oversized payloads before encoding.
package wire

import (
	"encoding/binary"

	simerrors "github.com/marmos91/ibsim/pkg/errors"
)

// Magic is the constant that opens every control envelope.
const Magic uint32 = 0xdeadbeef

// Opcode identifies a control request.
type Opcode uint32

// Control opcodes.
const (
	OpError       Opcode = 0 // reply only
	OpConnect     Opcode = 1
	OpDisconnect  Opcode = 2
	OpGetPort     Opcode = 3
	OpGetVendor   Opcode = 4
	OpGetGID      Opcode = 5
	OpGetGUID     Opcode = 6
	OpGetNodeInfo Opcode = 7
	OpGetPortInfo Opcode = 8
	OpSetIsSM     Opcode = 9
	OpGetPKeys    Opcode = 10
)

// String returns the protocol name of the opcode.
func (o Opcode) String() string {
	switch o {
	case OpError:
		return "ERROR"
	case OpConnect:
		return "CONNECT"
	case OpDisconnect:
		return "DISCONNECT"
	case OpGetPort:
		return "GET_PORT"
	case OpGetVendor:
		return "GET_VENDOR"
	case OpGetGID:
		return "GET_GID"
	case OpGetGUID:
		return "GET_GUID"
	case OpGetNodeInfo:
		return "GET_NODEINFO"
	case OpGetPortInfo:
		return "GET_PORTINFO"
	case OpSetIsSM:
		return "SET_ISSM"
	case OpGetPKeys:
		return "GET_PKEYS"
	default:
		return "UNKNOWN"
	}
}

// ControlDataSize is the fixed payload slot of a control envelope.
const ControlDataSize = 64

// ControlSize is the encoded size of a control envelope.
//
// Wire format (host order): [magic:u32][client_id:u32][type:u32][len:u32][data:64]
const ControlSize = 16 + ControlDataSize

// Control is a decoded control envelope.
type Control struct {
	Magic    uint32
	ClientID uint32
	Opcode   Opcode
	Length   uint32
	Data     [ControlDataSize]byte
}

// Payload returns the part of Data bounded by Length. Replies to the query
// opcodes fill the whole slot regardless of Length and are decoded from
// Data directly.
func (c *Control) Payload() []byte {
	n := int(c.Length)
	if n > ControlDataSize {
		n = ControlDataSize
	}
	return c.Data[:n]
}

// EncodeControl encodes a control envelope into a new ControlSize buffer.
// Payloads longer than the slot are truncated and the length field is
// capped at ControlDataSize.
func EncodeControl(magic, clientID uint32, op Opcode, payload []byte) []byte {
	buf := make([]byte, ControlSize)
	order := binary.NativeEndian
	order.PutUint32(buf[0:4], magic)
	order.PutUint32(buf[4:8], clientID)
	order.PutUint32(buf[8:12], uint32(op))
	order.PutUint32(buf[12:16], uint32(min(len(payload), ControlDataSize)))
	copy(buf[16:], payload)
	return buf
}

// SetControlLength overwrites the length field of an encoded envelope.
func SetControlLength(buf []byte, n uint32) {
	binary.NativeEndian.PutUint32(buf[12:16], n)
}

// DecodeControl decodes a control envelope. Buffers shorter than ControlSize
// are rejected; trailing bytes beyond ControlSize are ignored.
func DecodeControl(buf []byte) (*Control, error) {
	if len(buf) < ControlSize {
		return nil, simerrors.NewProtocolError("decode control",
			"short control envelope: %d bytes, want %d", len(buf), ControlSize)
	}

	order := binary.NativeEndian
	c := &Control{
		Magic:    order.Uint32(buf[0:4]),
		ClientID: order.Uint32(buf[4:8]),
		Opcode:   Opcode(order.Uint32(buf[8:12])),
		Length:   order.Uint32(buf[12:16]),
	}
	copy(c.Data[:], buf[16:ControlSize])
	return c, nil
}
