package wire

import (
	"encoding/binary"

	simerrors "github.com/marmos91/ibsim/pkg/errors"
)

// RequestDataSize is the fixed payload slot of a data envelope. It matches
// the size of a MAD.
const RequestDataSize = 256

// RequestSize is the encoded size of a data envelope.
//
// Wire format (big-endian):
//
//	[dlid:u16][slid:u16][dqp:u32][sqp:u32][status:u32][length:u64][mad:256]
const RequestSize = 24 + RequestDataSize

// Request is a decoded data envelope.
type Request struct {
	DLID   uint16
	SLID   uint16
	DQP    uint32
	SQP    uint32
	Status uint32
	Length uint64
	Data   [RequestDataSize]byte
}

// Payload returns the MAD bytes bounded by Length. A length larger than the
// slot is a protocol error.
func (r *Request) Payload() ([]byte, error) {
	if r.Length > RequestDataSize {
		return nil, simerrors.NewProtocolError("decode request",
			"payload length %d exceeds slot of %d bytes", r.Length, RequestDataSize)
	}
	return r.Data[:r.Length], nil
}

// EncodeRequest encodes a data envelope into a new RequestSize buffer. The
// length field is len(payload) capped at the slot size.
func EncodeRequest(r *Request, payload []byte) []byte {
	buf := make([]byte, RequestSize)
	length := uint64(len(payload))
	if length > RequestDataSize {
		length = RequestDataSize
	}

	binary.BigEndian.PutUint16(buf[0:2], r.DLID)
	binary.BigEndian.PutUint16(buf[2:4], r.SLID)
	binary.BigEndian.PutUint32(buf[4:8], r.DQP)
	binary.BigEndian.PutUint32(buf[8:12], r.SQP)
	binary.BigEndian.PutUint32(buf[12:16], r.Status)
	binary.BigEndian.PutUint64(buf[16:24], length)
	copy(buf[24:], payload)
	return buf
}

// DecodeRequest decodes a data envelope.
func DecodeRequest(buf []byte) (*Request, error) {
	if len(buf) < RequestSize {
		return nil, simerrors.NewProtocolError("decode request",
			"short data envelope: %d bytes, want %d", len(buf), RequestSize)
	}

	r := &Request{
		DLID:   binary.BigEndian.Uint16(buf[0:2]),
		SLID:   binary.BigEndian.Uint16(buf[2:4]),
		DQP:    binary.BigEndian.Uint32(buf[4:8]),
		SQP:    binary.BigEndian.Uint32(buf[8:12]),
		Status: binary.BigEndian.Uint32(buf[12:16]),
		Length: binary.BigEndian.Uint64(buf[16:24]),
	}
	copy(r.Data[:], buf[24:RequestSize])
	return r, nil
}
