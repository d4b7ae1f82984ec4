package simulator

import (
	"encoding/binary"

	"github.com/marmos91/ibsim/internal/wire"
	"github.com/marmos91/ibsim/pkg/iba"
	"github.com/marmos91/ibsim/pkg/madtransactor"
)

// Datagram is one reply written back to a client's data socket.
type Datagram struct {
	// Payload is the MAD carried by the reply
	Payload []byte
	// Status is the transport status word of the envelope
	Status uint32
}

// Responder builds the replies for one request received on a client's data
// port. Returning no datagrams simulates a lost reply. Responders run on the
// client's serving goroutine and must not block.
type Responder interface {
	Respond(req *wire.Request, mad []byte) []Datagram
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(req *wire.Request, mad []byte) []Datagram

// Respond calls f.
func (f ResponderFunc) Respond(req *wire.Request, mad []byte) []Datagram {
	return f(req, mad)
}

// EchoResponder answers every request with a copy of the request MAD turned
// into a GetResp.
func EchoResponder() Responder {
	return ResponderFunc(func(_ *wire.Request, mad []byte) []Datagram {
		return []Datagram{{Payload: asResponse(mad)}}
	})
}

// NodeResponder answers LID routed SubnGet(NodeInfo) and SubnGet(PortInfo)
// from node and echoes everything else like EchoResponder.
func NodeResponder(s *Server) Responder {
	return ResponderFunc(func(_ *wire.Request, mad []byte) []Datagram {
		reply := asResponse(mad)
		h, err := madtransactor.DecodeHeader(mad)
		if err != nil || h.MgmtClass != madtransactor.ClassSubnLIDRouted || h.Method != madtransactor.MethodGet {
			return []Datagram{{Payload: reply}}
		}
		if len(reply) < madtransactor.SMPDataOffset+madtransactor.SMPDataSize {
			return []Datagram{{Payload: reply}}
		}

		data := reply[madtransactor.SMPDataOffset : madtransactor.SMPDataOffset+madtransactor.SMPDataSize]
		switch h.AttrID {
		case madtransactor.AttrNodeInfo:
			ni := s.nodeInfo()
			copy(data, ni.Encode())
		case madtransactor.AttrPortInfo:
			pi, ok := s.portInfo(uint8(h.AttrModifier))
			if !ok {
				setStatus(reply, madStatusInvalidField)
				break
			}
			copy(data, pi.Encode())
		case madtransactor.AttrPKeyTable:
			copy(data, iba.EncodePKeyTable(s.pkeys()))
		default:
			setStatus(reply, madStatusUnsupportedAttr)
		}
		return []Datagram{{Payload: reply}}
	})
}

// MAD status codes (IBA 13.4.7).
const (
	madStatusUnsupportedAttr uint16 = 0x000c
	madStatusInvalidField    uint16 = 0x001c
)

func asResponse(mad []byte) []byte {
	reply := append([]byte(nil), mad...)
	if len(reply) > 3 {
		reply[3] = madtransactor.MethodGetResp
	}
	return reply
}

func setStatus(mad []byte, status uint16) {
	if len(mad) >= 6 {
		binary.BigEndian.PutUint16(mad[4:6], status)
	}
}
