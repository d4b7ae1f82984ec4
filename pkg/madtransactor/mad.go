package madtransactor

import (
	"encoding/binary"

	simerrors "github.com/marmos91/ibsim/pkg/errors"
)

// MADSize is the size of a management datagram.
const MADSize = 256

// HeaderSize is the size of the MAD common header.
const HeaderSize = 24

// Management classes.
const (
	ClassSubnLIDRouted     uint8 = 0x01
	ClassSubnDirectedRoute uint8 = 0x81
	ClassSubnAdm           uint8 = 0x03
	ClassPerfMgmt          uint8 = 0x04
)

// Methods. Responses carry MethodResponse in addition to the method bits.
const (
	MethodGet      uint8 = 0x01
	MethodSet      uint8 = 0x02
	MethodGetResp  uint8 = 0x81
	MethodResponse uint8 = 0x80
)

// Attribute IDs used by the command line tools.
const (
	AttrNodeDescription uint16 = 0x0010
	AttrNodeInfo        uint16 = 0x0011
	AttrPortInfo        uint16 = 0x0015
	AttrPKeyTable       uint16 = 0x0016
)

// SMPDataOffset is where attribute data starts in a LID routed SMP.
const SMPDataOffset = 64

// SMPDataSize is the attribute data size of an SMP.
const SMPDataSize = 64

// Header is the MAD common header (IBA 13.4.2).
//
// Wire format (big-endian):
//
//	[0] BaseVersion [1] MgmtClass [2] ClassVersion [3] R:1 Method:7
//	[4:6] Status [6:8] ClassSpecific [8:16] TID
//	[16:18] AttrID [18:20] reserved [20:24] AttrModifier
type Header struct {
	BaseVersion   uint8
	MgmtClass     uint8
	ClassVersion  uint8
	Method        uint8
	Status        uint16
	ClassSpecific uint16
	TID           uint64
	AttrID        uint16
	AttrModifier  uint32
}

// IsResponse reports whether the response bit is set.
func (h *Header) IsResponse() bool {
	return h.Method&MethodResponse != 0
}

// DecodeHeader decodes the common header at the start of buf.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, simerrors.NewProtocolError("decode MAD header",
			"short MAD: %d bytes, want at least %d", len(buf), HeaderSize)
	}

	be := binary.BigEndian
	return &Header{
		BaseVersion:   buf[0],
		MgmtClass:     buf[1],
		ClassVersion:  buf[2],
		Method:        buf[3],
		Status:        be.Uint16(buf[4:6]),
		ClassSpecific: be.Uint16(buf[6:8]),
		TID:           be.Uint64(buf[8:16]),
		AttrID:        be.Uint16(buf[16:18]),
		AttrModifier:  be.Uint32(buf[20:24]),
	}, nil
}

// EncodeInto writes the header into the first HeaderSize bytes of buf.
func (h *Header) EncodeInto(buf []byte) {
	be := binary.BigEndian
	buf[0] = h.BaseVersion
	buf[1] = h.MgmtClass
	buf[2] = h.ClassVersion
	buf[3] = h.Method
	be.PutUint16(buf[4:6], h.Status)
	be.PutUint16(buf[6:8], h.ClassSpecific)
	be.PutUint64(buf[8:16], h.TID)
	be.PutUint16(buf[16:18], h.AttrID)
	be.PutUint16(buf[18:20], 0)
	be.PutUint32(buf[20:24], h.AttrModifier)
}

// NewGetRequest builds a full-size Get MAD for the given class and
// attribute. The low 32 bits of the TID carry tid.
func NewGetRequest(class uint8, attrID uint16, attrMod uint32, tid uint32) []byte {
	classVersion := uint8(1)
	if class == ClassSubnAdm {
		classVersion = 2
	}

	buf := make([]byte, MADSize)
	h := Header{
		BaseVersion:  1,
		MgmtClass:    class,
		ClassVersion: classVersion,
		Method:       MethodGet,
		TID:          uint64(tid),
		AttrID:       attrID,
		AttrModifier: attrMod,
	}
	h.EncodeInto(buf)
	return buf
}

// SMPData returns the attribute data of a LID routed SMP.
func SMPData(buf []byte) ([]byte, error) {
	if len(buf) < SMPDataOffset+SMPDataSize {
		return nil, simerrors.NewProtocolError("decode SMP",
			"short SMP: %d bytes, want %d", len(buf), SMPDataOffset+SMPDataSize)
	}
	return buf[SMPDataOffset : SMPDataOffset+SMPDataSize], nil
}
