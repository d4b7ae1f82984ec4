package iba

import (
	"encoding/binary"

	simerrors "github.com/marmos91/ibsim/pkg/errors"
)

// PortInfoSize is the wire size of the PortInfo attribute.
const PortInfoSize = 64

// PortInfo holds the PortInfo attribute fields the transport reads
// (IBA 14.2.5.6). Fields not listed here are skipped on decode and written
// as zero on encode.
//
// Wire offsets (big-endian):
//
//	[0:8] MKey [8:16] GIDPrefix [16:18] LID [18:20] MasterSMLID
//	[20:24] CapabilityMask [28] LocalPortNum
//	[29] LinkWidthEnabled [30] LinkWidthSupported [31] LinkWidthActive
//	[32] LinkSpeedSupported:4 PortState:4
//	[33] PortPhysicalState:4 LinkDownDefaultState:4
//	[34] MKeyProtectBits:2 reserved:3 LMC:3
//	[35] LinkSpeedActive:4 LinkSpeedEnabled:4
//	[36] NeighborMTU:4 MasterSMSL:4
//	[51] ClientReregister:1 MulticastPKeyTrapSuppression:2 SubnetTimeout:5
type PortInfo struct {
	MKey                 uint64
	GIDPrefix            uint64
	LID                  uint16
	MasterSMLID          uint16
	CapabilityMask       uint32
	LocalPortNum         uint8
	LinkWidthEnabled     uint8
	LinkWidthSupported   uint8
	LinkWidthActive      uint8
	LinkSpeedSupported   uint8
	PortState            uint8
	PortPhysicalState    uint8
	LinkDownDefaultState uint8
	LMC                  uint8
	LinkSpeedActive      uint8
	LinkSpeedEnabled     uint8
	NeighborMTU          uint8
	MasterSMSL           uint8
	SubnetTimeout        uint8
}

// DecodePortInfo decodes a PortInfo attribute.
func DecodePortInfo(buf []byte) (*PortInfo, error) {
	if len(buf) < PortInfoSize {
		return nil, simerrors.NewProtocolError("decode PortInfo",
			"short PortInfo: %d bytes, want %d", len(buf), PortInfoSize)
	}

	be := binary.BigEndian
	return &PortInfo{
		MKey:                 be.Uint64(buf[0:8]),
		GIDPrefix:            be.Uint64(buf[8:16]),
		LID:                  be.Uint16(buf[16:18]),
		MasterSMLID:          be.Uint16(buf[18:20]),
		CapabilityMask:       be.Uint32(buf[20:24]),
		LocalPortNum:         buf[28],
		LinkWidthEnabled:     buf[29],
		LinkWidthSupported:   buf[30],
		LinkWidthActive:      buf[31],
		LinkSpeedSupported:   buf[32] >> 4,
		PortState:            buf[32] & 0x0f,
		PortPhysicalState:    buf[33] >> 4,
		LinkDownDefaultState: buf[33] & 0x0f,
		LMC:                  buf[34] & 0x07,
		LinkSpeedActive:      buf[35] >> 4,
		LinkSpeedEnabled:     buf[35] & 0x0f,
		NeighborMTU:          buf[36] >> 4,
		MasterSMSL:           buf[36] & 0x0f,
		SubnetTimeout:        buf[51] & 0x1f,
	}, nil
}

// Encode returns the wire form of the attribute.
func (p *PortInfo) Encode() []byte {
	buf := make([]byte, PortInfoSize)
	be := binary.BigEndian
	be.PutUint64(buf[0:8], p.MKey)
	be.PutUint64(buf[8:16], p.GIDPrefix)
	be.PutUint16(buf[16:18], p.LID)
	be.PutUint16(buf[18:20], p.MasterSMLID)
	be.PutUint32(buf[20:24], p.CapabilityMask)
	buf[28] = p.LocalPortNum
	buf[29] = p.LinkWidthEnabled
	buf[30] = p.LinkWidthSupported
	buf[31] = p.LinkWidthActive
	buf[32] = p.LinkSpeedSupported<<4 | p.PortState&0x0f
	buf[33] = p.PortPhysicalState<<4 | p.LinkDownDefaultState&0x0f
	buf[34] = p.LMC & 0x07
	buf[35] = p.LinkSpeedActive<<4 | p.LinkSpeedEnabled&0x0f
	buf[36] = p.NeighborMTU<<4 | p.MasterSMSL&0x0f
	buf[51] = p.SubnetTimeout & 0x1f
	return buf
}
