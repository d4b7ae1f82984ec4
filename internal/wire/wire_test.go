package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	simerrors "github.com/marmos91/ibsim/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allOpcodes = []Opcode{
	OpError, OpConnect, OpDisconnect, OpGetPort, OpGetVendor, OpGetGID,
	OpGetGUID, OpGetNodeInfo, OpGetPortInfo, OpSetIsSM, OpGetPKeys,
}

func TestControl_RoundTripAllOpcodes(t *testing.T) {
	payloads := [][]byte{
		nil,
		{0x01},
		bytes.Repeat([]byte{0xab}, 40),
		bytes.Repeat([]byte{0x5a}, ControlDataSize),
	}

	for _, op := range allOpcodes {
		for _, payload := range payloads {
			buf := EncodeControl(Magic, 42, op, payload)
			require.Len(t, buf, ControlSize)

			c, err := DecodeControl(buf)
			require.NoError(t, err)
			assert.Equal(t, Magic, c.Magic)
			assert.Equal(t, uint32(42), c.ClientID)
			assert.Equal(t, op, c.Opcode)
			assert.Equal(t, uint32(len(payload)), c.Length)
			assert.Equal(t, len(payload), len(c.Payload()))
			if len(payload) > 0 {
				assert.Equal(t, payload, c.Payload())
			}
		}
	}
}

func TestControl_HostByteOrder(t *testing.T) {
	buf := EncodeControl(Magic, 7, OpGetNodeInfo, nil)
	assert.Equal(t, Magic, binary.NativeEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint32(7), binary.NativeEndian.Uint32(buf[4:8]))
	assert.Equal(t, uint32(OpGetNodeInfo), binary.NativeEndian.Uint32(buf[8:12]))
	assert.Equal(t, uint32(0), binary.NativeEndian.Uint32(buf[12:16]))
}

func TestControl_OversizedPayloadTruncated(t *testing.T) {
	payload := bytes.Repeat([]byte{0xff}, ControlDataSize+10)
	buf := EncodeControl(Magic, 1, OpGetPKeys, payload)
	assert.Len(t, buf, ControlSize)

	c, err := DecodeControl(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(ControlDataSize), c.Length)
	assert.Len(t, c.Payload(), ControlDataSize)
}

func TestSetControlLength(t *testing.T) {
	buf := EncodeControl(Magic, 1, OpGetNodeInfo, bytes.Repeat([]byte{0xaa}, 40))
	SetControlLength(buf, 0)

	c, err := DecodeControl(buf)
	require.NoError(t, err)
	assert.Zero(t, c.Length)
	assert.Empty(t, c.Payload())
	assert.Equal(t, byte(0xaa), c.Data[39])
}

func TestControl_ShortBuffer(t *testing.T) {
	_, err := DecodeControl(make([]byte, ControlSize-1))
	require.Error(t, err)
	assert.True(t, simerrors.IsProtocolError(err))
}

func TestOpcode_String(t *testing.T) {
	assert.Equal(t, "GET_NODEINFO", OpGetNodeInfo.String())
	assert.Equal(t, "ERROR", OpError.String())
	assert.Equal(t, "UNKNOWN", Opcode(99).String())
}

func TestClientInfo_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ci   ClientInfo
	}{
		{"plain", ClientInfo{ClientID: 40001, QPN: 0, IsSM: false, NodeID: "sim1"}},
		{"sm", ClientInfo{ClientID: 1, QPN: 1, IsSM: true, NodeID: "S-0002c9000100d050"}},
		{"empty node", ClientInfo{ClientID: 42}},
		{"full node id", ClientInfo{ClientID: 3, NodeID: string(bytes.Repeat([]byte{'n'}, NodeIDSize))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := EncodeClientInfo(tt.ci)
			require.Len(t, buf, ClientInfoSize)

			got, err := DecodeClientInfo(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.ci, got)
		})
	}
}

func TestClientInfo_InsideControlPayload(t *testing.T) {
	info := EncodeClientInfo(ClientInfo{ClientID: 9, NodeID: "sim1"})
	c, err := DecodeControl(EncodeControl(Magic, 9, OpConnect, info))
	require.NoError(t, err)

	got, err := DecodeClientInfo(c.Data[:])
	require.NoError(t, err)
	assert.Equal(t, "sim1", got.NodeID)
	assert.Equal(t, uint32(9), got.ClientID)
}

func TestClientInfo_Short(t *testing.T) {
	_, err := DecodeClientInfo(make([]byte, ClientInfoSize-1))
	assert.True(t, simerrors.IsProtocolError(err))
}

func TestRequest_RoundTrip(t *testing.T) {
	mad := make([]byte, 256)
	for i := range mad {
		mad[i] = byte(i)
	}

	tests := []struct {
		name    string
		req     Request
		payload []byte
	}{
		{"full mad", Request{DLID: 1, SLID: 2, DQP: 0, SQP: 1, Status: 0}, mad},
		{"short", Request{DLID: 0xffff, SLID: 0x1234, DQP: 1, SQP: 1, Status: 7}, mad[:32]},
		{"empty", Request{DLID: 5, SLID: 6, DQP: 0xffffff, SQP: 2}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := EncodeRequest(&tt.req, tt.payload)
			require.Len(t, buf, RequestSize)

			got, err := DecodeRequest(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.req.DLID, got.DLID)
			assert.Equal(t, tt.req.SLID, got.SLID)
			assert.Equal(t, tt.req.DQP, got.DQP)
			assert.Equal(t, tt.req.SQP, got.SQP)
			assert.Equal(t, tt.req.Status, got.Status)
			assert.Equal(t, uint64(len(tt.payload)), got.Length)

			payload, err := got.Payload()
			require.NoError(t, err)
			assert.Equal(t, len(tt.payload), len(payload))
			if len(tt.payload) > 0 {
				assert.Equal(t, tt.payload, payload)
			}
		})
	}
}

func TestRequest_BigEndianLayout(t *testing.T) {
	buf := EncodeRequest(&Request{DLID: 0x0102, SLID: 0x0304, DQP: 0x05060708, SQP: 0x090a0b0c, Status: 0x0d0e0f10}, []byte{0xaa})
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, buf[0:4])
	assert.Equal(t, []byte{0x05, 0x06, 0x07, 0x08}, buf[4:8])
	assert.Equal(t, []byte{0x09, 0x0a, 0x0b, 0x0c}, buf[8:12])
	assert.Equal(t, []byte{0x0d, 0x0e, 0x0f, 0x10}, buf[12:16])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, buf[16:24])
	assert.Equal(t, byte(0xaa), buf[24])
}

func TestRequest_Errors(t *testing.T) {
	_, err := DecodeRequest(make([]byte, RequestSize-1))
	assert.True(t, simerrors.IsProtocolError(err))

	buf := EncodeRequest(&Request{}, nil)
	binary.BigEndian.PutUint64(buf[16:24], RequestDataSize+1)
	r, err := DecodeRequest(buf)
	require.NoError(t, err)
	_, err = r.Payload()
	assert.True(t, simerrors.IsProtocolError(err))
}
