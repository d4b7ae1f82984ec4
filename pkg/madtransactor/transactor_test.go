package madtransactor

import (
	"testing"

	simerrors "github.com/marmos91/ibsim/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// respond turns a request into the reply a peer would send back.
func respond(req []byte) []byte {
	reply := append([]byte(nil), req...)
	reply[3] = MethodGetResp
	return reply
}

func TestNewGetRequest(t *testing.T) {
	buf := NewGetRequest(ClassSubnLIDRouted, AttrNodeInfo, 0, 0xdeadbeef)
	require.Len(t, buf, MADSize)

	h, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), h.BaseVersion)
	assert.Equal(t, ClassSubnLIDRouted, h.MgmtClass)
	assert.Equal(t, uint8(1), h.ClassVersion)
	assert.Equal(t, MethodGet, h.Method)
	assert.Equal(t, uint64(0xdeadbeef), h.TID)
	assert.Equal(t, AttrNodeInfo, h.AttrID)
	assert.False(t, h.IsResponse())

	sa := NewGetRequest(ClassSubnAdm, AttrPortInfo, 1, 1)
	h, err = DecodeHeader(sa)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), h.ClassVersion)
	assert.Equal(t, uint32(1), h.AttrModifier)
}

func TestHeader_RoundTrip(t *testing.T) {
	h := &Header{
		BaseVersion:   1,
		MgmtClass:     ClassPerfMgmt,
		ClassVersion:  1,
		Method:        MethodGetResp,
		Status:        0x1c,
		ClassSpecific: 0x8001,
		TID:           0x0102030405060708,
		AttrID:        AttrPKeyTable,
		AttrModifier:  0xcafe,
	}
	buf := make([]byte, HeaderSize)
	h.EncodeInto(buf)

	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.True(t, got.IsResponse())
}

func TestDecodeHeader_Short(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	assert.True(t, simerrors.IsProtocolError(err))
}

func TestMatchKeys(t *testing.T) {
	req := NewGetRequest(ClassSubnLIDRouted, AttrNodeInfo, 0, 77)

	want, ok := ReplyMatchKey(req)
	require.True(t, ok)

	got, ok := GetMatchKey(respond(req))
	require.True(t, ok)
	assert.Equal(t, want, got)

	t.Run("request echoed without response bit does not match", func(t *testing.T) {
		echoed, ok := GetMatchKey(req)
		require.True(t, ok)
		assert.NotEqual(t, want, echoed)
	})

	t.Run("different TID does not match", func(t *testing.T) {
		other, ok := GetMatchKey(respond(NewGetRequest(ClassSubnLIDRouted, AttrNodeInfo, 0, 78)))
		require.True(t, ok)
		assert.NotEqual(t, want, other)
	})

	t.Run("short buffers", func(t *testing.T) {
		_, ok := ReplyMatchKey([]byte{1, 2, 3})
		assert.False(t, ok)
		_, ok = GetMatchKey(nil)
		assert.False(t, ok)
	})
}

func TestSMPData(t *testing.T) {
	buf := make([]byte, MADSize)
	buf[SMPDataOffset] = 0x42
	data, err := SMPData(buf)
	require.NoError(t, err)
	assert.Len(t, data, SMPDataSize)
	assert.Equal(t, byte(0x42), data[0])

	_, err = SMPData(buf[:100])
	assert.True(t, simerrors.IsProtocolError(err))
}

func TestTraceKind_String(t *testing.T) {
	assert.Equal(t, "unexpected", TraceUnexpected.String())
	assert.Equal(t, "unknown", TraceKind(0).String())
}

func TestLogTracer_DoesNotPanic(t *testing.T) {
	trace := LogTracer()
	req := NewGetRequest(ClassSubnLIDRouted, AttrNodeInfo, 0, 1)
	trace(TraceUnexpected, TraceEvent{Request: req, Reply: &Reply{Payload: respond(req)}})
	trace(TraceUnexpected, TraceEvent{})
}
