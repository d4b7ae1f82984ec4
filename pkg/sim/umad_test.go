package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/ibsim/internal/wire"
	simerrors "github.com/marmos91/ibsim/pkg/errors"
	"github.com/marmos91/ibsim/pkg/madtransactor"
	"github.com/marmos91/ibsim/pkg/metrics"
	"github.com/marmos91/ibsim/pkg/path"
	"github.com/marmos91/ibsim/pkg/simulator"
)

// recordingMetrics captures transport metrics calls.
type recordingMetrics struct {
	mu         sync.Mutex
	controls   []string
	outcomes   []string
	sends      []int
	unexpected int
	hits       int
	misses     int
}

var _ metrics.TransportMetrics = (*recordingMetrics)(nil)

func (m *recordingMetrics) ObserveControl(opcode string, _ time.Duration, _ error) {
	m.mu.Lock()
	m.controls = append(m.controls, opcode)
	m.mu.Unlock()
}

func (m *recordingMetrics) ObserveExecute(outcome string, sends int, _ time.Duration) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.sends = append(m.sends, sends)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordUnexpected() {
	m.mu.Lock()
	m.unexpected++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordPortQuery(hit bool) {
	m.mu.Lock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()
}

func openTestUMAD(t *testing.T, srv *simulator.Server, opts Options) *UMAD {
	t.Helper()
	port, _ := openTestPort(t, srv, opts, 1)
	u := port.UMAD()
	t.Cleanup(func() { _ = u.Close() })
	return u
}

func newRequest(u *UMAD) []byte {
	return madtransactor.NewGetRequest(madtransactor.ClassSubnLIDRouted, madtransactor.AttrNodeInfo, 0, u.NewTID())
}

func testPath(retries int) *path.IBPath {
	return &path.IBPath{DLID: 1, SLID: 7, DQPN: 0, SQPN: 0, Timeout: 100 * time.Millisecond, Retries: retries}
}

func silent() simulator.Responder {
	return simulator.ResponderFunc(func(*wire.Request, []byte) []simulator.Datagram { return nil })
}

func asReply(mad []byte) []byte {
	reply := append([]byte(nil), mad...)
	reply[3] = madtransactor.MethodGetResp
	return reply
}

func TestUMAD_NewTIDWraps(t *testing.T) {
	u := &UMAD{tid: 0xfffffffe}
	assert.Equal(t, uint32(0xffffffff), u.NewTID())
	assert.Equal(t, uint32(0), u.NewTID())
	assert.Equal(t, uint32(1), u.NewTID())
}

func TestUMAD_SendOversized(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode()})
	u := openTestUMAD(t, srv, testOptions(srv))

	err := u.Send(make([]byte, wire.RequestDataSize+1), testPath(0))
	assert.True(t, simerrors.IsInvalidArgumentError(err))

	_, err = u.Execute(context.Background(), make([]byte, wire.RequestDataSize+1), testPath(0), false)
	assert.True(t, simerrors.IsInvalidArgumentError(err))
}

func TestUMAD_ReceivePastDeadline(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode()})
	u := openTestUMAD(t, srv, testOptions(srv))

	reply, err := u.Receive(time.Now().Add(-time.Second))
	assert.NoError(t, err)
	assert.Nil(t, reply)

	reply, err = u.Receive(time.Now().Add(50 * time.Millisecond))
	assert.NoError(t, err)
	assert.Nil(t, reply)
}

func TestUMAD_SendReceive(t *testing.T) {
	srv := startSimulator(t, simulator.Config{
		Node: testNode(),
		Responder: simulator.ResponderFunc(func(_ *wire.Request, mad []byte) []simulator.Datagram {
			return []simulator.Datagram{{Payload: asReply(mad), Status: 7}}
		}),
	})
	u := openTestUMAD(t, srv, testOptions(srv))

	req := newRequest(u)
	p := &path.IBPath{DLID: 1, SLID: 7, DQPN: 0, SQPN: 0}
	require.NoError(t, u.Send(req, p))

	reply, err := u.Receive(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, uint32(7), reply.Status)
	assert.Equal(t, uint16(7), reply.Path.DLID)
	assert.Equal(t, uint16(1), reply.Path.SLID)
	assert.Len(t, reply.Payload, len(req))
	assert.Equal(t, madtransactor.MethodGetResp, reply.Payload[3])
}

func TestUMAD_ExecuteNoReply(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode(), Responder: silent()})
	m := &recordingMetrics{}
	opts := testOptions(srv)
	opts.Metrics = m
	u := openTestUMAD(t, srv, opts)

	start := time.Now()
	reply, err := u.Execute(context.Background(), newRequest(u), testPath(2), false)
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	assert.Eventually(t, func() bool { return srv.Received() == 3 }, time.Second, 10*time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, []string{metrics.OutcomeNoReply}, m.outcomes)
	assert.Equal(t, []int{3}, m.sends)
}

func TestUMAD_ExecuteZeroRetries(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode(), Responder: silent()})
	u := openTestUMAD(t, srv, testOptions(srv))

	reply, err := u.Execute(context.Background(), newRequest(u), testPath(0), false)
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Eventually(t, func() bool { return srv.Received() == 1 }, time.Second, 10*time.Millisecond)
}

func TestUMAD_ExecuteSendOnly(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode()})
	m := &recordingMetrics{}
	opts := testOptions(srv)
	opts.Metrics = m
	u := openTestUMAD(t, srv, opts)

	reply, err := u.Execute(context.Background(), newRequest(u), testPath(3), true)
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Eventually(t, func() bool { return srv.Received() == 1 }, time.Second, 10*time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, []string{metrics.OutcomeSendOnly}, m.outcomes)
}

func TestUMAD_ExecuteRetryThenReply(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode(), DropFirst: 2})
	u := openTestUMAD(t, srv, testOptions(srv))

	reply, err := u.Execute(context.Background(), newRequest(u), testPath(2), false)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, 3, srv.Received())
}

func TestUMAD_ExecuteUnexpectedThenMatch(t *testing.T) {
	srv := startSimulator(t, simulator.Config{
		Node: testNode(),
		Responder: simulator.ResponderFunc(func(_ *wire.Request, mad []byte) []simulator.Datagram {
			stray := asReply(mad)
			binary.BigEndian.PutUint64(stray[8:16], binary.BigEndian.Uint64(mad[8:16])+1)
			return []simulator.Datagram{{Payload: stray}, {Payload: asReply(mad)}}
		}),
	})
	m := &recordingMetrics{}
	opts := testOptions(srv)
	opts.Metrics = m
	u := openTestUMAD(t, srv, opts)

	type call struct {
		kind madtransactor.TraceKind
		ev   madtransactor.TraceEvent
	}
	var calls []call
	u.SetTrace(func(kind madtransactor.TraceKind, ev madtransactor.TraceEvent) {
		calls = append(calls, call{kind, ev})
	})

	req := newRequest(u)
	reply, err := u.Execute(context.Background(), req, testPath(0), false)
	require.NoError(t, err)
	require.NotNil(t, reply)

	want, _ := madtransactor.ReplyMatchKey(req)
	got, _ := madtransactor.GetMatchKey(reply.Payload)
	assert.Equal(t, want, got)

	require.Len(t, calls, 1)
	assert.Equal(t, madtransactor.TraceUnexpected, calls[0].kind)
	assert.Equal(t, req, calls[0].ev.Request)
	require.NotNil(t, calls[0].ev.Reply)
	assert.NotEqual(t, req[8:16], calls[0].ev.Reply.Payload[8:16])

	assert.Equal(t, 1, srv.Received(), "a mismatched reply does not consume a retry")
	m.mu.Lock()
	assert.Equal(t, 1, m.unexpected)
	m.mu.Unlock()
}

func TestUMAD_ExecuteRequestIsNotAReply(t *testing.T) {
	// A datagram echoing the request unchanged lacks the response bit.
	srv := startSimulator(t, simulator.Config{
		Node: testNode(),
		Responder: simulator.ResponderFunc(func(_ *wire.Request, mad []byte) []simulator.Datagram {
			return []simulator.Datagram{{Payload: mad}}
		}),
	})
	u := openTestUMAD(t, srv, testOptions(srv))

	var unexpected int
	u.SetTrace(func(madtransactor.TraceKind, madtransactor.TraceEvent) { unexpected++ })

	reply, err := u.Execute(context.Background(), newRequest(u), testPath(0), false)
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Equal(t, 1, unexpected)
}

func TestUMAD_ExecuteCancelled(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode(), Responder: silent()})
	u := openTestUMAD(t, srv, testOptions(srv))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply, err := u.Execute(ctx, newRequest(u), testPath(3), false)
	assert.Nil(t, reply)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestUMAD_ExecuteAfterDisconnect(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode()})
	u := openTestUMAD(t, srv, testOptions(srv))
	u.EndPort().Device().Session().Disconnect()

	_, err := u.Execute(context.Background(), newRequest(u), testPath(0), false)
	assert.True(t, simerrors.IsClosedError(err))
}
