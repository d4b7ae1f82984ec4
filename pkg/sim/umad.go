package sim

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/marmos91/ibsim/internal/logger"
	"github.com/marmos91/ibsim/internal/telemetry"
	"github.com/marmos91/ibsim/internal/wire"
	"github.com/marmos91/ibsim/pkg/bufpool"
	simerrors "github.com/marmos91/ibsim/pkg/errors"
	"github.com/marmos91/ibsim/pkg/madtransactor"
	"github.com/marmos91/ibsim/pkg/metrics"
	"github.com/marmos91/ibsim/pkg/path"
)

var _ madtransactor.Transactor = (*UMAD)(nil)

// UMAD carries MADs for one end port over the session's data socket.
//
// The data socket is shared by every UMAD of the process and replies are
// not demultiplexed, so concurrent Execute calls steal each other's
// replies.
type UMAD struct {
	port *EndPort

	mu    sync.Mutex
	tid   uint32
	trace madtransactor.TraceFunc
}

func newUMAD(e *EndPort) *UMAD {
	var seed [4]byte
	_, _ = rand.Read(seed[:])
	return &UMAD{
		port:  e,
		tid:   binary.BigEndian.Uint32(seed[:]),
		trace: e.dev.session.opts.Trace,
	}
}

// EndPort returns the port the transactor addresses through.
func (u *UMAD) EndPort() *EndPort { return u.port }

// SetTrace installs the hook invoked on unexpected replies. Nil removes it.
func (u *UMAD) SetTrace(f madtransactor.TraceFunc) {
	u.mu.Lock()
	u.trace = f
	u.mu.Unlock()
}

// NewTID returns the next transaction id, wrapping at 2^32.
func (u *UMAD) NewTID() uint32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tid++
	return u.tid
}

// Close releases nothing; the data socket belongs to the session.
func (u *UMAD) Close() error {
	return nil
}

func (u *UMAD) session() *Session {
	return u.port.dev.session
}

func (u *UMAD) metrics() metrics.TransportMetrics {
	return u.session().opts.Metrics
}

// Send frames buf with the addressing of p and writes it to the data
// socket.
func (u *UMAD) Send(buf []byte, p *path.IBPath) error {
	if len(buf) > wire.RequestDataSize {
		return simerrors.NewInvalidArgumentError("send",
			"MAD of %d bytes exceeds %d", len(buf), wire.RequestDataSize)
	}
	req := &wire.Request{
		DLID: p.DLID,
		SLID: p.SLID,
		DQP:  p.DQPN,
		SQP:  p.SQPN,
	}
	return u.session().writeData(wire.EncodeRequest(req, buf))
}

// Receive waits until deadline for one MAD. It returns (nil, nil) when the
// deadline passes first.
func (u *UMAD) Receive(deadline time.Time) (*madtransactor.Reply, error) {
	if time.Until(deadline) <= 0 {
		return nil, nil
	}

	buf := bufpool.Get(2 * wire.RequestSize)
	defer bufpool.Put(buf)
	n, err := u.session().readData(buf, deadline)
	if err != nil || n == 0 {
		return nil, err
	}

	req, err := wire.DecodeRequest(buf[:n])
	if err != nil {
		return nil, err
	}
	payload, err := req.Payload()
	if err != nil {
		return nil, err
	}

	return &madtransactor.Reply{
		Payload: append([]byte(nil), payload...),
		Path: &path.IBPath{
			EndPort: u.port.String(),
			DLID:    req.DLID,
			SLID:    req.SLID,
			DQPN:    req.DQP,
			SQPN:    req.SQP,
		},
		Status: req.Status,
	}, nil
}

// Execute sends buf and waits for the reply carrying the same management
// class, transaction id and attribute. Each attempt waits p.MADTimeout();
// after a silent attempt buf is resent, up to p.RetryCount() times.
// Replies that do not match are passed to the trace hook and do not use up
// an attempt.
//
// Execute returns (nil, nil) when sendOnly is set and when every attempt
// went unanswered.
func (u *UMAD) Execute(ctx context.Context, buf []byte, p *path.IBPath, sendOnly bool) (*madtransactor.Reply, error) {
	want, ok := madtransactor.ReplyMatchKey(buf)
	if !ok && !sendOnly {
		return nil, simerrors.NewInvalidArgumentError("execute",
			"MAD of %d bytes has no header", len(buf))
	}

	ctx, span := telemetry.StartExecuteSpan(ctx, p.DLID, sendOnly, p.RetryCount())
	defer span.End()
	telemetry.SetAttributes(ctx,
		telemetry.MgmtClass(want.MgmtClass),
		telemetry.AttrID(want.AttrID),
		telemetry.TID(uint32(want.TID)))

	lc := logger.FromContext(u.port.logContext(ctx)).WithTID(uint32(want.TID))
	ctx = logger.WithContext(ctx, lc)

	start := time.Now()
	reply, sends, err := u.execute(ctx, buf, p, want, sendOnly)

	outcome := metrics.OutcomeReply
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
		telemetry.RecordError(ctx, err)
	case sendOnly:
		outcome = metrics.OutcomeSendOnly
	case reply == nil:
		outcome = metrics.OutcomeNoReply
	}
	telemetry.SetAttributes(ctx, telemetry.Attempts(sends), telemetry.Replied(reply != nil))
	if m := u.metrics(); m != nil {
		m.ObserveExecute(outcome, sends, time.Since(start))
	}
	if outcome == metrics.OutcomeNoReply {
		logger.DebugCtx(ctx, "MAD unanswered", logger.LID(p.DLID), logger.Attempt(sends), logger.Timeout(p.MADTimeout()))
	}
	return reply, err
}

func (u *UMAD) execute(ctx context.Context, buf []byte, p *path.IBPath, want madtransactor.MatchKey, sendOnly bool) (*madtransactor.Reply, int, error) {
	if err := u.Send(buf, p); err != nil {
		return nil, 0, err
	}
	sends := 1
	if sendOnly {
		return nil, sends, nil
	}

	timeout := p.MADTimeout()
	retries := p.RetryCount()
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, sends, err
		}

		reply, err := u.Receive(deadline)
		if err != nil {
			return nil, sends, err
		}

		if reply == nil {
			if retries == 0 {
				return nil, sends, nil
			}
			retries--
			if err := u.Send(buf, p); err != nil {
				return nil, sends, err
			}
			sends++
			deadline = time.Now().Add(timeout)
			logger.DebugCtx(ctx, "Resending MAD", logger.LID(p.DLID), logger.Attempt(sends))
			continue
		}

		if got, ok := madtransactor.GetMatchKey(reply.Payload); ok && got == want {
			return reply, sends, nil
		}

		if m := u.metrics(); m != nil {
			m.RecordUnexpected()
		}
		u.mu.Lock()
		trace := u.trace
		u.mu.Unlock()
		if trace != nil {
			trace(madtransactor.TraceUnexpected, madtransactor.TraceEvent{Path: p, Request: buf, Reply: reply})
		}
	}
}
