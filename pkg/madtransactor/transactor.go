// Package madtransactor defines the contract every MAD transport implements:
// the send / receive / execute primitives, reply matching and the trace hook
// used to report protocol anomalies.
package madtransactor

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/marmos91/ibsim/internal/logger"
	"github.com/marmos91/ibsim/pkg/path"
)

// Reply is a received MAD together with the path it arrived on.
type Reply struct {
	Payload []byte
	Path    *path.IBPath
	// Status is the transport status word from the envelope. It is not
	// interpreted by the transport.
	Status uint32
}

// Transactor sends MADs and matches their replies.
type Transactor interface {
	// Send transmits buf along p without waiting for anything.
	Send(buf []byte, p *path.IBPath) error

	// Receive waits until deadline for one incoming MAD. It returns
	// (nil, nil) when nothing arrived in time.
	Receive(deadline time.Time) (*Reply, error)

	// Execute sends buf and waits for the matching reply, resending on
	// timeout according to p. It returns (nil, nil) when sendOnly is set or
	// when the retry budget is exhausted without a reply.
	Execute(ctx context.Context, buf []byte, p *path.IBPath, sendOnly bool) (*Reply, error)

	// NewTID allocates the next transaction identifier.
	NewTID() uint32
}

// MatchKey correlates a reply with its request.
type MatchKey struct {
	MgmtClass uint8
	TID       uint64
	AttrID    uint16
	Response  bool
}

// ReplyMatchKey returns the key a reply to request must carry. ok is false
// when request is too short to hold a MAD header.
func ReplyMatchKey(request []byte) (key MatchKey, ok bool) {
	if len(request) < HeaderSize {
		return MatchKey{}, false
	}
	return MatchKey{
		MgmtClass: request[1],
		TID:       binary.BigEndian.Uint64(request[8:16]),
		AttrID:    binary.BigEndian.Uint16(request[16:18]),
		Response:  true,
	}, true
}

// GetMatchKey returns the key carried by a received MAD.
func GetMatchKey(buf []byte) (key MatchKey, ok bool) {
	if len(buf) < HeaderSize {
		return MatchKey{}, false
	}
	return MatchKey{
		MgmtClass: buf[1],
		TID:       binary.BigEndian.Uint64(buf[8:16]),
		AttrID:    binary.BigEndian.Uint16(buf[16:18]),
		Response:  buf[3]&MethodResponse != 0,
	}, true
}

// TraceKind classifies a trace event.
type TraceKind int

const (
	// TraceUnexpected reports a received MAD that did not match the
	// outstanding request.
	TraceUnexpected TraceKind = iota + 1
)

// String returns the name of the trace kind.
func (k TraceKind) String() string {
	switch k {
	case TraceUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// TraceEvent is the context passed to a TraceFunc.
type TraceEvent struct {
	Path    *path.IBPath
	Request []byte
	Reply   *Reply
}

// TraceFunc is invoked on protocol anomalies. It must not call back into
// the transactor that invoked it.
type TraceFunc func(kind TraceKind, ev TraceEvent)

// LogTracer returns a TraceFunc that writes events to the debug log.
func LogTracer() TraceFunc {
	return func(kind TraceKind, ev TraceEvent) {
		args := []any{"kind", kind.String()}
		if ev.Path != nil {
			args = append(args, logger.KeyLID, ev.Path.DLID)
		}
		if ev.Reply != nil {
			if h, err := DecodeHeader(ev.Reply.Payload); err == nil {
				args = append(args, logger.KeyTID, h.TID, "method", h.Method, "attr_id", h.AttrID)
			}
			args = append(args, logger.KeyStatus, ev.Reply.Status)
		}
		logger.Debug("MAD trace", args...)
	}
}
