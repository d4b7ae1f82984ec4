package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds the fields that identify one exchange with the simulator.
type LogContext struct {
	TraceID   string // OpenTelemetry trace ID
	SessionID string // process-local session correlation id
	ClientID  uint32 // simulator assigned client id
	Device    string // device name
	Port      uint8  // end port number
	TID       uint32 // MAD transaction id
	StartTime time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a session.
func NewLogContext(sessionID string, clientID uint32) *LogContext {
	return &LogContext{
		SessionID: sessionID,
		ClientID:  clientID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithPort returns a copy scoped to a device port.
func (lc *LogContext) WithPort(device string, port uint8) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Device = device
		clone.Port = port
	}
	return clone
}

// WithTID returns a copy carrying a transaction id.
func (lc *LogContext) WithTID(tid uint32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TID = tid
	}
	return clone
}

// WithTrace returns a copy with the trace id set.
func (lc *LogContext) WithTrace(traceID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
