package logger

import (
	"fmt"
	"log/slog"
	"time"
)

// Standard field keys. Use these consistently so logs can be aggregated and
// queried across the session, cache and transactor layers.
const (
	KeyTraceID    = "trace_id"
	KeySessionID  = "session_id"
	KeyClientID   = "client_id"
	KeyServer     = "server"
	KeyNodeID     = "node_id"
	KeyOpcode     = "opcode"
	KeyDevice     = "device"
	KeyPort       = "port"
	KeyNodeGUID   = "node_guid"
	KeyNodeType   = "node_type"
	KeyLID        = "lid"
	KeySLID       = "slid"
	KeyPKey       = "pkey"
	KeyTID        = "tid"
	KeyStatus     = "status"
	KeyAttempt    = "attempt"
	KeyRetries    = "retries"
	KeyTimeout    = "timeout"
	KeyBytes      = "bytes"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// ClientID returns a slog.Attr for the simulator client id
func ClientID(id uint32) slog.Attr {
	return slog.Any(KeyClientID, id)
}

// Opcode returns a slog.Attr for a control opcode name
func Opcode(name string) slog.Attr {
	return slog.String(KeyOpcode, name)
}

// Port returns a slog.Attr for an end port number
func Port(n uint8) slog.Attr {
	return slog.Int(KeyPort, int(n))
}

// LID returns a slog.Attr for a local identifier
func LID(lid uint16) slog.Attr {
	return slog.Int(KeyLID, int(lid))
}

// NodeGUID returns a slog.Attr for a node GUID (formatted as hex)
func NodeGUID(guid uint64) slog.Attr {
	return slog.String(KeyNodeGUID, fmt.Sprintf("0x%016x", guid))
}

// TID returns a slog.Attr for a MAD transaction id
func TID(tid uint32) slog.Attr {
	return slog.String(KeyTID, fmt.Sprintf("0x%08x", tid))
}

// Attempt returns a slog.Attr for the send attempt number (1 = first send)
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Timeout returns a slog.Attr for a per-attempt timeout
func Timeout(d time.Duration) slog.Attr {
	return slog.Duration(KeyTimeout, d)
}

// DurationMs returns a slog.Attr for a duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error; nil errors produce an empty attr
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
