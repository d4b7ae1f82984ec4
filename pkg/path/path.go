// Package path describes how a MAD is routed: addressing (LIDs, queue
// pairs, partition) and the per-call delivery policy (timeout, retries).
package path

import (
	"fmt"
	"time"
)

const (
	// DefaultTimeout is the per-attempt reply timeout used when a path does
	// not set one.
	DefaultTimeout = 1 * time.Second

	// DefaultRetries is the resend budget paths are usually built with.
	DefaultRetries = 3
)

// IBPath is an addressing and delivery descriptor for one MAD exchange.
// A zero Timeout means DefaultTimeout. Retries is the number of resends
// after the first send; zero disables resends.
type IBPath struct {
	// EndPort names the local port the path originates from ("dev/port").
	EndPort string

	DLID      uint16
	SLID      uint16
	SL        uint8
	DQPN      uint32
	SQPN      uint32
	QKey      uint32
	PKeyIndex int

	// PacketLifeTime is the IBA exponent (4.096us * 2^n) of the subnet timeout.
	PacketLifeTime uint8

	Timeout time.Duration
	Retries int
}

// MADTimeout returns the effective per-attempt timeout.
func (p *IBPath) MADTimeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

// RetryCount returns the effective retry budget.
func (p *IBPath) RetryCount() int {
	if p.Retries < 0 {
		return 0
	}
	return p.Retries
}

// Clone returns a copy of the path that can be modified independently.
func (p *IBPath) Clone() *IBPath {
	c := *p
	return &c
}

// String renders the path in the usual "Path to LID ..." form.
func (p *IBPath) String() string {
	return fmt.Sprintf("Path to LID %d (SLID=%d SL=%d DQPN=%d SQPN=%d PKeyIdx=%d)",
		p.DLID, p.SLID, p.SL, p.DQPN, p.SQPN, p.PKeyIndex)
}

// PacketLifeTimeDuration converts an IBA timeout exponent into a duration.
func PacketLifeTimeDuration(exp uint8) time.Duration {
	if exp > 31 {
		exp = 31
	}
	return time.Duration(4096<<exp) * time.Nanosecond
}
