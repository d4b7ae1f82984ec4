// Package bufpool provides reusable receive buffers for UDP datagrams.
//
// Two size classes cover the simulator protocol: Small for control
// envelopes and Datagram for MAD data requests. Larger requests are
// allocated directly and never pooled.
//
//	buf := bufpool.Get(2 * wire.RequestSize)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sync"
)

// Default size classes.
const (
	// DefaultSmallSize holds a control envelope with room to spare
	DefaultSmallSize = 256

	// DefaultDatagramSize holds a data request with room to spare
	DefaultDatagramSize = 1024
)

// Pool is a set of byte slice pools organized by size class.
type Pool struct {
	small        sync.Pool
	datagram     sync.Pool
	smallSize    int
	datagramSize int
}

// Config holds the size classes of a Pool. Zero values take the defaults.
type Config struct {
	SmallSize    int
	DatagramSize int
}

// NewPool creates a pool. cfg may be nil.
func NewPool(cfg *Config) *Pool {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.SmallSize <= 0 {
		c.SmallSize = DefaultSmallSize
	}
	if c.DatagramSize <= 0 {
		c.DatagramSize = DefaultDatagramSize
	}

	p := &Pool{smallSize: c.SmallSize, datagramSize: c.DatagramSize}
	p.small.New = func() any {
		buf := make([]byte, p.smallSize)
		return &buf
	}
	p.datagram.New = func() any {
		buf := make([]byte, p.datagramSize)
		return &buf
	}
	return p
}

// Get returns a slice of length size. Call Put when done with it.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte
	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.datagramSize:
		bufPtr = p.datagram.Get().(*[]byte)
	default:
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// Put returns buf to its pool. Slices not obtained from Get are dropped.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	switch cap(buf) {
	case p.smallSize:
		p.small.Put(&full)
	case p.datagramSize:
		p.datagram.Put(&full)
	}
}

var globalPool = NewPool(nil)

// Get returns a slice of length size from the shared pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns buf to the shared pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}
