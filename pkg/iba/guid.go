package iba

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// GUID is a 64-bit EUI-64 identifier.
type GUID uint64

// Bytes returns the GUID in network order.
func (g GUID) Bytes() [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(g))
	return b
}

// String formats the GUID as four colon separated 16-bit groups.
func (g GUID) String() string {
	return fmt.Sprintf("%04x:%04x:%04x:%04x",
		uint16(g>>48), uint16(g>>32), uint16(g>>16), uint16(g))
}

// ParseGUID parses either the colon form produced by String or a plain hex
// number with an optional 0x prefix.
func ParseGUID(s string) (GUID, error) {
	clean := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	clean = strings.ReplaceAll(clean, ":", "")
	v, err := strconv.ParseUint(clean, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GUID %q: %w", s, err)
	}
	return GUID(v), nil
}

// MarshalText implements encoding.TextMarshaler.
func (g GUID) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("0x%016x", uint64(g))), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *GUID) UnmarshalText(b []byte) error {
	v, err := ParseGUID(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// ParseGIDPrefix parses a subnet prefix written as an IPv6 address, such as
// "fe80::", and returns its upper 64 bits.
func ParseGIDPrefix(s string) (uint64, error) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil || ip.To4() != nil {
		return 0, fmt.Errorf("invalid GID prefix %q", s)
	}
	return binary.BigEndian.Uint64(ip.To16()[0:8]), nil
}

// FormatGIDPrefix renders a subnet prefix in IPv6 notation.
func FormatGIDPrefix(prefix uint64) string {
	return NewGID(prefix, [8]byte{}).String()
}

// GID is a 128-bit global identifier: a 64-bit subnet prefix followed by a
// 64-bit interface identifier.
type GID [16]byte

// NewGID builds a GID from a prefix and an interface identifier.
func NewGID(prefix uint64, guid [8]byte) GID {
	var g GID
	binary.BigEndian.PutUint64(g[0:8], prefix)
	copy(g[8:], guid[:])
	return g
}

// Prefix returns the subnet prefix.
func (g GID) Prefix() uint64 {
	return binary.BigEndian.Uint64(g[0:8])
}

// GUID returns the interface identifier.
func (g GID) GUID() GUID {
	return GUID(binary.BigEndian.Uint64(g[8:16]))
}

// String formats the GID in IPv6 notation.
func (g GID) String() string {
	return net.IP(g[:]).String()
}
