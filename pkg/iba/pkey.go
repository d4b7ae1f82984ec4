package iba

import "encoding/binary"

// DecodePKeyTable decodes a block of big-endian 16-bit partition keys.
// Trailing empty (zero) slots are dropped; interior empty slots keep their
// position so that table indexes stay valid.
func DecodePKeyTable(buf []byte) []uint16 {
	n := len(buf) / 2
	pkeys := make([]uint16, n)
	for i := 0; i < n; i++ {
		pkeys[i] = binary.BigEndian.Uint16(buf[2*i:])
	}
	for len(pkeys) > 0 && pkeys[len(pkeys)-1] == 0 {
		pkeys = pkeys[:len(pkeys)-1]
	}
	return pkeys
}

// EncodePKeyTable encodes partition keys as big-endian 16-bit values.
func EncodePKeyTable(pkeys []uint16) []byte {
	buf := make([]byte, 2*len(pkeys))
	for i, pk := range pkeys {
		binary.BigEndian.PutUint16(buf[2*i:], pk)
	}
	return buf
}
