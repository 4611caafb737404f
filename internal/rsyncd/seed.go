package rsyncd

import (
	"crypto/rand"
	"encoding/binary"
)

// defaultSeed generates a fresh 32-bit checksum seed for one connection.
// It falls back to a fixed value only if the system's random source is
// unavailable, which should never happen in practice.
func defaultSeed() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}
