// Package util contains internal helpers (hashing, stripe mapping, padding).
//
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// HashString hashes s for slot selection. It is not seeded; slot hashes
// only need to be stable within one process.
func HashString(s string) uint64 { return xxhash.Sum64String(s) }

// HashPair hashes a 128-bit value given as two words.
func HashPair(lo, hi uint64) uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], lo)
	binary.LittleEndian.PutUint64(b[8:16], hi)
	return xxhash.Sum64(b[:])
}

// SeededString hashes s with a 64-bit seed.
func SeededString(seed uint64, s string) uint64 {
	d := xxhash.NewWithSeed(seed)
	_, _ = d.WriteString(s)
	return d.Sum64()
}

// SeededUint64 hashes the little-endian bytes of v with a 64-bit seed.
func SeededUint64(seed, v uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	d := xxhash.NewWithSeed(seed)
	_, _ = d.Write(b[:])
	return d.Sum64()
}
