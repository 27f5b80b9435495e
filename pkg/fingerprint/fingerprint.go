// Package fingerprint provides fast structural hashing used by
// core/expr's OptionList (option de-duplication for the accumulator) and by
// the maps package (detecting an unchanged snapshot on reload).
package fingerprint

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// Key64 is a 64-bit fingerprint, cheap to compare and to use as a map key.
type Key64 uint64

// OfString returns a 64-bit fingerprint of s, truncated from a blake3 hash.
// Used by the accumulator to de-duplicate option strings without repeated
// full string comparisons (spec §3 "Options are de-duplicated preserving
// insertion order up to a cap").
func OfString(s string) Key64 {
	sum := blake3.Sum256([]byte(s))
	return Key64(binary.LittleEndian.Uint64(sum[:8]))
}

// OfStrings returns a combined fingerprint of an ordered sequence of
// strings, used by the maps package to detect that a reload read the same
// entries as the current snapshot (so the reload can be skipped as a no-op).
func OfStrings(parts ...string) Key64 {
	h := blake3.New(32, nil)
	for _, p := range parts {
		h.Write([]byte{0}) // separator so ("ab","c") != ("a","bc")
		h.Write([]byte(p))
	}
	sum := h.Sum(nil)
	return Key64(binary.LittleEndian.Uint64(sum[:8]))
}
