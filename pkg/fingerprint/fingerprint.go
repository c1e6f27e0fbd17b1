// Package fingerprint derives a stable digest from the parts that identify a request.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Generator computes a deterministic digest for an ordered list of parts.
// Implementations must be pure: identical inputs always yield identical output.
type Generator interface {
	Generate(parts ...string) string
}

// Blake2b hashes parts with BLAKE2b-256. Each part is length-prefixed so
// that ("ab", "c") and ("a", "bc") produce different digests.
type Blake2b struct{}

// New returns the default fingerprint generator.
func New() Blake2b {
	return Blake2b{}
}

func (Blake2b) Generate(parts ...string) string {
	// New256 only fails for keys longer than 64 bytes.
	h, _ := blake2b.New256(nil)

	var size [binary.MaxVarintLen64]byte
	for _, p := range parts {
		n := binary.PutUvarint(size[:], uint64(len(p)))
		h.Write(size[:n])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(parts ...string) string

func (f GeneratorFunc) Generate(parts ...string) string {
	return f(parts...)
}
