// Package digest implements the tiered content-hashing primitives used to
// narrow candidate files down to true duplicates: a cheap three-region
// sparse sample and a full streamed cryptographic hash, both producing
// 32-byte digests.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"github.com/pkg/errors"
)

// Size is the length, in bytes, of both a Full digest and a Sparse sample.
const Size = sha256.Size

// Full is a 32-byte digest computed over the complete contents of a file.
type Full [Size]byte

// Sparse is a 32-byte digest computed over a deterministic 12 KiB sample of
// a file, used as a cheap inequality witness before committing to a full
// read. Equal samples only forward a candidate to full hashing; unequal
// samples are a definitive exclusion.
type Sparse [Size]byte

// IsZero returns true if the full digest is its zero value.
func (f Full) IsZero() bool {
	return f == Full{}
}

// String renders the digest as 64 lowercase hex characters, matching the
// encoding used for vault paths and index keys.
func (f Full) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero returns true if the sparse sample is its zero value.
func (s Sparse) IsZero() bool {
	return s == Sparse{}
}

// newHasher constructs the hash implementation used for both full and
// sparse digests. The algorithm is fixed at SHA-256 since vault paths and
// index keys assume a 32-byte digest.
func newHasher() hash.Hash {
	return sha256.New()
}

// fullBufferSize is the size of the read buffer used for streamed full
// hashing.
const fullBufferSize = 128 * 1024

// ComputeFull streams the entire contents of r through a SHA-256 hash using
// a fixed 128 KiB buffer and returns the resulting digest.
func ComputeFull(r io.Reader) (Full, error) {
	hasher := newHasher()
	buffer := make([]byte, fullBufferSize)
	if _, err := io.CopyBuffer(hasher, r, buffer); err != nil {
		return Full{}, errors.Wrap(err, "unable to read file contents")
	}
	var result Full
	copy(result[:], hasher.Sum(nil))
	return result, nil
}
