package digest

import (
	"io"

	"github.com/pkg/errors"
)

const (
	// sampleRegionSize is the length, in bytes, of each of the three regions
	// making up a sparse sample.
	sampleRegionSize = 4096

	// SampleThreshold is the minimum file size at which the three sample
	// regions are guaranteed not to overlap. Files smaller than this bypass
	// the sparse stage entirely and go straight to full hashing.
	SampleThreshold = 3 * sampleRegionSize
)

// HoleChecker reports whether a byte range of a file lies entirely within an
// unmapped hole, as determined by fiemap extent enumeration. Implementations
// that can't determine hole status (unsupported platforms, non-sparse
// filesystems) should always report false, falling back to plain reads.
type HoleChecker interface {
	// IsHole reports whether the range [offset, offset+length) is
	// completely unmapped.
	IsHole(offset, length int64) (bool, error)
}

// noHoles is a HoleChecker that never reports holes, used when fiemap
// information is unavailable.
type noHoles struct{}

func (noHoles) IsHole(int64, int64) (bool, error) { return false, nil }

// NoHoles is a HoleChecker suitable for platforms or filesystems that don't
// support hole detection; all regions are read directly.
var NoHoles HoleChecker = noHoles{}

// sampleOffsets computes the head, mid, and tail region offsets for a file
// of the given size.
func sampleOffsets(size int64) (head, mid, tail int64) {
	head = 0
	mid = size/2 - sampleRegionSize/2
	if mid < 0 {
		mid = 0
	}
	tail = size - sampleRegionSize
	if tail < 0 {
		tail = 0
	}
	return
}

// readRegion reads length bytes at offset from r. If holes reports the whole
// region as a hole, zero bytes are returned without issuing a read;
// otherwise the whole region is read, including any holes inside it (which
// read back as zero bytes).
func readRegion(r io.ReaderAt, offset, length int64, holes HoleChecker) ([]byte, error) {
	result := make([]byte, length)

	isHole, err := holes.IsHole(offset, length)
	if err != nil {
		return nil, errors.Wrap(err, "unable to query hole status")
	}
	if isHole {
		return result, nil
	}

	n, err := r.ReadAt(result, offset)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "unable to read sample region")
	}
	// A short read past the end of the file (region extends beyond size due
	// to concurrent truncation) leaves the remainder zeroed, which is
	// acceptable: the sparse sample is a filter, not a proof.
	_ = n
	return result, nil
}

// ComputeSparse computes the sparse sample for a file of the given size. It
// returns ok == false if size is below SampleThreshold, in which case the
// sparse stage should be skipped and the candidate passed straight to full
// hashing.
func ComputeSparse(r io.ReaderAt, size int64, holes HoleChecker) (sample Sparse, ok bool, err error) {
	if size < SampleThreshold {
		return Sparse{}, false, nil
	}
	if holes == nil {
		holes = NoHoles
	}

	head, mid, tail := sampleOffsets(size)

	headBytes, err := readRegion(r, head, sampleRegionSize, holes)
	if err != nil {
		return Sparse{}, false, err
	}
	midBytes, err := readRegion(r, mid, sampleRegionSize, holes)
	if err != nil {
		return Sparse{}, false, err
	}
	tailBytes, err := readRegion(r, tail, sampleRegionSize, holes)
	if err != nil {
		return Sparse{}, false, err
	}

	hasher := newHasher()
	hasher.Write(headBytes)
	hasher.Write(midBytes)
	hasher.Write(tailBytes)

	var result Sparse
	copy(result[:], hasher.Sum(nil))
	return result, true, nil
}
