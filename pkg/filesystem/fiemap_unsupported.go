//go:build !linux

package filesystem

import "os"

// HoleMap is a no-op stand-in on platforms without fiemap support; IsHole
// always reports false, so sparse sampling falls back to plain reads.
type HoleMap struct {
	file *os.File
}

// NewHoleMap opens path for later closing; hole queries always report
// false on this platform.
func NewHoleMap(path string) (*HoleMap, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &HoleMap{file: file}, nil
}

// Close closes the underlying file descriptor.
func (h *HoleMap) Close() error {
	return h.file.Close()
}

// IsHole always reports false on this platform.
func (h *HoleMap) IsHole(offset, length int64) (bool, error) {
	return false, nil
}
