// +build !windows

package filesystem

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// DeviceID returns the device on which the file or directory at path
// resides. The dedupe orchestrator compares candidate devices against the
// vault's device up front, since clone and hard link both require the two
// to match and a cheap stat beats staging a rename that can only fail.
func DeviceID(path string) (uint64, error) {
	// Perform a stat on the path.
	info, err := os.Lstat(path)
	if err != nil {
		return 0, errors.Wrap(err, "unable to query filesystem information")
	}

	// Grab the system-specific stat type.
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, errors.New("unable to extract raw filesystem information")
	}

	// Success.
	return uint64(stat.Dev), nil
}
