// +build !windows

package filesystem

import (
	"os"

	"github.com/pkg/errors"
)

// Hardlink creates dst as a second directory entry referring to the same
// inode as src. It fails with ErrCloneCrossDevice if src and dst reside on
// different devices.
func Hardlink(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		if isCrossDeviceError(err) {
			return ErrCloneCrossDevice
		}
		return errors.Wrap(err, "unable to create hard link")
	}
	return nil
}
