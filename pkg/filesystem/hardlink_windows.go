package filesystem

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// Hardlink creates dst as a second directory entry referring to the same
// inode as src. It fails with ErrCloneCrossDevice if src and dst reside on
// different volumes.
func Hardlink(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		if linkErr, ok := err.(*os.LinkError); ok && linkErr.Err == syscall.Errno(0x11) {
			return ErrCloneCrossDevice
		}
		return errors.Wrap(err, "unable to create hard link")
	}
	return nil
}
