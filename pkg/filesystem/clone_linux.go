package filesystem

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/pkg/errors"
)

// Clone creates dst as a copy-on-write clone of src sharing underlying
// extents, using the FICLONE ioctl (supported on Btrfs, XFS, and other
// reflink-capable filesystems). It fails with ErrCloneUnsupported if the
// filesystem lacks the primitive and with ErrCloneCrossDevice if src and dst
// reside on different devices. On failure, dst is left absent: it is opened
// O_EXCL and removed if the clone ioctl doesn't succeed.
func Clone(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "unable to open clone source")
	}
	defer source.Close()

	destination, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return errors.Wrap(err, "unable to create clone destination")
	}
	defer destination.Close()

	if err := unix.IoctlFileClone(int(destination.Fd()), int(source.Fd())); err != nil {
		os.Remove(dst)
		if err == unix.EOPNOTSUPP || err == unix.ENOTTY || err == unix.EXDEV {
			if err == unix.EXDEV {
				return ErrCloneCrossDevice
			}
			return ErrCloneUnsupported
		}
		return errors.Wrap(err, "clone ioctl failed")
	}

	return nil
}
