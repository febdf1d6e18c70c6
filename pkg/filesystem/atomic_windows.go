package filesystem

import (
	"os"
	"syscall"
)

// IsCrossDeviceLinkError reports whether linkErr (as returned by os.Rename
// or os.Link) is due to the source and destination residing on different
// volumes.
func IsCrossDeviceLinkError(linkErr *os.LinkError) bool {
	return linkErr.Err == syscall.Errno(0x11)
}
