// +build !windows

package filesystem

import (
	"os"
	"syscall"
)

// isCrossDeviceError checks whether or not an error returned by os.Rename is
// due to an attempted rename across devices.
func isCrossDeviceError(err error) bool {
	if linkErr, ok := err.(*os.LinkError); !ok {
		return false
	} else {
		return linkErr.Err == syscall.EXDEV
	}
}

// IsCrossDeviceLinkError reports whether linkErr (as returned by os.Rename
// or os.Link) is due to the source and destination residing on different
// devices.
func IsCrossDeviceLinkError(linkErr *os.LinkError) bool {
	return linkErr.Err == syscall.EXDEV
}
