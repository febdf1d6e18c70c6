// +build !windows

package filesystem

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// InodeIdentity extracts the (device, inode) pair identifying the file
// underlying info, which must have been obtained via Lstat on path.
func InodeIdentity(path string, info os.FileInfo) (uint64, uint64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, errors.New("unable to extract raw filesystem information")
	}
	return uint64(stat.Dev), uint64(stat.Ino), nil
}
