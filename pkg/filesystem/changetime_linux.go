package filesystem

import (
	"os"
	"syscall"
	"time"
)

// ChangeTime extracts the inode change time (ctime) underlying info, which
// must have been obtained via Lstat. It returns the zero time if the raw
// filesystem information can't be extracted.
func ChangeTime(info os.FileInfo) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}
	}
	return time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec)
}
