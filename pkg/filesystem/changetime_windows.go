package filesystem

import (
	"os"
	"time"
)

// ChangeTime is a no-op on Windows, which exposes no inode change time
// equivalent through os.FileInfo.
func ChangeTime(info os.FileInfo) time.Time {
	return time.Time{}
}
