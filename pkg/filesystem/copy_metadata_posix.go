// +build !windows

package filesystem

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// MetadataCopyReport records which categories of metadata failed to copy in
// CopyMetadata. A zero value indicates complete success.
type MetadataCopyReport struct {
	// PermissionsError is set if copying permission bits failed.
	PermissionsError error
	// OwnershipError is set if copying the owning user/group failed.
	// Ownership copying requires privilege and is expected to fail for
	// unprivileged runs against files owned by other users.
	OwnershipError error
	// TimesError is set if copying modification/access times failed.
	TimesError error
	// XattrErrors holds one error per extended attribute that failed to
	// copy, keyed by attribute name.
	XattrErrors map[string]error
}

// Failed reports whether any category recorded a failure.
func (r *MetadataCopyReport) Failed() bool {
	return r.PermissionsError != nil || r.OwnershipError != nil || r.TimesError != nil || len(r.XattrErrors) > 0
}

// CopyMetadata best-effort copies permissions, modification/access times,
// and extended attributes from src to dst. Each category is attempted
// independently; a failure in one does not prevent the others from being
// attempted. It is used after link_back, since clone and hardlink targets
// don't otherwise inherit the original path's captured metadata (a clone
// gets the vault file's metadata; a hardlink shares the vault inode's
// metadata and can't be adjusted independently).
func CopyMetadata(src, dst string) *MetadataCopyReport {
	report := &MetadataCopyReport{XattrErrors: make(map[string]error)}

	info, err := os.Lstat(src)
	if err != nil {
		report.PermissionsError = err
		report.TimesError = err
		return report
	}

	if err := os.Chmod(dst, info.Mode()); err != nil {
		report.PermissionsError = err
	}

	if uid, gid, err := GetOwnership(info); err != nil {
		report.OwnershipError = err
	} else if err := SetOwnership(dst, uid, gid); err != nil {
		report.OwnershipError = err
	}

	modTime := info.ModTime()
	if err := os.Chtimes(dst, modTime, modTime); err != nil {
		report.TimesError = err
	}

	listSize, err := unix.Listxattr(src, nil)
	if err != nil {
		return report
	}
	if listSize > 0 {
		buffer := make([]byte, listSize)
		if n, err := unix.Listxattr(src, buffer); err == nil {
			for _, name := range splitNulTerminated(buffer[:n]) {
				if err := copyXattr(src, dst, name); err != nil {
					report.XattrErrors[name] = err
				}
			}
		}
	}

	return report
}

// MetadataSnapshot holds a point-in-time capture of a file's permissions,
// modification time, and extended attributes, independent of any path still
// existing on disk. It exists for the dedupe orchestrator's ingest branch,
// where the master file's original directory entry is consumed by vault
// ingest before link_back re-creates it, leaving no live path to re-stat.
type MetadataSnapshot struct {
	// Mode is the captured permission bits.
	Mode os.FileMode
	// UID and GID are the captured owning user and group.
	UID, GID int
	// ModTime is the captured modification time.
	ModTime time.Time
	// Xattrs holds the captured extended attribute values, keyed by name.
	Xattrs map[string][]byte
}

// CaptureMetadata snapshots path's permissions, modification time, and
// extended attributes for later application via Apply.
func CaptureMetadata(path string) (*MetadataSnapshot, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}

	snapshot := &MetadataSnapshot{
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
		Xattrs:  make(map[string][]byte),
	}
	if uid, gid, err := GetOwnership(info); err == nil {
		snapshot.UID, snapshot.GID = uid, gid
	} else {
		snapshot.UID, snapshot.GID = -1, -1
	}

	listSize, err := unix.Listxattr(path, nil)
	if err != nil || listSize == 0 {
		return snapshot, nil
	}
	buffer := make([]byte, listSize)
	n, err := unix.Listxattr(path, buffer)
	if err != nil {
		return snapshot, nil
	}
	for _, name := range splitNulTerminated(buffer[:n]) {
		size, err := unix.Getxattr(path, name, nil)
		if err != nil {
			continue
		}
		value := make([]byte, size)
		if size > 0 {
			if _, err := unix.Getxattr(path, name, value); err != nil {
				continue
			}
		}
		snapshot.Xattrs[name] = value
	}

	return snapshot, nil
}

// Apply best-effort applies the captured snapshot to dst, attempting every
// category independently.
func (s *MetadataSnapshot) Apply(dst string) *MetadataCopyReport {
	report := &MetadataCopyReport{XattrErrors: make(map[string]error)}

	if err := os.Chmod(dst, s.Mode); err != nil {
		report.PermissionsError = err
	}
	if s.UID >= 0 {
		if err := SetOwnership(dst, s.UID, s.GID); err != nil {
			report.OwnershipError = err
		}
	}
	if err := os.Chtimes(dst, s.ModTime, s.ModTime); err != nil {
		report.TimesError = err
	}
	for name, value := range s.Xattrs {
		if err := unix.Setxattr(dst, name, value, 0); err != nil {
			report.XattrErrors[name] = err
		}
	}

	return report
}

// copyXattr copies a single extended attribute from src to dst.
func copyXattr(src, dst, name string) error {
	size, err := unix.Getxattr(src, name, nil)
	if err != nil {
		return err
	}
	value := make([]byte, size)
	if size > 0 {
		if _, err := unix.Getxattr(src, name, value); err != nil {
			return err
		}
	}
	return unix.Setxattr(dst, name, value, 0)
}

// splitNulTerminated splits a buffer of NUL-terminated strings as returned
// by listxattr into individual names.
func splitNulTerminated(buffer []byte) []string {
	var names []string
	start := 0
	for i, b := range buffer {
		if b == 0 {
			if i > start {
				names = append(names, string(buffer[start:i]))
			}
			start = i + 1
		}
	}
	return names
}
