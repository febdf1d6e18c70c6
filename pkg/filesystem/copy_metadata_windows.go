package filesystem

import (
	"os"
	"time"
)

// MetadataCopyReport records which categories of metadata failed to copy in
// CopyMetadata. A zero value indicates complete success.
type MetadataCopyReport struct {
	// PermissionsError is set if copying permission bits failed.
	PermissionsError error
	// OwnershipError is never set on Windows, which exposes no POSIX
	// ownership to copy here.
	OwnershipError error
	// TimesError is set if copying modification/access times failed.
	TimesError error
	// XattrErrors holds one error per extended attribute that failed to
	// copy, keyed by attribute name. Always empty on Windows, which has no
	// POSIX xattr equivalent exposed here.
	XattrErrors map[string]error
}

// Failed reports whether any category recorded a failure.
func (r *MetadataCopyReport) Failed() bool {
	return r.PermissionsError != nil || r.TimesError != nil || len(r.XattrErrors) > 0
}

// CopyMetadata best-effort copies permissions and modification/access times
// from src to dst.
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

	modTime := info.ModTime()
	if err := os.Chtimes(dst, modTime, modTime); err != nil {
		report.TimesError = err
	}

	return report
}

// MetadataSnapshot holds a point-in-time capture of a file's permissions
// and modification time, independent of any path still existing on disk.
// It exists for the dedupe orchestrator's ingest branch, where the master
// file's original directory entry is consumed by vault ingest before
// link_back re-creates it, leaving no live path to re-stat.
type MetadataSnapshot struct {
	// Mode is the captured permission bits.
	Mode os.FileMode
	// ModTime is the captured modification time.
	ModTime time.Time
	// Xattrs is always empty on Windows; present for API symmetry with the
	// POSIX build.
	Xattrs map[string][]byte
}

// CaptureMetadata snapshots path's permissions and modification time for
// later application via Apply.
func CaptureMetadata(path string) (*MetadataSnapshot, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	return &MetadataSnapshot{Mode: info.Mode(), ModTime: info.ModTime()}, nil
}

// Apply best-effort applies the captured snapshot to dst.
func (s *MetadataSnapshot) Apply(dst string) *MetadataCopyReport {
	report := &MetadataCopyReport{XattrErrors: make(map[string]error)}

	if err := os.Chmod(dst, s.Mode); err != nil {
		report.PermissionsError = err
	}
	if err := os.Chtimes(dst, s.ModTime, s.ModTime); err != nil {
		report.TimesError = err
	}

	return report
}
