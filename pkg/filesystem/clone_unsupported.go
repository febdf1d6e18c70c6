//go:build !linux

package filesystem

// Clone is unavailable on this platform; the reflink/clone FS primitive is
// Linux-specific (FICLONE), so every invocation reports ErrCloneUnsupported
// and callers fall back to hard links where permitted.
func Clone(src, dst string) error {
	return ErrCloneUnsupported
}
