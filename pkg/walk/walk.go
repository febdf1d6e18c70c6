// Package walk implements the concrete directory traversal that feeds
// candidates into size-based grouping. It wraps the filesystem package's
// Walk (itself a faster, non-sorting replacement for filepath.Walk) with the
// filtering rules dedup needs: skip the vault root, skip symlinks and
// special files, and honor user-supplied exclude globs.
package walk

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/unicode/norm"

	"github.com/imprintfs/imprint/pkg/filesystem"
	"github.com/imprintfs/imprint/pkg/logging"
	"github.com/imprintfs/imprint/pkg/state"
)

// Candidate describes a regular file discovered by Walk, ready to enter
// size-based grouping.
type Candidate struct {
	// Path is the walk root joined with the file's location beneath it, so
	// it is relative if the root was relative, or absolute otherwise.
	Path string
	// Size is the file's size in bytes at the time it was stat'd.
	Size int64
	// Inode identifies the file's underlying (device, inode) pair, used to
	// detect multiple directory entries referring to the same file.
	Inode state.InodeID
}

// Options controls a Walk invocation.
type Options struct {
	// ExcludeRoot, if non-empty, is a directory (typically the vault store)
	// pruned entirely from traversal.
	ExcludeRoot string
	// ExcludePatterns are doublestar glob patterns matched against each
	// candidate path relative to the walk root; a match excludes the path.
	ExcludePatterns []string
	// Logger receives warnings for paths that can't be stat'd or whose
	// metadata can't be fully interpreted; such paths are skipped rather
	// than aborting the walk.
	Logger *logging.Logger
}

// Walk traverses root in a background goroutine, streaming regular-file
// candidates on the returned channel. The error channel receives at most one
// fatal error (a failure to even read the root) and is closed alongside the
// candidate channel once the walk completes or ctx is cancelled.
func Walk(ctx context.Context, root string, options Options) (<-chan Candidate, <-chan error) {
	candidates := make(chan Candidate, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(candidates)
		defer close(errs)

		excludeRoot := ""
		if options.ExcludeRoot != "" {
			if abs, err := filepath.Abs(options.ExcludeRoot); err == nil {
				excludeRoot = abs
			} else {
				excludeRoot = options.ExcludeRoot
			}
		}

		visitor := func(path string, info os.FileInfo, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			if err != nil {
				if path == root {
					return err
				}
				options.Logger.Warnf("skipping %s: %s", path, err.Error())
				return nil
			}

			if excludeRoot != "" {
				if abs, absErr := filepath.Abs(path); absErr == nil && withinRoot(excludeRoot, abs) {
					if info.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
			}

			if info.IsDir() {
				return nil
			}

			mode := info.Mode()
			if mode&os.ModeSymlink != 0 || mode&os.ModeDevice != 0 || mode&os.ModeSocket != 0 || mode&os.ModeNamedPipe != 0 {
				return nil
			}
			if !mode.IsRegular() {
				return nil
			}

			excluded, matchErr := matchesAny(options.ExcludePatterns, root, path)
			if matchErr != nil {
				options.Logger.Warnf("invalid exclude pattern: %s", matchErr.Error())
			} else if excluded {
				return nil
			}

			device, inode, inodeErr := filesystem.InodeIdentity(path, info)
			if inodeErr != nil {
				options.Logger.Warnf("unable to determine inode identity for %s: %s", path, inodeErr.Error())
			}

			candidate := Candidate{
				Path:  path,
				Size:  info.Size(),
				Inode: state.InodeID{Device: device, Inode: inode},
			}

			select {
			case candidates <- candidate:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if walkErr := filesystem.Walk(root, visitor); walkErr != nil && walkErr != context.Canceled {
			errs <- walkErr
		}
	}()

	return candidates, errs
}

// withinRoot reports whether candidate is root itself or a descendant of it.
func withinRoot(root, candidate string) bool {
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}

// matchesAny reports whether path (relative to root) matches any of
// patterns. Both sides are normalized to NFC before matching, since
// decomposing filesystems (HFS+, some SMB mounts) report NFD names that
// would otherwise fail to match a composed user-supplied pattern.
func matchesAny(patterns []string, root, path string) (bool, error) {
	if len(patterns) == 0 {
		return false, nil
	}
	relative, err := filepath.Rel(root, path)
	if err != nil {
		relative = path
	}
	relative = norm.NFC.String(filepath.ToSlash(relative))
	for _, pattern := range patterns {
		matched, err := doublestar.Match(norm.NFC.String(pattern), relative)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
