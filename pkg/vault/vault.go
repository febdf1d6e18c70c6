// Package vault implements the content-addressed store that holds exactly
// one physical copy of each unique file content, sharded by digest across a
// two-level directory layout to keep per-directory fanout bounded.
package vault

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/imprintfs/imprint/pkg/digest"
	"github.com/imprintfs/imprint/pkg/filesystem"
	"github.com/imprintfs/imprint/pkg/logging"
	"github.com/imprintfs/imprint/pkg/must"
	"github.com/imprintfs/imprint/pkg/state"
)

// LinkKind describes which link strategy was used to link a path back to a
// vault entry.
type LinkKind uint8

const (
	// Reflinked indicates that the target was created as a copy-on-write
	// clone of the vault file.
	Reflinked LinkKind = iota
	// Hardlinked indicates that the target was created as a hard link to
	// the vault file.
	Hardlinked
)

// LinkPolicy controls which link strategies link_back is permitted to use,
// and in which order.
type LinkPolicy struct {
	// AllowClone permits the copy-on-write clone strategy.
	AllowClone bool
	// AllowUnsafeHardlinks permits falling back to hard links, which share
	// a single inode and so can't preserve independent metadata or support
	// independent truncation/append without affecting every other link.
	AllowUnsafeHardlinks bool
}

// Vault manages the content-addressed store rooted at Root.
type Vault struct {
	// root is the vault's root directory (state/store).
	root string
	// tmp is the staging subdirectory used for in-flight ingest.
	tmp string
	// logger is used for best-effort cleanup reporting.
	logger *logging.Logger
	// digestLocks serializes ingest/prune operations per digest.
	digestLocks *keyLock
	// pathLocks serializes link_back operations per target path.
	pathLocks *keyLock
	// cloneUnsupported is set the first time a clone attempt against this
	// vault's filesystem fails as unsupported, so that later LinkBack calls
	// skip straight to the hard link fallback instead of repeating a clone
	// attempt known to fail.
	cloneUnsupported state.Marker
}

// New creates a Vault rooted at root, creating the root and staging
// directories if necessary.
func New(root string, logger *logging.Logger) (*Vault, error) {
	tmp := filepath.Join(root, filesystem.StoreTemporaryDirectoryName)
	if err := os.MkdirAll(tmp, 0700); err != nil {
		return nil, errors.Wrap(err, "unable to create vault staging directory")
	}
	return &Vault{
		root:        root,
		tmp:         tmp,
		logger:      logger,
		digestLocks: newKeyLock(),
		pathLocks:   newKeyLock(),
	}, nil
}

// Root returns the vault's root directory.
func (v *Vault) Root() string {
	return v.root
}

// hexDigest renders a digest.Full as the 64-character lowercase hex string
// used in paths and index keys.
func hexDigest(d digest.Full) string {
	return hex.EncodeToString(d[:])
}

// Path computes the vault path for digest d: root/<xx>/<yy>/<full-hex>.
func (v *Vault) Path(d digest.Full) string {
	h := hexDigest(d)
	return filepath.Join(v.root, h[0:2], h[2:4], h)
}

// stagingPath computes a fresh staging path for an in-flight ingest.
func (v *Vault) stagingPath() string {
	return filepath.Join(v.tmp, "ingest."+uuid.NewString())
}

// Ingest moves the file at srcPath into the vault under digest d (whose
// content must have size bytes), returning ErrAlreadyPresent if an entry
// already exists for d. On any other failure, no trace of the ingest is
// left: srcPath is untouched and no partial vault file exists.
//
// The caller must record the resulting vault entry in the same state index
// transaction that records the corresponding FileRecord transition, per
// safety invariant S2.
func (v *Vault) Ingest(srcPath string, d digest.Full, size int64) error {
	v.digestLocks.Lock(hexDigest(d))
	defer v.digestLocks.Unlock(hexDigest(d))

	finalPath := v.Path(d)
	if _, err := os.Lstat(finalPath); err == nil {
		return ErrAlreadyPresent
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "unable to probe vault destination")
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0700); err != nil {
		return errors.Wrap(err, "unable to create vault shard directories")
	}

	staging := v.stagingPath()
	copied := false
	if err := os.Rename(srcPath, staging); err != nil {
		if !isCrossDeviceRenameError(err) {
			return errors.Wrap(err, "unable to stage file for ingest")
		}
		// Source and vault differ in device: copy and fsync, and remove the
		// source only once the copy has been renamed into the vault. The
		// original is never unlinked before a byte-identical copy is
		// safely on disk.
		if err := copyFileDurable(srcPath, staging, size); err != nil {
			os.Remove(staging)
			return errors.Wrap(err, "unable to copy file for ingest")
		}
		copied = true
	}

	if err := os.Rename(staging, finalPath); err != nil {
		if copied {
			must.Succeed(os.Remove(staging), "clean up abandoned ingest staging file", v.logger)
		} else {
			must.Succeed(os.Rename(staging, srcPath), "return staged file to its original path", v.logger)
		}
		return errors.Wrap(err, "unable to rename staged file into vault")
	}

	if copied {
		must.Succeed(os.Remove(srcPath), "remove ingest source after durable copy", v.logger)
	}

	if err := os.Chmod(finalPath, 0400); err != nil {
		v.logger.Warnf("unable to mark vault file read-only: %s", err.Error())
	}

	return nil
}

// MetadataSource supplies the original metadata to apply to a path freshly
// linked back into the vault. It is an interface rather than a bare path
// because the dedupe orchestrator applies a MetadataSnapshot captured
// before the original directory entry was consumed by staging (by the time
// link_back runs, the ingest branch's master lives in the vault and the
// link branch's duplicate has been renamed aside), while callers that still
// have a live path to copy from can wrap it directly.
type MetadataSource interface {
	Apply(dst string) *filesystem.MetadataCopyReport
}

// PathMetadataSource is a MetadataSource backed by a path that still exists
// on disk with the metadata to be copied.
type PathMetadataSource string

// Apply implements MetadataSource.Apply.
func (p PathMetadataSource) Apply(dst string) *filesystem.MetadataCopyReport {
	return filesystem.CopyMetadata(string(p), dst)
}

// LinkBack links targetPath to the vault entry for digest d, trying clone
// then hard link in the order permitted by policy. targetPath must not
// exist. When the clone strategy succeeds it also attempts to restore the
// metadata supplied by originalMetadata and returns a non-nil
// *MetadataCopyReport describing any partial failures in that best-effort
// copy. A hard link shares the vault inode's metadata, so that strategy
// applies none and returns a nil report.
func (v *Vault) LinkBack(d digest.Full, targetPath string, originalMetadata MetadataSource, policy LinkPolicy) (LinkKind, *filesystem.MetadataCopyReport, error) {
	v.pathLocks.Lock(targetPath)
	defer v.pathLocks.Unlock(targetPath)

	vaultPath := v.Path(d)

	if policy.AllowClone && !v.cloneUnsupported.Marked() {
		err := filesystem.Clone(vaultPath, targetPath)
		if err == nil {
			report := originalMetadata.Apply(targetPath)
			return Reflinked, report, nil
		}
		if errors.Is(err, filesystem.ErrCloneUnsupported) {
			v.cloneUnsupported.Mark()
		} else if !errors.Is(err, filesystem.ErrCloneCrossDevice) {
			return 0, nil, errors.Wrap(err, "unable to clone vault file")
		}
		// Clone is unsupported here; fall through to the hard link
		// strategy (if permitted) rather than aborting.
	}

	if policy.AllowUnsafeHardlinks {
		if err := filesystem.Hardlink(vaultPath, targetPath); err != nil {
			return 0, nil, errors.Wrap(err, "unable to hard link vault file")
		}
		return Hardlinked, nil, nil
	}

	return 0, nil, ErrLinkUnsupported
}

// Undo reverses a just-completed Ingest for a digest that has not yet been
// recorded in the state index (no FileRecord/VaultEntry committed), moving
// the vault file back out to dst. It exists solely for the dedupe
// orchestrator's ingest-branch unwind path (clone-back failure, or a
// paranoid hash mismatch, immediately after ingest): since no index commit
// has happened yet, the vault file is the only trace of the operation, and
// it must be un-vaulted before the caller can consider the original
// location restored. The caller is responsible for reapplying any captured
// metadata to dst afterward.
func (v *Vault) Undo(d digest.Full, dst string) error {
	v.digestLocks.Lock(hexDigest(d))
	defer v.digestLocks.Unlock(hexDigest(d))

	vaultPath := v.Path(d)
	if err := os.Rename(vaultPath, dst); err == nil {
		return nil
	} else if !isCrossDeviceRenameError(err) {
		return errors.Wrap(err, "unable to move vault file back to original location")
	}

	info, err := os.Stat(vaultPath)
	if err != nil {
		return errors.Wrap(err, "unable to stat vault file for undo")
	}
	if err := copyFileDurable(vaultPath, dst, info.Size()); err != nil {
		return errors.Wrap(err, "unable to copy vault file back to original location")
	}
	must.Succeed(os.Remove(vaultPath), "remove vault file after undo copy", v.logger)
	return nil
}

// Verify re-hashes the vault file for digest d and reports whether it
// matches. A returned error indicates an I/O failure distinct from a
// mismatch; mismatches are reported via the boolean return with a nil
// error.
func (v *Vault) Verify(d digest.Full) (bool, error) {
	file, err := os.Open(v.Path(d))
	if err != nil {
		return false, errors.Wrap(err, "unable to open vault file for verification")
	}
	defer file.Close()

	actual, err := digest.ComputeFull(file)
	if err != nil {
		return false, err
	}
	return actual == d, nil
}

// Prune removes the vault file for digest d. The caller must invoke this
// only after the corresponding VaultRecord has been deleted from the state
// index within the same transaction that decremented its reference count
// to zero (safety invariant I3).
func (v *Vault) Prune(d digest.Full) error {
	v.digestLocks.Lock(hexDigest(d))
	defer v.digestLocks.Unlock(hexDigest(d))

	if err := os.Remove(v.Path(d)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "unable to remove vault file")
	}
	return nil
}

// isCrossDeviceRenameError reports whether err from os.Rename indicates
// that the source and destination reside on different devices.
func isCrossDeviceRenameError(err error) bool {
	linkErr, ok := err.(*os.LinkError)
	return ok && filesystem.IsCrossDeviceLinkError(linkErr)
}

// copyFileDurable copies src to dst and fsyncs dst before returning, used
// for the cross-device ingest fallback where rename isn't available.
func copyFileDurable(src, dst string, expectedSize int64) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	written, err := io.Copy(destination, source)
	if err != nil {
		destination.Close()
		return err
	}
	if written != expectedSize {
		destination.Close()
		return fmt.Errorf("copied %d bytes, expected %d", written, expectedSize)
	}
	if err := destination.Sync(); err != nil {
		destination.Close()
		return err
	}
	return destination.Close()
}
