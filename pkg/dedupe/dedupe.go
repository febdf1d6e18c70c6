// Package dedupe implements the orchestrator that applies the vault+link
// protocol to each equivalence class produced by pkg/group: selecting a
// master, ingesting it into the vault if its digest isn't already present,
// and linking every other occurrence back to the vaulted copy. Every
// mutating step is staged through a same-directory rename so that a crash
// at any point leaves either the pre-operation or post-operation state, per
// the orchestrator's safety invariants.
package dedupe

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/imprintfs/imprint/pkg/digest"
	"github.com/imprintfs/imprint/pkg/filesystem"
	"github.com/imprintfs/imprint/pkg/group"
	"github.com/imprintfs/imprint/pkg/imprinterrors"
	"github.com/imprintfs/imprint/pkg/logging"
	"github.com/imprintfs/imprint/pkg/must"
	"github.com/imprintfs/imprint/pkg/state"
	"github.com/imprintfs/imprint/pkg/vault"
)

// bakSuffixPrefix is the directory-entry suffix prefix used to stage a path
// aside before attempting to replace it with a vault link, exactly as named
// in the protocol this orchestrator implements.
const bakSuffixPrefix = ".imprint.bak."

// Options controls a dedupe run.
type Options struct {
	// Paranoid re-verifies vaulted content against its expected digest
	// immediately after ingest, aborting and unwinding on mismatch.
	Paranoid bool
	// DryRun simulates the run: no filesystem mutation and no index commit
	// occurs; the returned Report (with DryRun set) describes what would
	// happen instead.
	DryRun bool
	// LinkPolicy controls which link strategies link_back may use.
	LinkPolicy vault.LinkPolicy
	// Workers bounds concurrent per-path link operations within a single
	// equivalence class. Zero selects a small fixed default.
	Workers int
	// Logger receives warnings for individual files skipped during the run.
	Logger *logging.Logger
}

// SkipReason classifies why a path was left untouched by a dedupe run.
type SkipReason string

const (
	// SkipUnsupported indicates that no permitted link strategy is
	// available on this filesystem.
	SkipUnsupported SkipReason = "unsupported"
	// SkipCrossDevice indicates that the path resides on a different
	// device than the vault.
	SkipCrossDevice SkipReason = "cross-device"
	// SkipIO indicates a generic I/O failure.
	SkipIO SkipReason = "io"
	// SkipStale indicates that the path's size changed between grouping
	// and linking, so it was left untouched rather than relinked against
	// possibly-outdated content.
	SkipStale SkipReason = "stale"
	// SkipAlreadyLinked indicates that the path was already linked to this
	// exact digest by a previous run (idempotence).
	SkipAlreadyLinked SkipReason = "already-linked"
)

// Skip records a single path that a dedupe run declined to act on.
type Skip struct {
	Path   string
	Reason SkipReason
	Err    error
}

// ClassResult summarizes the outcome of processing one equivalence class.
type ClassResult struct {
	Digest    digest.Full
	Size      int64
	Master    string
	Ingested  bool
	Linked    []string
	Skipped   []Skip
	Reclaimed int64
}

// Report summarizes an entire dedupe run.
type Report struct {
	Classes        []ClassResult
	ReclaimedBytes int64
	DryRun         bool
}

// Orchestrator applies the dedupe protocol against a vault and state index.
type Orchestrator struct {
	vault   *vault.Vault
	store   *state.Store
	options Options
	// vaultDevice is the device holding the vault root, when known.
	// Candidates on a different device are skipped up front, since clone
	// and hard link both require the devices to match and a cheap
	// comparison beats staging a rename that can only fail.
	vaultDevice      uint64
	vaultDeviceKnown bool
}

// New creates an Orchestrator.
func New(v *vault.Vault, store *state.Store, options Options) *Orchestrator {
	if options.Workers < 1 {
		options.Workers = 4
	}
	orchestrator := &Orchestrator{vault: v, store: store, options: options}
	if device, err := filesystem.DeviceID(v.Root()); err == nil && device != 0 {
		orchestrator.vaultDevice = device
		orchestrator.vaultDeviceKnown = true
	}
	return orchestrator
}

// crossesDevice reports whether info (obtained via Lstat on a candidate
// path) indicates a device other than the vault's.
func (o *Orchestrator) crossesDevice(path string, info os.FileInfo) bool {
	if !o.vaultDeviceKnown {
		return false
	}
	device, _, err := filesystem.InodeIdentity(path, info)
	return err == nil && device != 0 && device != o.vaultDevice
}

// Run processes every equivalence class, returning a Report. Classes are
// processed sequentially (vault ingest for one digest never depends on
// another), but the paths within a class are linked concurrently, bounded
// by Options.Workers.
func (o *Orchestrator) Run(ctx context.Context, classes []group.EquivalenceClass) (*Report, error) {
	report := &Report{DryRun: o.options.DryRun}

	for _, class := range classes {
		if err := ctx.Err(); err != nil {
			return report, imprinterrors.Cancelled
		}

		result, err := o.processClass(ctx, class)
		if err != nil {
			return report, err
		}
		report.Classes = append(report.Classes, result)
		report.ReclaimedBytes += result.Reclaimed
	}

	return report, nil
}

// processClass applies the dedupe protocol to a single equivalence class.
func (o *Orchestrator) processClass(ctx context.Context, class group.EquivalenceClass) (ClassResult, error) {
	paths := append([]string(nil), class.Paths...)
	sort.Strings(paths)
	master := paths[0]

	result := ClassResult{Digest: class.Digest, Size: class.Size, Master: master}

	vaultExists, err := o.vaultEntryExists(class.Digest)
	if err != nil {
		return result, err
	}

	remaining := paths[1:]
	if !vaultExists {
		if o.options.DryRun {
			result.Ingested = true
		} else {
			alreadyLinked, err := o.checkAlreadyLinked(master, class.Digest)
			if err != nil {
				return result, err
			}
			if alreadyLinked {
				result.Skipped = append(result.Skipped, Skip{Path: master, Reason: SkipAlreadyLinked})
			} else {
				ingested, ingestSkip, err := o.ingestMaster(master, class.Digest, class.Size)
				if err != nil {
					return result, err
				}
				if ingestSkip != nil {
					result.Skipped = append(result.Skipped, *ingestSkip)
				} else if ingested {
					result.Ingested = true
				}
			}
		}
	} else {
		remaining = paths
	}

	linked, skipped, err := o.linkRemaining(ctx, remaining, class.Digest, class.Size)
	if err != nil {
		return result, err
	}
	result.Linked = append(result.Linked, linked...)
	result.Skipped = append(result.Skipped, skipped...)

	// Every successfully linked path (beyond the one vault copy) frees a
	// full duplicate's worth of space; the ingest itself frees nothing,
	// since the master becomes the vault's single physical copy.
	result.Reclaimed = int64(len(result.Linked)) * class.Size

	return result, nil
}

// vaultEntryExists reports whether a VaultRecord already exists for digest.
func (o *Orchestrator) vaultEntryExists(d digest.Full) (bool, error) {
	var exists bool
	err := o.store.View(func(tx *state.Txn) error {
		_, ok, err := tx.GetVault(d)
		exists = ok
		return err
	})
	return exists, err
}

// checkAlreadyLinked reports whether path is already recorded as
// VaultLinked against digest, implementing idempotence for a path that
// would otherwise be re-ingested or re-linked by this run.
func (o *Orchestrator) checkAlreadyLinked(path string, d digest.Full) (bool, error) {
	var record state.FileRecord
	var ok bool
	err := o.store.View(func(tx *state.Txn) error {
		var err error
		record, ok, err = tx.GetFile(path)
		return err
	})
	if err != nil {
		return false, err
	}
	return ok && record.State == state.VaultLinked && record.Full == d, nil
}

// ingestMaster performs the ingest branch of the dedupe protocol: capture
// metadata, move the master into the vault, verify
// under paranoid mode, clone it back to its own path, and record both the
// new VaultEntry and the master's FileRecord in a single transaction.
func (o *Orchestrator) ingestMaster(master string, d digest.Full, size int64) (ingested bool, skip *Skip, err error) {
	info, statErr := os.Lstat(master)
	if statErr != nil {
		return false, &Skip{Path: master, Reason: SkipIO, Err: statErr}, nil
	}
	if info.Size() != size {
		return false, &Skip{Path: master, Reason: SkipStale}, nil
	}
	if o.crossesDevice(master, info) {
		return false, &Skip{Path: master, Reason: SkipCrossDevice}, nil
	}

	snapshot, err := filesystem.CaptureMetadata(master)
	if err != nil {
		return false, &Skip{Path: master, Reason: SkipIO, Err: err}, nil
	}

	if err := o.vault.Ingest(master, d, size); err != nil {
		if errors.Is(err, vault.ErrAlreadyPresent) {
			// Raced with a concurrent ingest of the same digest; fall back
			// to the ordinary link branch for this path.
			_, linkSkip, linkErr := o.linkOne(master, d)
			if linkErr != nil {
				return false, nil, linkErr
			}
			return false, linkSkip, nil
		}
		return false, &Skip{Path: master, Reason: SkipIO, Err: err}, nil
	}

	if o.options.Paranoid {
		ok, verr := o.vault.Verify(d)
		if verr != nil {
			o.unwindIngest(d, master, snapshot)
			return false, &Skip{Path: master, Reason: SkipIO, Err: verr}, nil
		}
		if !ok {
			o.unwindIngest(d, master, snapshot)
			return false, nil, errors.Wrapf(imprinterrors.HashMismatch, "vaulted content for %s failed paranoid verification", master)
		}
	}

	_, _, linkErr := o.vault.LinkBack(d, master, snapshot, o.options.LinkPolicy)
	if linkErr != nil {
		o.unwindIngest(d, master, snapshot)
		return false, o.classifyLinkError(master, linkErr), nil
	}

	commitErr := o.store.Update(func(tx *state.Txn) error {
		if _, err := tx.IncrementVaultRef(d, size); err != nil {
			return err
		}
		return tx.PutFile(fileRecordFor(master, info, d, size, snapshot))
	})
	if commitErr != nil {
		return false, nil, errors.Wrap(commitErr, "unable to commit ingest transaction")
	}

	return true, nil, nil
}

// unwindIngest reverses a just-completed ingest that failed verification or
// clone-back, restoring master's original content and metadata before any
// index change commits (safety invariant S3).
func (o *Orchestrator) unwindIngest(d digest.Full, master string, snapshot *filesystem.MetadataSnapshot) {
	if err := o.vault.Undo(d, master); err != nil {
		o.options.Logger.Warnf("unable to undo vault ingest for %s: %s", master, err.Error())
		return
	}
	snapshot.Apply(master)
}

// linkRemaining links every path in paths to digest d concurrently,
// bounded by Options.Workers.
func (o *Orchestrator) linkRemaining(ctx context.Context, paths []string, d digest.Full, size int64) ([]string, []Skip, error) {
	if len(paths) == 0 {
		return nil, nil, nil
	}

	if o.options.DryRun {
		var linked []string
		for _, p := range paths {
			alreadyLinked, err := o.checkAlreadyLinked(p, d)
			if err != nil {
				return nil, nil, err
			}
			if !alreadyLinked {
				linked = append(linked, p)
			}
		}
		return linked, nil, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.options.Workers)

	var linked []string
	var skipped []Skip
	var mu sync.Mutex

	for _, p := range paths {
		p := p
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}

			alreadyLinked, err := o.checkAlreadyLinked(p, d)
			if err != nil {
				return err
			}
			if alreadyLinked {
				mu.Lock()
				skipped = append(skipped, Skip{Path: p, Reason: SkipAlreadyLinked})
				mu.Unlock()
				return nil
			}

			wasLinked, linkSkip, err := o.linkOne(p, d)
			if err != nil {
				return err
			}
			mu.Lock()
			if linkSkip != nil {
				skipped = append(skipped, *linkSkip)
			} else if wasLinked {
				linked = append(linked, p)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Strings(linked)
	return linked, skipped, nil
}

// linkOne performs the link branch of the dedupe protocol for a single
// path: stage it aside, attempt link_back, and commit the
// resulting FileRecord/VaultEntry update, or unwind on failure.
func (o *Orchestrator) linkOne(path string, d digest.Full) (bool, *Skip, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, &Skip{Path: path, Reason: SkipIO, Err: err}, nil
	}
	if o.crossesDevice(path, info) {
		return false, &Skip{Path: path, Reason: SkipCrossDevice}, nil
	}

	vaultRecord, ok, err := o.currentVaultRecord(d)
	if err != nil {
		return false, nil, err
	}
	if ok && vaultRecord.Quarantined {
		return false, nil, errors.Wrapf(imprinterrors.Corruption, "vault entry for %s is quarantined", path)
	}
	if ok && info.Size() != vaultRecord.Size {
		return false, &Skip{Path: path, Reason: SkipStale}, nil
	}
	size := info.Size()
	if ok {
		size = vaultRecord.Size
	}

	// Under paranoid mode, re-verify an already-present vault entry before
	// handing out another link to it. A mismatch here means previously
	// verified content has since diverged, so the entry is quarantined
	// rather than deleted and the run is terminated.
	if ok && o.options.Paranoid {
		matches, verr := o.vault.Verify(d)
		if verr != nil {
			return false, &Skip{Path: path, Reason: SkipIO, Err: verr}, nil
		}
		if !matches {
			if qerr := o.store.Update(func(tx *state.Txn) error {
				return tx.QuarantineVault(d)
			}); qerr != nil {
				return false, nil, errors.Wrap(qerr, "unable to quarantine corrupt vault entry")
			}
			return false, nil, errors.Wrapf(imprinterrors.Corruption, "vault content for %s failed verification", path)
		}
	}

	snapshot, err := filesystem.CaptureMetadata(path)
	if err != nil {
		return false, &Skip{Path: path, Reason: SkipIO, Err: err}, nil
	}

	bakPath := stagedName(path)
	if err := os.Rename(path, bakPath); err != nil {
		return false, &Skip{Path: path, Reason: SkipIO, Err: err}, nil
	}

	_, _, linkErr := o.vault.LinkBack(d, path, snapshot, o.options.LinkPolicy)
	if linkErr != nil {
		must.Succeed(os.Rename(bakPath, path), "restore staged file "+bakPath+" after failed link", o.options.Logger)
		return false, o.classifyLinkError(path, linkErr), nil
	}

	must.OSRemove(bakPath, o.options.Logger)

	commitErr := o.store.Update(func(tx *state.Txn) error {
		if _, err := tx.IncrementVaultRef(d, size); err != nil {
			return err
		}
		return tx.PutFile(fileRecordFor(path, info, d, size, snapshot))
	})
	if commitErr != nil {
		return false, nil, errors.Wrap(commitErr, "unable to commit link transaction")
	}

	return true, nil, nil
}

// currentVaultRecord retrieves the VaultRecord for d, if any.
func (o *Orchestrator) currentVaultRecord(d digest.Full) (state.VaultRecord, bool, error) {
	var record state.VaultRecord
	var ok bool
	err := o.store.View(func(tx *state.Txn) error {
		var err error
		record, ok, err = tx.GetVault(d)
		return err
	})
	return record, ok, err
}

// classifyLinkError maps a link_back failure to a Skip with the
// appropriate reason.
func (o *Orchestrator) classifyLinkError(path string, err error) *Skip {
	switch {
	case errors.Is(err, vault.ErrLinkUnsupported):
		return &Skip{Path: path, Reason: SkipUnsupported, Err: err}
	case errors.Is(err, filesystem.ErrCloneCrossDevice):
		return &Skip{Path: path, Reason: SkipCrossDevice, Err: err}
	default:
		return &Skip{Path: path, Reason: SkipIO, Err: err}
	}
}

// stagedName returns a fresh ".imprint.bak.<random>" path in the same
// directory as path, per the staging protocol used throughout this
// orchestrator for crash-safe renames.
func stagedName(path string) string {
	return filepath.Join(filepath.Dir(path), filepath.Base(path)+bakSuffixPrefix+uuid.NewString())
}

// fileRecordFor builds the FileRecord committed for path once it has been
// successfully linked into the vault, carrying the metadata snapshot that
// restore will reapply.
func fileRecordFor(path string, info os.FileInfo, d digest.Full, size int64, snapshot *filesystem.MetadataSnapshot) state.FileRecord {
	device, inode, _ := filesystem.InodeIdentity(path, info)
	return state.FileRecord{
		Path:       path,
		Size:       size,
		ModTime:    info.ModTime(),
		ChangeTime: filesystem.ChangeTime(info),
		Inode:      state.InodeID{Device: device, Inode: inode},
		Full:       d,
		HasFull:    true,
		State:      state.VaultLinked,
		Metadata:   snapshot,
	}
}
