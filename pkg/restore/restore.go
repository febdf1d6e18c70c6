// Package restore implements the orchestrator that reverses a prior dedupe
// run: every vault-linked path is replaced with an independent physical
// copy of its content, its reference count on the vault entry is
// decremented, and vault entries that reach a zero reference count are
// pruned. Like pkg/dedupe, every mutating step is staged through a
// same-directory rename so a crash at any point leaves either the
// pre-operation or post-operation state.
package restore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/imprintfs/imprint/pkg/digest"
	"github.com/imprintfs/imprint/pkg/filesystem"
	"github.com/imprintfs/imprint/pkg/imprinterrors"
	"github.com/imprintfs/imprint/pkg/logging"
	"github.com/imprintfs/imprint/pkg/must"
	"github.com/imprintfs/imprint/pkg/state"
	"github.com/imprintfs/imprint/pkg/vault"
)

// restoreBakPrefix mirrors pkg/dedupe's staging suffix, reused here for the
// same crash-safety purpose on the restore path.
const restoreBakPrefix = ".imprint.bak."

// copyBufferSize is the read buffer size used when materializing an
// independent copy from the vault, matching the full-hash streaming buffer
// since both walk the entire file once.
const copyBufferSize = 128 * 1024

// Options controls a restore run.
type Options struct {
	// Paranoid re-hashes each freshly materialized copy against its
	// recorded digest before committing, aborting that path on mismatch.
	Paranoid bool
	// DryRun simulates the run: no filesystem mutation and no index commit
	// occurs.
	DryRun bool
	// Workers bounds concurrent per-path restores. Zero selects a small
	// fixed default.
	Workers int
	// Logger receives warnings for individual paths skipped during the run.
	Logger *logging.Logger
}

// SkipReason classifies why a path was left untouched by a restore run.
type SkipReason string

const (
	// SkipIO indicates a generic I/O failure.
	SkipIO SkipReason = "io"
	// SkipHashMismatch indicates that paranoid verification of the
	// materialized copy failed.
	SkipHashMismatch SkipReason = "hash-mismatch"
)

// Skip records a single path that a restore run declined to act on.
type Skip struct {
	Path   string
	Reason SkipReason
	Err    error
}

// Result summarizes the outcome of restoring a single path.
type Result struct {
	Path          string
	Digest        digest.Full
	Restored      bool
	VaultPruned   bool
	RemainingRefs int64
}

// Report summarizes an entire restore run.
type Report struct {
	Results []Result
	Skipped []Skip
	DryRun  bool
}

// Orchestrator applies the restore protocol against a vault and state
// index.
type Orchestrator struct {
	vault   *vault.Vault
	store   *state.Store
	options Options
}

// New creates an Orchestrator.
func New(v *vault.Vault, store *state.Store, options Options) *Orchestrator {
	if options.Workers < 1 {
		options.Workers = 4
	}
	return &Orchestrator{vault: v, store: store, options: options}
}

// RunAll restores every FileRecord currently in state VaultLinked whose path
// falls under root (root may be "" to restore the entire indexed tree).
func (o *Orchestrator) RunAll(ctx context.Context, root string) (*Report, error) {
	var paths []string
	err := o.store.View(func(tx *state.Txn) error {
		return tx.ForEachFile(func(record state.FileRecord) error {
			if record.State != state.VaultLinked {
				return nil
			}
			if root != "" && !withinRoot(root, record.Path) {
				return nil
			}
			paths = append(paths, record.Path)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to enumerate vault-linked records")
	}
	sort.Strings(paths)
	return o.Run(ctx, paths)
}

// Run restores the given paths, each of which must currently have a
// VaultLinked FileRecord.
func (o *Orchestrator) Run(ctx context.Context, paths []string) (*Report, error) {
	report := &Report{DryRun: o.options.DryRun}
	if len(paths) == 0 {
		return report, nil
	}

	if o.options.DryRun {
		for _, p := range paths {
			record, ok, err := o.getRecord(p)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			report.Results = append(report.Results, Result{Path: p, Digest: record.Full, Restored: true})
		}
		return report, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.options.Workers)

	var mu sync.Mutex

	for _, p := range paths {
		p := p
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return imprinterrors.Cancelled
			}

			result, skip, err := o.restoreOne(p)
			if err != nil {
				return err
			}
			mu.Lock()
			if skip != nil {
				report.Skipped = append(report.Skipped, *skip)
			} else {
				report.Results = append(report.Results, *result)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return report, err
	}

	sort.Slice(report.Results, func(i, j int) bool { return report.Results[i].Path < report.Results[j].Path })
	return report, nil
}

// getRecord retrieves the FileRecord for path, if any.
func (o *Orchestrator) getRecord(path string) (state.FileRecord, bool, error) {
	var record state.FileRecord
	var ok bool
	err := o.store.View(func(tx *state.Txn) error {
		var err error
		record, ok, err = tx.GetFile(path)
		return err
	})
	return record, ok, err
}

// restoreOne replaces a single vault-linked path with an independent copy
// of its content and commits the corresponding index updates.
func (o *Orchestrator) restoreOne(path string) (*Result, *Skip, error) {
	record, ok, err := o.getRecord(path)
	if err != nil {
		return nil, nil, err
	}
	if !ok || record.State != state.VaultLinked {
		return nil, &Skip{Path: path, Reason: SkipIO, Err: errors.New("no vault-linked record for path")}, nil
	}
	d := record.Full

	// Never materialize from (or decrement) a quarantined vault entry: its
	// content is known to diverge from the digest, and it must survive for
	// operator attention rather than being restored or pruned.
	var quarantined bool
	if err := o.store.View(func(tx *state.Txn) error {
		vaultRecord, ok, err := tx.GetVault(d)
		quarantined = ok && vaultRecord.Quarantined
		return err
	}); err != nil {
		return nil, nil, err
	}
	if quarantined {
		return nil, nil, errors.Wrapf(imprinterrors.Corruption, "vault entry for %s is quarantined", path)
	}

	bakPath := stagedName(path)
	if err := os.Rename(path, bakPath); err != nil {
		return nil, &Skip{Path: path, Reason: SkipIO, Err: err}, nil
	}

	if err := o.materialize(d, path); err != nil {
		must.Succeed(os.Remove(path), "remove partial restore copy for "+path, o.options.Logger)
		must.Succeed(os.Rename(bakPath, path), "restore staged file "+bakPath+" after failed copy", o.options.Logger)
		return nil, &Skip{Path: path, Reason: SkipIO, Err: err}, nil
	}

	// Reapply the original metadata captured at dedupe time. Records
	// written before capture existed carry no snapshot; for those, fall
	// back to the vault file's current metadata.
	if record.Metadata != nil {
		record.Metadata.Apply(path)
	} else {
		filesystem.CopyMetadata(o.vault.Path(d), path)
	}

	if o.options.Paranoid {
		matches, err := o.verifyCopy(path, d)
		if err != nil {
			must.Succeed(os.Remove(path), "remove unverifiable restore copy for "+path, o.options.Logger)
			must.Succeed(os.Rename(bakPath, path), "restore staged file "+bakPath+" after verification error", o.options.Logger)
			return nil, &Skip{Path: path, Reason: SkipIO, Err: err}, nil
		}
		if !matches {
			must.Succeed(os.Remove(path), "remove mismatched restore copy for "+path, o.options.Logger)
			must.Succeed(os.Rename(bakPath, path), "restore staged file "+bakPath+" after hash mismatch", o.options.Logger)
			return nil, &Skip{Path: path, Reason: SkipHashMismatch}, nil
		}
	}

	must.OSRemove(bakPath, o.options.Logger)

	var remaining int64
	var pruned bool
	commitErr := o.store.Update(func(tx *state.Txn) error {
		if err := tx.DeleteFile(path); err != nil {
			return err
		}
		count, err := tx.DecrementVaultRef(d)
		if err != nil {
			return err
		}
		remaining = count
		return nil
	})
	if commitErr != nil {
		return nil, nil, errors.Wrap(commitErr, "unable to commit restore transaction")
	}

	if remaining == 0 {
		if err := o.vault.Prune(d); err != nil {
			must.Succeed(err, "prune vault entry for "+path, o.options.Logger)
		} else {
			pruned = true
		}
	}

	return &Result{Path: path, Digest: d, Restored: true, VaultPruned: pruned, RemainingRefs: remaining}, nil, nil
}

// materialize writes an independent copy of the vault file for digest d at
// dst, using a plain streamed copy rather than a clone so the result shares
// no extents with the vault file.
func (o *Orchestrator) materialize(d digest.Full, dst string) error {
	source, err := os.Open(o.vault.Path(d))
	if err != nil {
		return errors.Wrap(err, "unable to open vault file")
	}
	defer source.Close()

	destination, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return errors.Wrap(err, "unable to create restore destination")
	}

	if _, err := io.CopyBuffer(destination, source, make([]byte, copyBufferSize)); err != nil {
		destination.Close()
		return errors.Wrap(err, "unable to copy vault content")
	}
	if err := destination.Sync(); err != nil {
		destination.Close()
		return errors.Wrap(err, "unable to sync restored file")
	}
	return destination.Close()
}

// verifyCopy re-hashes the materialized copy at path and reports whether it
// matches d.
func (o *Orchestrator) verifyCopy(path string, d digest.Full) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	actual, err := digest.ComputeFull(file)
	if err != nil {
		return false, err
	}
	return actual == d, nil
}

// stagedName returns a fresh ".imprint.bak.<random>" path in the same
// directory as path.
func stagedName(path string) string {
	return filepath.Join(filepath.Dir(path), filepath.Base(path)+restoreBakPrefix+uuid.NewString())
}

// withinRoot reports whether candidate is root itself or a descendant of
// it.
func withinRoot(root, candidate string) bool {
	if candidate == root {
		return true
	}
	return len(candidate) > len(root) && candidate[:len(root)] == root && candidate[len(root)] == filepath.Separator
}
