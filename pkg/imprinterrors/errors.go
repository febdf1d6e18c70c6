// Package imprinterrors defines the small set of sentinel error kinds shared
// across the dedupe and restore orchestrators, so that callers can classify
// a failure (skip-and-continue vs. abort-and-unwind vs. fatal) without
// depending on the originating package's concrete error types.
package imprinterrors

import "errors"

// IndexConflict indicates a transactional conflict against the state index.
// No code in this module returns it: bbolt serializes writers, so an Update
// never fails with a conflict, and no caller retries on it.
var IndexConflict = errors.New("state index transaction conflict")

// HashMismatch indicates that paranoid verification found the vaulted (or
// restored) content didn't match its expected digest. Per-file abort with
// full unwind of any staged rename; no vault entry is committed.
var HashMismatch = errors.New("content does not match expected digest")

// Corruption indicates that a vault file is present but its content
// disagrees with its stored digest outside of the ingest path (i.e. it was
// previously verified and has since diverged). Fatal to the current
// operation; the vault entry is quarantined, not silently deleted.
var Corruption = errors.New("vault entry content diverges from its digest")

// Cancelled indicates cooperative cancellation was observed at a stage
// boundary or before an I/O call.
var Cancelled = errors.New("operation cancelled")
