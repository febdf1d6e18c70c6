// Package filesystem provides the capability surface over the host OS that
// deduplication relies on: copy-on-write clones, hard links, fiemap hole
// enumeration, inode identity, metadata capture and transfer, and the
// layout of the imprint state directory. Operations either aren't provided
// by the Go standard library or require a more specialized implementation
// than it offers.
package filesystem
