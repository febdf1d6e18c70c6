// Package state implements the persistent, transactional index binding
// tracked files to vault entries. It is backed by a single bbolt database
// file and exposes begin/get/put/delete/commit semantics through Go
// closures rather than an explicit handle, following bbolt's native
// transaction model.
package state

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/imprintfs/imprint/pkg/digest"
	"github.com/imprintfs/imprint/pkg/filesystem"
)

var (
	// filesBucket stores FileRecord values keyed by absolute path.
	filesBucket = []byte("files")
	// vaultBucket stores VaultRecord values keyed by full digest.
	vaultBucket = []byte("vault")
	// metaBucket stores singleton index metadata (currently unused beyond
	// reserving the bucket for future schema versioning).
	metaBucket = []byte("meta")
)

// InodeID uniquely identifies an inode on a single host, combining the
// containing device with the inode number. It is used to recognize multiple
// directory entries (hard links) that refer to the same file.
type InodeID struct {
	Device uint64
	Inode  uint64
}

// TrackingState describes where a FileRecord's path sits in the dedupe
// lifecycle.
type TrackingState uint8

const (
	// Tracked indicates that the path holds independent file data that has
	// been hashed but not yet linked into the vault.
	Tracked TrackingState = iota
	// VaultLinked indicates that the path has been replaced with a clone or
	// hard link into the vault entry identified by the record's digest.
	VaultLinked
)

// FileRecord is the indexed state for a single tracked path.
type FileRecord struct {
	// Path is the absolute filesystem path this record describes.
	Path string
	// Size is the file size in bytes at last observation.
	Size int64
	// ModTime is the file's modification time at last observation. It is
	// recorded only; stale-file checks compare sizes and do not read it.
	ModTime time.Time
	// ChangeTime is the file's inode change time at last observation.
	ChangeTime time.Time
	// Inode identifies the underlying inode at last observation.
	Inode InodeID
	// Sparse is the sparse sample computed for this file, if any (files
	// below digest.SampleThreshold never get one).
	Sparse digest.Sparse
	// HasSparse indicates whether Sparse is populated.
	HasSparse bool
	// Full is the full content digest for this file, if computed.
	Full digest.Full
	// HasFull indicates whether Full is populated.
	HasFull bool
	// State is the record's position in the dedupe lifecycle.
	State TrackingState
	// Metadata is the path's original metadata (permissions, ownership,
	// timestamps, extended attributes), captured immediately before the
	// path was replaced with a vault link. Restore reapplies it so the
	// materialized copy comes back with the original's metadata rather
	// than the read-only vault file's.
	Metadata *filesystem.MetadataSnapshot
}

// VaultRecord is the indexed state for a single vault entry.
type VaultRecord struct {
	// Digest is the content digest identifying this vault entry.
	Digest digest.Full
	// Size is the size, in bytes, of the vaulted content.
	Size int64
	// RefCount is the number of FileRecords currently linked to this entry.
	RefCount int64
	// StoredAt is the time at which this entry was first ingested.
	StoredAt time.Time
	// Quarantined indicates that the vault file's content was found to
	// diverge from its digest after ingest. Quarantined entries are never
	// linked against or pruned automatically; they require operator
	// attention, since silently deleting them would destroy the only
	// remaining copy of the affected content.
	Quarantined bool
}

// Store wraps a bbolt database holding the imprint state index.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the state database at path and
// ensures its buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "unable to open state database")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{filesBucket, vaultBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "unable to create bucket %q", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Txn is a transaction against the state index. It is valid only for the
// duration of the Update or View callback that provides it.
type Txn struct {
	tx *bbolt.Tx
}

// Update begins a read-write transaction, invokes fn, and commits if fn
// returns nil or aborts (rolling back) if fn returns an error.
func (s *Store) Update(fn func(*Txn) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&Txn{tx: tx})
	})
}

// View begins a read-only transaction and invokes fn.
func (s *Store) View(fn func(*Txn) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(&Txn{tx: tx})
	})
}

func encodeRecord(key string, value interface{}) ([]byte, error) {
	var buffer bytes.Buffer
	if err := gob.NewEncoder(&buffer).Encode(value); err != nil {
		return nil, errors.Wrapf(err, "unable to encode record %q", key)
	}
	return buffer.Bytes(), nil
}

func decodeRecord(key string, data []byte, value interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(value); err != nil {
		return errors.Wrapf(err, "unable to decode record %q", key)
	}
	return nil
}

// GetFile retrieves the FileRecord for path. ok is false if no record
// exists.
func (t *Txn) GetFile(path string) (record FileRecord, ok bool, err error) {
	data := t.tx.Bucket(filesBucket).Get([]byte(path))
	if data == nil {
		return FileRecord{}, false, nil
	}
	if err := decodeRecord(path, data, &record); err != nil {
		return FileRecord{}, false, err
	}
	return record, true, nil
}

// PutFile stores (or replaces) the FileRecord for record.Path.
func (t *Txn) PutFile(record FileRecord) error {
	data, err := encodeRecord(record.Path, record)
	if err != nil {
		return err
	}
	return t.tx.Bucket(filesBucket).Put([]byte(record.Path), data)
}

// DeleteFile removes the FileRecord for path, if any.
func (t *Txn) DeleteFile(path string) error {
	return t.tx.Bucket(filesBucket).Delete([]byte(path))
}

// ForEachFile invokes fn for every indexed FileRecord, in key order. It
// stops and returns the first error encountered, including one returned by
// fn itself.
func (t *Txn) ForEachFile(fn func(FileRecord) error) error {
	return t.tx.Bucket(filesBucket).ForEach(func(key, data []byte) error {
		var record FileRecord
		if err := decodeRecord(string(key), data, &record); err != nil {
			return err
		}
		return fn(record)
	})
}

// vaultKey renders a digest.Full as a bbolt key.
func vaultKey(d digest.Full) []byte {
	return d[:]
}

// GetVault retrieves the VaultRecord for a digest. ok is false if no
// record exists.
func (t *Txn) GetVault(key digest.Full) (record VaultRecord, ok bool, err error) {
	data := t.tx.Bucket(vaultBucket).Get(vaultKey(key))
	if data == nil {
		return VaultRecord{}, false, nil
	}
	if err := decodeRecord("vault", data, &record); err != nil {
		return VaultRecord{}, false, err
	}
	return record, true, nil
}

// PutVault stores (or replaces) the VaultRecord for record.Digest.
func (t *Txn) PutVault(record VaultRecord) error {
	data, err := encodeRecord("vault", record)
	if err != nil {
		return err
	}
	return t.tx.Bucket(vaultBucket).Put(vaultKey(record.Digest), data)
}

// DeleteVault removes the VaultRecord for key, if any.
func (t *Txn) DeleteVault(key digest.Full) error {
	return t.tx.Bucket(vaultBucket).Delete(vaultKey(key))
}

// IncrementVaultRef increments the reference count for key, creating the
// record (with the given size) if it doesn't already exist, and returns the
// resulting count. This is used when a file is linked into the vault, and
// is always called within the same transaction that records the link in
// the corresponding FileRecord, so the two stay consistent even if the
// transaction is aborted.
func (t *Txn) IncrementVaultRef(key digest.Full, size int64) (int64, error) {
	record, ok, err := t.GetVault(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		record = VaultRecord{Digest: key, Size: size, StoredAt: time.Now()}
	}
	record.RefCount++
	if err := t.PutVault(record); err != nil {
		return 0, err
	}
	return record.RefCount, nil
}

// QuarantineVault marks the vault entry for key as quarantined. It is an
// error to quarantine a key with no existing record.
func (t *Txn) QuarantineVault(key digest.Full) error {
	record, ok, err := t.GetVault(key)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("vault entry %x does not exist", key)
	}
	record.Quarantined = true
	return t.PutVault(record)
}

// DecrementVaultRef decrements the reference count for key and returns the
// resulting count. If the count reaches zero, the record is deleted from
// the index, but the caller is responsible for actually pruning the vault
// file itself (see pkg/vault). It is an error to decrement a key with no
// existing record or a zero reference count.
func (t *Txn) DecrementVaultRef(key digest.Full) (int64, error) {
	record, ok, err := t.GetVault(key)
	if err != nil {
		return 0, err
	}
	if !ok || record.RefCount <= 0 {
		return 0, errors.Errorf("vault entry %x has no outstanding references", key)
	}
	record.RefCount--
	if record.RefCount == 0 {
		return 0, t.DeleteVault(key)
	}
	return record.RefCount, t.PutVault(record)
}
