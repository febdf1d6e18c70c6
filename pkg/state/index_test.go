package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/imprintfs/imprint/pkg/digest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal("unable to open state database:", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Error("unable to close state database:", err)
		}
	})
	return store
}

func TestFileRecordRoundTrip(t *testing.T) {
	store := openTestStore(t)

	record := FileRecord{
		Path:    "/tmp/a",
		Size:    1024,
		ModTime: time.Now().Round(0),
		Inode:   InodeID{Device: 1, Inode: 42},
		HasFull: true,
	}
	record.Full[0] = 0xAB

	if err := store.Update(func(tx *Txn) error {
		return tx.PutFile(record)
	}); err != nil {
		t.Fatal("unable to put file record:", err)
	}

	var fetched FileRecord
	var ok bool
	if err := store.View(func(tx *Txn) error {
		var err error
		fetched, ok, err = tx.GetFile("/tmp/a")
		return err
	}); err != nil {
		t.Fatal("unable to get file record:", err)
	}
	if !ok {
		t.Fatal("expected file record to exist")
	}
	if fetched.Size != record.Size || fetched.Full != record.Full {
		t.Error("fetched file record did not match stored record")
	}

	if err := store.Update(func(tx *Txn) error {
		return tx.DeleteFile("/tmp/a")
	}); err != nil {
		t.Fatal("unable to delete file record:", err)
	}

	if err := store.View(func(tx *Txn) error {
		_, ok, err := tx.GetFile("/tmp/a")
		if ok {
			t.Error("expected file record to be gone after delete")
		}
		return err
	}); err != nil {
		t.Fatal("unable to get file record:", err)
	}
}

func TestVaultRefCounting(t *testing.T) {
	store := openTestStore(t)

	var key digest.Full
	key[0] = 0xCD

	if err := store.Update(func(tx *Txn) error {
		count, err := tx.IncrementVaultRef(key, 4096)
		if err != nil {
			return err
		}
		if count != 1 {
			t.Errorf("expected ref count 1, got %d", count)
		}
		count, err = tx.IncrementVaultRef(key, 4096)
		if err != nil {
			return err
		}
		if count != 2 {
			t.Errorf("expected ref count 2, got %d", count)
		}
		return nil
	}); err != nil {
		t.Fatal("unable to increment vault references:", err)
	}

	if err := store.Update(func(tx *Txn) error {
		count, err := tx.DecrementVaultRef(key)
		if err != nil {
			return err
		}
		if count != 1 {
			t.Errorf("expected ref count 1, got %d", count)
		}
		count, err = tx.DecrementVaultRef(key)
		if err != nil {
			return err
		}
		if count != 0 {
			t.Errorf("expected ref count 0, got %d", count)
		}
		return nil
	}); err != nil {
		t.Fatal("unable to decrement vault references:", err)
	}

	if err := store.View(func(tx *Txn) error {
		_, ok, err := tx.GetVault(key)
		if ok {
			t.Error("expected vault record to be removed at zero ref count")
		}
		return err
	}); err != nil {
		t.Fatal("unable to get vault record:", err)
	}

	if err := store.Update(func(tx *Txn) error {
		_, err := tx.DecrementVaultRef(key)
		return err
	}); err == nil {
		t.Error("expected error decrementing a vault entry with no references")
	}
}
