package restore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/imprintfs/imprint/pkg/digest"
	"github.com/imprintfs/imprint/pkg/filesystem"
	"github.com/imprintfs/imprint/pkg/logging"
	"github.com/imprintfs/imprint/pkg/state"
	"github.com/imprintfs/imprint/pkg/vault"
)

func newTestFixture(t *testing.T) (*vault.Vault, *state.Store) {
	t.Helper()
	v, err := vault.New(t.TempDir(), logging.NewLogger(logging.LevelError, io.Discard))
	if err != nil {
		t.Fatal("unable to create vault:", err)
	}
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal("unable to open state store:", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Error("unable to close state store:", err)
		}
	})
	return v, store
}

// seedLinkedFile ingests content into the vault, registers a single
// reference, and writes a VaultLinked FileRecord at path, reproducing the
// end state a prior dedupe run would have left behind without depending
// on pkg/dedupe.
func seedLinkedFile(t *testing.T, v *vault.Vault, store *state.Store, path string, content []byte) digest.Full {
	t.Helper()

	staging := path + ".staging"
	if err := os.WriteFile(staging, content, 0644); err != nil {
		t.Fatal("unable to write staging file:", err)
	}
	snapshot, err := filesystem.CaptureMetadata(staging)
	if err != nil {
		t.Fatal("unable to capture staging metadata:", err)
	}
	var d digest.Full
	copy(d[:], content)
	for i := len(content); i < len(d); i++ {
		d[i] = byte(i)
	}

	if err := v.Ingest(staging, d, int64(len(content))); err != nil {
		t.Fatal("unable to seed vault entry:", err)
	}

	if _, _, err := v.LinkBack(d, path, vault.PathMetadataSource("/nonexistent"), vault.LinkPolicy{AllowClone: true, AllowUnsafeHardlinks: true}); err != nil {
		t.Fatal("unable to link back seeded file:", err)
	}

	if err := store.Update(func(tx *state.Txn) error {
		if _, err := tx.IncrementVaultRef(d, int64(len(content))); err != nil {
			return err
		}
		return tx.PutFile(state.FileRecord{
			Path:     path,
			Size:     int64(len(content)),
			ModTime:  time.Now(),
			Full:     d,
			HasFull:  true,
			State:    state.VaultLinked,
			Metadata: snapshot,
		})
	}); err != nil {
		t.Fatal("unable to record seeded file state:", err)
	}

	return d
}

func TestRunRestoresIndependentCopy(t *testing.T) {
	v, store := newTestFixture(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "restored")
	content := []byte("restore this content")

	d := seedLinkedFile(t, v, store, path, content)

	orchestrator := New(v, store, Options{})
	report, err := orchestrator.Run(context.Background(), []string{path})
	if err != nil {
		t.Fatal("unable to run restore:", err)
	}
	if len(report.Skipped) != 0 {
		t.Fatalf("expected no skips, got %+v", report.Skipped)
	}
	if len(report.Results) != 1 || !report.Results[0].Restored {
		t.Fatalf("expected one restored result, got %+v", report.Results)
	}
	if !report.Results[0].VaultPruned {
		t.Error("expected sole reference's restore to prune the vault entry")
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal("unable to read restored file:", err)
	}
	if string(got) != string(content) {
		t.Errorf("restored content mismatch: got %q", got)
	}

	if err := store.View(func(tx *state.Txn) error {
		_, ok, err := tx.GetFile(path)
		if ok {
			t.Error("expected FileRecord to be removed after restore")
		}
		return err
	}); err != nil {
		t.Fatal("unable to check file record:", err)
	}
	if _, err := os.Stat(v.Path(d)); !os.IsNotExist(err) {
		t.Error("expected vault file to be pruned after last reference restored")
	}
}

func TestRunKeepsVaultEntryWithRemainingReferences(t *testing.T) {
	v, store := newTestFixture(t)
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a")
	pathB := filepath.Join(dir, "b")
	content := []byte("shared content")

	seedLinkedFile(t, v, store, pathA, content)
	// Manually register a second reference and record, simulating a second
	// path linked to the same vault entry.
	var d digest.Full
	copy(d[:], content)
	for i := len(content); i < len(d); i++ {
		d[i] = byte(i)
	}
	if _, _, err := v.LinkBack(d, pathB, vault.PathMetadataSource("/nonexistent"), vault.LinkPolicy{AllowClone: true, AllowUnsafeHardlinks: true}); err != nil {
		t.Fatal("unable to link second path:", err)
	}
	if err := store.Update(func(tx *state.Txn) error {
		if _, err := tx.IncrementVaultRef(d, int64(len(content))); err != nil {
			return err
		}
		return tx.PutFile(state.FileRecord{Path: pathB, Size: int64(len(content)), Full: d, HasFull: true, State: state.VaultLinked})
	}); err != nil {
		t.Fatal("unable to record second file state:", err)
	}

	orchestrator := New(v, store, Options{})
	report, err := orchestrator.Run(context.Background(), []string{pathA})
	if err != nil {
		t.Fatal("unable to run restore:", err)
	}
	if len(report.Results) != 1 || report.Results[0].VaultPruned {
		t.Fatalf("expected one restored, unpruned result, got %+v", report.Results)
	}
	if _, err := os.Stat(v.Path(d)); err != nil {
		t.Error("expected vault entry to survive while pathB still references it:", err)
	}
}

func TestRunDryRunLeavesFilesystemUntouched(t *testing.T) {
	v, store := newTestFixture(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "untouched")
	content := []byte("dry run content")
	seedLinkedFile(t, v, store, path, content)

	orchestrator := New(v, store, Options{DryRun: true})
	report, err := orchestrator.Run(context.Background(), []string{path})
	if err != nil {
		t.Fatal("unable to run dry-run restore:", err)
	}
	if !report.DryRun || len(report.Results) != 1 {
		t.Fatalf("expected one simulated result, got %+v", report)
	}

	if err := store.View(func(tx *state.Txn) error {
		_, ok, err := tx.GetFile(path)
		if !ok {
			t.Error("expected FileRecord to remain after dry run")
		}
		return err
	}); err != nil {
		t.Fatal("unable to check file record:", err)
	}
	if _, err := os.Lstat(path); err != nil {
		t.Fatal("expected linked path to remain after dry run:", err)
	}
}

func TestRunReappliesOriginalMetadata(t *testing.T) {
	v, store := newTestFixture(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "modes")
	content := []byte("metadata round trip")
	seedLinkedFile(t, v, store, path, content)

	orchestrator := New(v, store, Options{})
	if _, err := orchestrator.Run(context.Background(), []string{path}); err != nil {
		t.Fatal("unable to run restore:", err)
	}

	info, err := os.Lstat(path)
	if err != nil {
		t.Fatal("unable to stat restored file:", err)
	}
	// The snapshot captured mode 0644 from the staging file; the vault file
	// itself is held read-only, so inheriting its mode would surface here.
	if info.Mode().Perm() != 0644 {
		t.Errorf("restored file mode is %v, expected 0644", info.Mode().Perm())
	}
}

func TestRunRefusesQuarantinedEntry(t *testing.T) {
	v, store := newTestFixture(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tainted")
	content := []byte("quarantined content")
	d := seedLinkedFile(t, v, store, path, content)

	if err := store.Update(func(tx *state.Txn) error {
		return tx.QuarantineVault(d)
	}); err != nil {
		t.Fatal("unable to quarantine vault entry:", err)
	}

	orchestrator := New(v, store, Options{})
	if _, err := orchestrator.Run(context.Background(), []string{path}); err == nil {
		t.Fatal("restore of a quarantined entry succeeded")
	}

	// The linked path, its record, and the vault file must all survive.
	if _, err := os.Lstat(path); err != nil {
		t.Error("linked path disappeared:", err)
	}
	if _, err := os.Stat(v.Path(d)); err != nil {
		t.Error("quarantined vault file disappeared:", err)
	}
	if err := store.View(func(tx *state.Txn) error {
		_, ok, err := tx.GetFile(path)
		if !ok {
			t.Error("file record disappeared for quarantined entry")
		}
		return err
	}); err != nil {
		t.Fatal("unable to check file record:", err)
	}
}
