package dedupe

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/imprintfs/imprint/pkg/digest"
	"github.com/imprintfs/imprint/pkg/group"
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

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal("unable to write test file:", err)
	}
}

func classFor(content []byte, paths ...string) group.EquivalenceClass {
	var d digest.Full
	copy(d[:], content)
	for i := len(content); i < len(d); i++ {
		d[i] = byte(i)
	}
	return group.EquivalenceClass{Digest: d, Size: int64(len(content)), Paths: paths}
}

func defaultOptions() Options {
	return Options{LinkPolicy: vault.LinkPolicy{AllowClone: true, AllowUnsafeHardlinks: true}}
}

func TestRunIngestsMasterAndLinksDuplicates(t *testing.T) {
	v, store := newTestFixture(t)
	dir := t.TempDir()
	content := []byte("shared payload")
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	c := filepath.Join(dir, "c")
	writeFile(t, a, content)
	writeFile(t, b, content)
	writeFile(t, c, content)

	class := classFor(content, a, b, c)
	orchestrator := New(v, store, defaultOptions())
	report, err := orchestrator.Run(context.Background(), []group.EquivalenceClass{class})
	if err != nil {
		t.Fatal("unable to run dedupe:", err)
	}
	if len(report.Classes) != 1 {
		t.Fatalf("expected one class result, got %d", len(report.Classes))
	}
	result := report.Classes[0]
	if !result.Ingested {
		t.Error("expected master to be ingested")
	}
	if len(result.Linked) != 2 {
		t.Fatalf("expected two linked paths, got %d: %v", len(result.Linked), result.Linked)
	}
	if result.Reclaimed != class.Size*2 {
		t.Errorf("expected %d bytes reclaimed, got %d", class.Size*2, result.Reclaimed)
	}

	for _, p := range []string{a, b, c} {
		got, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("unable to read %s after dedupe: %v", p, err)
		}
		if string(got) != string(content) {
			t.Errorf("%s content changed after dedupe: got %q", p, got)
		}
	}

	if err := store.View(func(tx *state.Txn) error {
		for _, p := range []string{a, b, c} {
			record, ok, err := tx.GetFile(p)
			if err != nil {
				return err
			}
			if !ok || record.State != state.VaultLinked {
				t.Errorf("expected %s to be recorded as vault-linked", p)
			}
		}
		return nil
	}); err != nil {
		t.Fatal("unable to inspect state after dedupe:", err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	v, store := newTestFixture(t)
	dir := t.TempDir()
	content := []byte("idempotent payload")
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	writeFile(t, a, content)
	writeFile(t, b, content)

	class := classFor(content, a, b)
	orchestrator := New(v, store, defaultOptions())

	if _, err := orchestrator.Run(context.Background(), []group.EquivalenceClass{class}); err != nil {
		t.Fatal("unable to run first dedupe pass:", err)
	}

	infoBefore, err := os.Lstat(a)
	if err != nil {
		t.Fatal("unable to stat master after first pass:", err)
	}

	report, err := orchestrator.Run(context.Background(), []group.EquivalenceClass{class})
	if err != nil {
		t.Fatal("unable to run second dedupe pass:", err)
	}
	result := report.Classes[0]
	if result.Ingested {
		t.Error("expected second pass to skip ingest, master already vault-linked")
	}
	if len(result.Linked) != 0 {
		t.Errorf("expected second pass to link nothing new, got %v", result.Linked)
	}
	foundSkip := false
	for _, skip := range result.Skipped {
		if skip.Reason == SkipAlreadyLinked {
			foundSkip = true
		}
	}
	if !foundSkip {
		t.Error("expected second pass to report already-linked skips")
	}

	infoAfter, err := os.Lstat(a)
	if err != nil {
		t.Fatal("unable to stat master after second pass:", err)
	}
	if !os.SameFile(infoBefore, infoAfter) {
		t.Error("expected second pass to leave the master's directory entry untouched")
	}
}

func TestRunDryRunPerformsNoMutation(t *testing.T) {
	v, store := newTestFixture(t)
	dir := t.TempDir()
	content := []byte("dry run payload")
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	writeFile(t, a, content)
	writeFile(t, b, content)

	class := classFor(content, a, b)
	options := defaultOptions()
	options.DryRun = true
	orchestrator := New(v, store, options)

	report, err := orchestrator.Run(context.Background(), []group.EquivalenceClass{class})
	if err != nil {
		t.Fatal("unable to run dry-run dedupe:", err)
	}
	if !report.Classes[0].Ingested || len(report.Classes[0].Linked) != 1 {
		t.Fatalf("expected simulated ingest and one simulated link, got %+v", report.Classes[0])
	}

	if err := store.View(func(tx *state.Txn) error {
		_, ok, err := tx.GetFile(a)
		if ok {
			t.Error("expected no FileRecord to be committed during a dry run")
		}
		return err
	}); err != nil {
		t.Fatal("unable to inspect state after dry run:", err)
	}
	for _, p := range []string{a, b} {
		if _, err := os.Lstat(p); err != nil {
			t.Errorf("expected %s to be untouched by dry run: %v", p, err)
		}
	}
}

func TestRunParanoidQuarantinesDivergentVaultEntry(t *testing.T) {
	v, store := newTestFixture(t)
	dir := t.TempDir()
	content := []byte("quarantine payload")
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	writeFile(t, a, content)
	writeFile(t, b, content)

	class := classFor(content, a, b)
	orchestrator := New(v, store, defaultOptions())
	if _, err := orchestrator.Run(context.Background(), []group.EquivalenceClass{class}); err != nil {
		t.Fatal("unable to run initial dedupe:", err)
	}

	// Inject bit rot into the vaulted content.
	vaultPath := v.Path(class.Digest)
	if err := os.Chmod(vaultPath, 0600); err != nil {
		t.Fatal("unable to make vault file writable:", err)
	}
	writeFile(t, vaultPath, []byte("tampered quarantine payload"))

	// A paranoid run that would link a new duplicate against the divergent
	// entry must quarantine it and terminate rather than handing out links
	// to corrupt content.
	c := filepath.Join(dir, "c")
	writeFile(t, c, content)
	options := defaultOptions()
	options.Paranoid = true
	paranoid := New(v, store, options)
	if _, err := paranoid.Run(context.Background(), []group.EquivalenceClass{classFor(content, a, b, c)}); err == nil {
		t.Fatal("paranoid run against a divergent vault entry succeeded")
	}

	if err := store.View(func(tx *state.Txn) error {
		record, ok, err := tx.GetVault(class.Digest)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatal("vault record disappeared")
		}
		if !record.Quarantined {
			t.Error("expected vault record to be quarantined")
		}
		return nil
	}); err != nil {
		t.Fatal("unable to inspect vault record:", err)
	}

	// The new duplicate must be untouched.
	got, err := os.ReadFile(c)
	if err != nil {
		t.Fatal("unable to read unlinked duplicate:", err)
	}
	if string(got) != string(content) {
		t.Errorf("unlinked duplicate content changed: got %q", got)
	}
}
