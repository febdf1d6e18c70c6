package vault

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/imprintfs/imprint/pkg/digest"
	"github.com/imprintfs/imprint/pkg/logging"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(t.TempDir(), logging.NewLogger(logging.LevelError, io.Discard))
	if err != nil {
		t.Fatal("unable to create vault:", err)
	}
	return v
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal("unable to write test file:", err)
	}
}

func digestOf(content []byte) digest.Full {
	var d digest.Full
	copy(d[:], content)
	// pad deterministically beyond content length so short fixtures still
	// produce distinct digests in these tests, which never verify against
	// the real hash function.
	for i := len(content); i < len(d); i++ {
		d[i] = byte(i)
	}
	return d
}

func TestIngestAndPath(t *testing.T) {
	v := newTestVault(t)
	src := filepath.Join(t.TempDir(), "master")
	content := []byte("hello world")
	writeFile(t, src, content)
	d := digestOf(content)

	if err := v.Ingest(src, d, int64(len(content))); err != nil {
		t.Fatal("unable to ingest:", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("expected ingest source to be consumed")
	}
	if _, err := os.Stat(v.Path(d)); err != nil {
		t.Error("expected vault file to exist:", err)
	}

	if err := v.Ingest(src, d, int64(len(content))); err != ErrAlreadyPresent {
		t.Errorf("expected ErrAlreadyPresent on duplicate ingest, got %v", err)
	}
}

func TestLinkBackClone(t *testing.T) {
	v := newTestVault(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "master")
	content := []byte("duplicate content")
	writeFile(t, src, content)
	d := digestOf(content)

	if err := v.Ingest(src, d, int64(len(content))); err != nil {
		t.Fatal("unable to ingest:", err)
	}

	target := filepath.Join(dir, "copy")
	writeFile(t, target+".meta-source", content)

	kind, _, err := v.LinkBack(d, target, PathMetadataSource(target+".meta-source"), LinkPolicy{AllowClone: true, AllowUnsafeHardlinks: true})
	if err != nil {
		t.Fatal("unable to link back:", err)
	}
	if kind != Reflinked && kind != Hardlinked {
		t.Errorf("unexpected link kind: %v", kind)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal("unable to read linked file:", err)
	}
	if string(got) != string(content) {
		t.Errorf("linked file content mismatch: got %q", got)
	}
}

func TestPruneRemovesVaultFile(t *testing.T) {
	v := newTestVault(t)
	src := filepath.Join(t.TempDir(), "master")
	content := []byte("prune me")
	writeFile(t, src, content)
	d := digestOf(content)

	if err := v.Ingest(src, d, int64(len(content))); err != nil {
		t.Fatal("unable to ingest:", err)
	}
	if err := v.Prune(d); err != nil {
		t.Fatal("unable to prune:", err)
	}
	if _, err := os.Stat(v.Path(d)); !os.IsNotExist(err) {
		t.Error("expected vault file to be removed after prune")
	}
	if err := v.Prune(d); err != nil {
		t.Error("expected prune of already-absent entry to be a no-op:", err)
	}
}

func TestUndoRestoresOriginalLocation(t *testing.T) {
	v := newTestVault(t)
	src := filepath.Join(t.TempDir(), "master")
	content := []byte("undo me")
	writeFile(t, src, content)
	d := digestOf(content)

	if err := v.Ingest(src, d, int64(len(content))); err != nil {
		t.Fatal("unable to ingest:", err)
	}
	if err := v.Undo(d, src); err != nil {
		t.Fatal("unable to undo ingest:", err)
	}
	got, err := os.ReadFile(src)
	if err != nil {
		t.Fatal("expected original path to exist after undo:", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch after undo: got %q", got)
	}
	if _, err := os.Stat(v.Path(d)); !os.IsNotExist(err) {
		t.Error("expected vault file to be gone after undo")
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	v := newTestVault(t)
	src := filepath.Join(t.TempDir(), "master")
	content := []byte("verify me")
	writeFile(t, src, content)
	d, err := digest.ComputeFull(bytes.NewReader(content))
	if err != nil {
		t.Fatal("unable to compute fixture digest:", err)
	}

	if err := v.Ingest(src, d, int64(len(content))); err != nil {
		t.Fatal("unable to ingest:", err)
	}

	ok, err := v.Verify(d)
	if err != nil {
		t.Fatal("unable to verify:", err)
	}
	if !ok {
		t.Fatal("verification of intact vault file failed")
	}

	// Inject bit rot and ensure verification notices.
	vaultPath := v.Path(d)
	if err := os.Chmod(vaultPath, 0600); err != nil {
		t.Fatal("unable to make vault file writable:", err)
	}
	writeFile(t, vaultPath, []byte("verify mE"))
	ok, err = v.Verify(d)
	if err != nil {
		t.Fatal("unable to verify tampered file:", err)
	}
	if ok {
		t.Error("verification of tampered vault file succeeded")
	}
}
