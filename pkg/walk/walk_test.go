package walk

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func collect(t *testing.T, root string, options Options) []Candidate {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	candidates, errs := Walk(ctx, root, options)

	var results []Candidate
	for c := range candidates {
		results = append(results, c)
	}
	if err := <-errs; err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	return results
}

func TestWalkFindsRegularFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world!"), 0644); err != nil {
		t.Fatal(err)
	}

	results := collect(t, root, Options{})
	if len(results) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(results))
	}

	sizes := make(map[string]int64)
	for _, c := range results {
		sizes[c.Path] = c.Size
	}
	if sizes[filepath.Join(root, "a.txt")] != 5 {
		t.Errorf("unexpected size for a.txt: %d", sizes[filepath.Join(root, "a.txt")])
	}
	if sizes[filepath.Join(root, "sub", "b.txt")] != 6 {
		t.Errorf("unexpected size for sub/b.txt: %d", sizes[filepath.Join(root, "sub", "b.txt")])
	}
}

func TestWalkExcludesRoot(t *testing.T) {
	root := t.TempDir()
	vaultDir := filepath.Join(root, "store")
	if err := os.MkdirAll(vaultDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(vaultDir, "hidden.bin"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "visible.txt"), []byte("yz"), 0644); err != nil {
		t.Fatal(err)
	}

	results := collect(t, root, Options{ExcludeRoot: vaultDir})
	if len(results) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(results))
	}
	if results[0].Path != filepath.Join(root, "visible.txt") {
		t.Errorf("unexpected candidate: %s", results[0].Path)
	}
}

func TestWalkExcludePatterns(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "keep.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "skip.log"), []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}

	results := collect(t, root, Options{ExcludePatterns: []string{"*.log"}})
	if len(results) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(results))
	}
	if results[0].Path != filepath.Join(root, "keep.txt") {
		t.Errorf("unexpected candidate: %s", results[0].Path)
	}
}

func TestWalkSharesInodeAcrossHardlinks(t *testing.T) {
	root := t.TempDir()
	original := filepath.Join(root, "original.txt")
	linked := filepath.Join(root, "linked.txt")
	if err := os.WriteFile(original, []byte("same content"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Link(original, linked); err != nil {
		t.Skipf("hard links unsupported on this filesystem: %v", err)
	}

	results := collect(t, root, Options{})
	if len(results) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(results))
	}
	if results[0].Inode != results[1].Inode {
		t.Errorf("expected hardlinked files to share inode identity, got %+v and %+v", results[0].Inode, results[1].Inode)
	}
}
