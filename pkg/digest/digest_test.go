package digest

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestComputeFullMatchesSHA256(t *testing.T) {
	content := bytes.Repeat([]byte("duplicate-me"), 1000)
	expected := sha256.Sum256(content)

	result, err := ComputeFull(bytes.NewReader(content))
	if err != nil {
		t.Fatal("ComputeFull failed:", err)
	}
	if result != Full(expected) {
		t.Error("full digest did not match expected SHA-256 sum")
	}
}

func TestComputeSparseBelowThreshold(t *testing.T) {
	content := bytes.Repeat([]byte("x"), SampleThreshold-1)
	_, ok, err := ComputeSparse(bytes.NewReader(content), int64(len(content)), NoHoles)
	if err != nil {
		t.Fatal("ComputeSparse failed:", err)
	}
	if ok {
		t.Error("expected sparse sampling to be skipped below threshold")
	}
}

func TestComputeSparseDeterministic(t *testing.T) {
	content := bytes.Repeat([]byte("abcdefgh"), 4096)
	size := int64(len(content))

	first, ok, err := ComputeSparse(bytes.NewReader(content), size, NoHoles)
	if err != nil || !ok {
		t.Fatal("ComputeSparse failed:", err)
	}
	second, ok, err := ComputeSparse(bytes.NewReader(content), size, NoHoles)
	if err != nil || !ok {
		t.Fatal("ComputeSparse failed:", err)
	}
	if first != second {
		t.Error("sparse sample was not deterministic across identical inputs")
	}
}

func TestComputeSparseDetectsMidByteChange(t *testing.T) {
	// 100 MB sized so that the mutated byte at size/2 lands inside the mid
	// sample region.
	a := bytes.Repeat([]byte{0}, 100_000_000)
	b := append([]byte(nil), a...)
	b[50_000_000] = 0xFF

	sa, ok, err := ComputeSparse(bytes.NewReader(a), int64(len(a)), NoHoles)
	if err != nil || !ok {
		t.Fatal("ComputeSparse failed:", err)
	}
	sb, ok, err := ComputeSparse(bytes.NewReader(b), int64(len(b)), NoHoles)
	if err != nil || !ok {
		t.Fatal("ComputeSparse failed:", err)
	}
	if sa == sb {
		t.Error("sparse sample failed to detect a byte change inside the mid region")
	}
}

func TestComputeSparseMissesByteOutsideSampleRegions(t *testing.T) {
	a := bytes.Repeat([]byte{0}, 1024*1024)
	b := append([]byte(nil), a...)
	// Offset 256KiB lies well outside all three 4KiB sample regions for a
	// 1MiB file (head at 0, mid at 510KiB, tail at 1020KiB).
	b[256*1024] = 0xFF

	sa, ok, err := ComputeSparse(bytes.NewReader(a), int64(len(a)), NoHoles)
	if err != nil || !ok {
		t.Fatal("ComputeSparse failed:", err)
	}
	sb, ok, err := ComputeSparse(bytes.NewReader(b), int64(len(b)), NoHoles)
	if err != nil || !ok {
		t.Fatal("ComputeSparse failed:", err)
	}
	if sa != sb {
		t.Error("sparse sample unexpectedly differed for a byte change outside all sample regions")
	}
}
