package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	result, err := Load(filepath.Join(t.TempDir(), "config.env"))
	if err != nil {
		t.Fatal("unable to load missing configuration file:", err)
	}
	if result != Defaults {
		t.Errorf("expected defaults for missing file, got %+v", result)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.env")
	content := "IMPRINT_PARANOID=true\nIMPRINT_ALLOW_UNSAFE_HARDLINKS=true\nIMPRINT_HASH_WORKERS=8\nIMPRINT_IO_WORKERS=16\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal("unable to write configuration file:", err)
	}

	result, err := Load(path)
	if err != nil {
		t.Fatal("unable to load configuration file:", err)
	}
	want := Configuration{Paranoid: true, AllowUnsafeHardlinks: true, HashWorkers: 8, IOWorkers: 16}
	if result != want {
		t.Errorf("expected %+v, got %+v", want, result)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.env")
	content := "IMPRINT_PARANOID=not-a-bool\nIMPRINT_HASH_WORKERS=not-a-number\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal("unable to write configuration file:", err)
	}

	result, err := Load(path)
	if err != nil {
		t.Fatal("unable to load configuration file:", err)
	}
	if result != Defaults {
		t.Errorf("expected malformed values to fall back to defaults, got %+v", result)
	}
}
