// Package config loads optional ambient overrides for imprint's default
// behavior from ~/.imprint/config.env. Every value has a sane built-in
// default; the file (and every individual key in it) is optional.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Defaults holds the built-in values used when no override is present.
var Defaults = Configuration{
	Paranoid:             false,
	AllowUnsafeHardlinks: false,
	HashWorkers:          0,
	IOWorkers:            0,
}

// Configuration holds the tunable defaults imprint reads from its optional
// configuration file. The command-line flags --paranoid and
// --allow-unsafe-hardlinks are combined with these values by logical OR: a
// flag can turn an option on, but cannot turn off one this file enables.
type Configuration struct {
	// Paranoid enables re-verification of vaulted/restored content against
	// its expected digest immediately after ingest or copy.
	Paranoid bool
	// AllowUnsafeHardlinks permits the link_back hard link fallback when
	// reflink/clone isn't available.
	AllowUnsafeHardlinks bool
	// HashWorkers bounds concurrent CPU-bound hashing. Zero selects
	// runtime.NumCPU() at the call site.
	HashWorkers int
	// IOWorkers bounds concurrent bucket/file I/O. Zero selects a multiple
	// of HashWorkers at the call site.
	IOWorkers int
}

// Load reads configuration overrides from path, applying them on top of
// Defaults. A missing file is not an error; Defaults is returned unchanged.
// Malformed values for an individual key are ignored (the default for that
// key is kept) rather than failing the whole load, since this file is
// optional ambient configuration, not required input.
func Load(path string) (Configuration, error) {
	result := Defaults

	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, errors.Wrap(err, "unable to read configuration file")
	}

	if v, ok := values["IMPRINT_PARANOID"]; ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			result.Paranoid = parsed
		}
	}
	if v, ok := values["IMPRINT_ALLOW_UNSAFE_HARDLINKS"]; ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			result.AllowUnsafeHardlinks = parsed
		}
	}
	if v, ok := values["IMPRINT_HASH_WORKERS"]; ok {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			result.HashWorkers = parsed
		}
	}
	if v, ok := values["IMPRINT_IO_WORKERS"]; ok {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			result.IOWorkers = parsed
		}
	}

	return result, nil
}
