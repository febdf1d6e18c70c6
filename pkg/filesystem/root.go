package filesystem

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/imprintfs/imprint/pkg/filesystem/locking"
)

const (
	// LockFileName is the name of the lock file coordinating access to the
	// imprint state root. Its presence (held) indicates that another
	// process already owns the vault and index.
	LockFileName = ".imprint.lock"

	// DataDirectoryName is the name of the imprint state directory inside
	// the user's home directory.
	DataDirectoryName = ".imprint"

	// configurationName is the name of the optional environment overrides
	// file loaded from inside the state directory.
	configurationName = "config.env"

	// StoreDirectoryName is the name of the content-addressed vault
	// directory within the state directory.
	StoreDirectoryName = "store"

	// StoreTemporaryDirectoryName is the name of the staging subdirectory
	// within the vault directory, used for in-flight ingest.
	StoreTemporaryDirectoryName = "tmp"

	// StateDatabaseName is the name of the index database file within the
	// state directory.
	StateDatabaseName = "state.db"
)

// HomeDirectory is the cached path to the current user's home directory.
var HomeDirectory string

// LockFilePath is the path to the lock file coordinating access to the
// imprint state root.
var LockFilePath string

// DataDirectoryPath is the path to the imprint state directory.
var DataDirectoryPath string

// ConfigurationPath is the path to the optional environment overrides file.
var ConfigurationPath string

func init() {
	if h, err := os.UserHomeDir(); err != nil {
		panic(errors.Wrap(err, "unable to query user's home directory"))
	} else if h == "" {
		panic(errors.New("home directory path empty"))
	} else {
		HomeDirectory = h
	}

	LockFilePath = filepath.Join(HomeDirectory, DataDirectoryName, LockFileName)
	DataDirectoryPath = filepath.Join(HomeDirectory, DataDirectoryName)
	ConfigurationPath = filepath.Join(DataDirectoryPath, configurationName)
}

// AcquireLock is a convenience function which attempts to acquire the
// imprint state root lock and returns a locked file locker. It fails fast
// (non-blocking) so that a second concurrently-running instance gets the
// lock error rather than stalling.
func AcquireLock() (*locking.Locker, error) {
	if _, err := Root(true); err != nil {
		return nil, err
	}
	locker, err := locking.NewLocker(LockFilePath, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create file locker")
	} else if err = locker.Lock(false); err != nil {
		locker.Close()
		return nil, err
	}
	return locker, nil
}

// Root computes (and optionally creates) subdirectories inside the imprint
// state directory.
func Root(create bool, pathComponents ...string) (string, error) {
	result := filepath.Join(DataDirectoryPath, filepath.Join(pathComponents...))

	if create {
		if err := os.MkdirAll(result, 0700); err != nil {
			return "", errors.Wrap(err, "unable to create subpath")
		} else if err := MarkHidden(DataDirectoryPath); err != nil {
			return "", errors.Wrap(err, "unable to hide state directory")
		}
	}

	return result, nil
}

// StoreRoot computes (and optionally creates) the vault directory and any
// subpath within it.
func StoreRoot(create bool, pathComponents ...string) (string, error) {
	components := append([]string{StoreDirectoryName}, pathComponents...)
	return Root(create, components...)
}
