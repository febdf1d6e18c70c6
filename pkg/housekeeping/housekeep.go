// Package housekeeping implements periodic cleanup of transient vault state
// that can accumulate when an imprint run is interrupted before completing.
package housekeeping

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mutagen-io/extstat"

	"github.com/imprintfs/imprint/pkg/filesystem"
	"github.com/imprintfs/imprint/pkg/logging"
	"github.com/imprintfs/imprint/pkg/must"
)

// maximumStagingAge is the maximum amount of time that a staged ingest file
// is allowed to sit in the vault's tmp subdirectory without being touched
// before it is considered abandoned and removed. Ingest renames a staged file
// into the vault almost immediately after writing it, so anything still
// present after this long was left behind by a process that was killed (or
// crashed) mid-ingest.
const maximumStagingAge = 24 * time.Hour

// Housekeep performs housekeeping of the imprint state directory, currently
// limited to pruning abandoned vault staging files.
func Housekeep(logger *logging.Logger) {
	housekeepStaging(logger)
}

// housekeepStaging removes abandoned files from the vault's staging
// subdirectory (store/tmp). A staged file outlives its ingest only if the
// process performing the ingest is killed between writing it and renaming it
// into place; see pkg/vault for the ingest protocol.
func housekeepStaging(logger *logging.Logger) {
	stagingDirectoryPath, err := filesystem.StoreRoot(false, filesystem.StoreTemporaryDirectoryName)
	if err != nil {
		return
	}

	stagingDirectoryContents, err := filesystem.DirectoryContentsByPath(stagingDirectoryPath)
	if err != nil {
		return
	}

	now := time.Now()

	for _, c := range stagingDirectoryContents {
		name := c.Name()
		fullPath := filepath.Join(stagingDirectoryPath, name)

		var age time.Duration
		if stat, err := extstat.NewFromFileName(fullPath); err == nil {
			age = now.Sub(stat.AccessTime)
		} else if info, err := os.Stat(fullPath); err == nil {
			age = now.Sub(info.ModTime())
		} else {
			continue
		}

		if age > maximumStagingAge {
			must.Succeed(os.Remove(fullPath),
				fmt.Sprintf("remove abandoned staging file %s", fullPath),
				logger,
			)
		}
	}
}
