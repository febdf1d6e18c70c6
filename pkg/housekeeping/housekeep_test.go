package housekeeping

import (
	"bytes"
	"testing"

	"github.com/imprintfs/imprint/pkg/logging"
)

// TestHousekeep tests that Housekeep succeeds without panicking, even when
// the state directory doesn't exist.
func TestHousekeep(_ *testing.T) {
	logger := logging.NewLogger(logging.LevelError, &bytes.Buffer{})
	Housekeep(logger)
}

// TestHousekeepStaging tests that housekeepStaging succeeds without
// panicking, even when the vault staging directory doesn't exist.
func TestHousekeepStaging(_ *testing.T) {
	logger := logging.NewLogger(logging.LevelError, &bytes.Buffer{})
	housekeepStaging(logger)
}
