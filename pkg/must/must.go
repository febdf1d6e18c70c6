// Package must provides helpers for best-effort cleanup operations whose
// errors are not actionable by the caller but are still worth logging.
package must

import (
	"io"
	"os"

	"github.com/imprintfs/imprint/pkg/logging"
)

// Close closes c, logging a warning if closing fails.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warnf("Unable to close: %s", err.Error())
	}
}

// OSRemove removes the file at name, logging a warning if removal fails.
func OSRemove(name string, logger *logging.Logger) {
	if err := os.Remove(name); err != nil {
		logger.Warnf("Unable to remove '%s': %s", name, err.Error())
	}
}

// Succeed logs a warning if err is non-nil, describing the task that failed.
// It is used for best-effort operations (such as staging cleanup) whose
// failure should not abort the surrounding operation.
func Succeed(err error, task string, logger *logging.Logger) {
	if err != nil {
		logger.Warnf("Unable to succeed at %s; %s", task, err.Error())
	}
}
