package imprint

import "os"

// DevelopmentModeEnabled controls whether or not development mode is enabled.
// It is set automatically based on the IMPRINT_DEVELOPMENT environment
// variable and enables development-time behavior such as CPU/heap profiling
// of dedupe runs.
var DevelopmentModeEnabled bool

func init() {
	DevelopmentModeEnabled = os.Getenv("IMPRINT_DEVELOPMENT") == "1"
}
