package main

import (
	"github.com/spf13/pflag"
)

// excludeFlags stores the walker exclusion flags shared by the scan and
// dedupe commands and provides for their registration.
type excludeFlags struct {
	// patterns stores the value of the --exclude flag.
	patterns []string
}

// Register registers the flags into the specified flag set.
func (f *excludeFlags) Register(flags *pflag.FlagSet) {
	flags.StringSliceVar(&f.patterns, "exclude", nil, "Exclude paths matching a glob pattern (may be repeated)")
}
