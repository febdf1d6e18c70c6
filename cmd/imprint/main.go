package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imprintfs/imprint/cmd"
	"github.com/imprintfs/imprint/pkg/imprint"
)

func rootMain(command *cobra.Command, arguments []string) {
	if rootConfiguration.version {
		fmt.Println(imprint.Version)
		return
	}
	command.Help()
}

var rootCommand = &cobra.Command{
	Use:   "imprint",
	Short: "imprint finds duplicate files and replaces them with space-sharing links into a content-addressed vault",
	Run:   rootMain,
}

var rootConfiguration struct {
	help    bool
	version bool
}

func init() {
	flags := rootCommand.Flags()
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")
	flags.BoolVarP(&rootConfiguration.version, "version", "V", false, "Show version information")

	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""

	rootCommand.AddCommand(
		scanCommand,
		dedupeCommand,
		restoreCommand,
		housekeepCommand,
	)
}

func main() {
	// Check if a shell completion is being performed, in which case we avoid
	// terminal compatibility handling (which could spawn a subprocess and
	// break the completion protocol).
	if !cmd.PerformingShellCompletion {
		cmd.HandleTerminalCompatibility()
	}

	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
