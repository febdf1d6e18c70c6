package main

import (
	"github.com/spf13/cobra"

	"github.com/imprintfs/imprint/cmd"
	"github.com/imprintfs/imprint/pkg/filesystem"
	"github.com/imprintfs/imprint/pkg/housekeeping"
)

func housekeepMain(command *cobra.Command, arguments []string) error {
	logger := rootLogger.Sublogger("housekeep")

	locker, err := filesystem.AcquireLock()
	if err != nil {
		return err
	}
	defer func() {
		locker.Unlock()
		locker.Close()
	}()

	housekeeping.Housekeep(logger)
	return nil
}

var housekeepCommand = &cobra.Command{
	Use:   "housekeep",
	Short: "Removes abandoned vault staging files left behind by an interrupted run",
	Args:  cmd.DisallowArguments,
	Run:   cmd.Mainify(housekeepMain),
}

var housekeepConfiguration struct {
	help bool
}

func init() {
	flags := housekeepCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&housekeepConfiguration.help, "help", "h", false, "Show help information")
}
