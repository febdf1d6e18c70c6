package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/imprintfs/imprint/cmd"
	"github.com/imprintfs/imprint/pkg/filesystem"
	"github.com/imprintfs/imprint/pkg/platform/terminal"
	"github.com/imprintfs/imprint/pkg/restore"
)

func restoreMain(command *cobra.Command, arguments []string) error {
	absRoot, err := filesystem.Normalize(arguments[0])
	if err != nil {
		return err
	}

	logger := rootLogger.Sublogger("restore")

	env, err := openEnvironment(logger)
	if err != nil {
		return err
	}
	defer mustClose(env, logger)

	orchestrator := restore.New(env.vault, env.store, restore.Options{
		Paranoid: restoreConfiguration.paranoid || env.config.Paranoid,
		DryRun:   restoreConfiguration.dryRun,
		Logger:   logger,
	})

	ctx, cancel := rootContext()
	defer cancel()

	report, err := orchestrator.RunAll(ctx, absRoot)
	if report != nil {
		printRestoreReport(report)
	}
	if err != nil {
		return err
	}

	if len(report.Skipped) > 0 {
		return fmt.Errorf("one or more files could not be restored; see warnings above")
	}

	return nil
}

func printRestoreReport(report *restore.Report) {
	bold := color.New(color.Bold)
	plain := color.New()
	warn := color.New(color.FgYellow)

	for _, result := range report.Results {
		suffix := ""
		if result.VaultPruned {
			suffix = " (vault entry pruned)"
		} else if result.RemainingRefs > 0 {
			suffix = fmt.Sprintf(" (%d remaining references)", result.RemainingRefs)
		}
		plain.Fprintf(output, "restored %s%s\n", terminal.NeutralizeControlCharacters(result.Path), suffix)
	}
	for _, skip := range report.Skipped {
		warn.Fprintf(output, "skipped %s (%s)\n", terminal.NeutralizeControlCharacters(skip.Path), skip.Reason)
	}

	prefix := "Restored"
	if report.DryRun {
		prefix = "Would restore"
	}
	bold.Fprintf(output, "\n%s %d files\n", prefix, len(report.Results))
}

var restoreCommand = &cobra.Command{
	Use:   "restore <directory>",
	Short: "Reverses a prior dedupe run, materializing independent copies and pruning unreferenced vault entries",
	Args:  cobra.ExactArgs(1),
	Run:   cmd.Mainify(restoreMain),
}

var restoreConfiguration struct {
	help     bool
	paranoid bool
	dryRun   bool
}

func init() {
	flags := restoreCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&restoreConfiguration.help, "help", "h", false, "Show help information")
	flags.BoolVar(&restoreConfiguration.paranoid, "paranoid", false, "Re-verify each restored copy against its recorded digest")
	flags.BoolVarP(&restoreConfiguration.dryRun, "dry-run", "n", false, "Report what would happen without modifying anything")
}
