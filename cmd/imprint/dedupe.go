package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/imprintfs/imprint/cmd"
	"github.com/imprintfs/imprint/cmd/profile"
	"github.com/imprintfs/imprint/pkg/dedupe"
	"github.com/imprintfs/imprint/pkg/filesystem"
	"github.com/imprintfs/imprint/pkg/group"
	"github.com/imprintfs/imprint/pkg/housekeeping"
	"github.com/imprintfs/imprint/pkg/imprint"
	"github.com/imprintfs/imprint/pkg/must"
	"github.com/imprintfs/imprint/pkg/platform/terminal"
	"github.com/imprintfs/imprint/pkg/vault"
	"github.com/imprintfs/imprint/pkg/walk"
)

func dedupeMain(command *cobra.Command, arguments []string) error {
	root, err := filesystem.Normalize(arguments[0])
	if err != nil {
		return err
	}

	logger := rootLogger.Sublogger("dedupe")

	env, err := openEnvironment(logger)
	if err != nil {
		return err
	}
	defer mustClose(env, logger)

	// Start profiling if we're in development mode, terminating it when the
	// run completes.
	if imprint.DevelopmentModeEnabled {
		if p, err := profile.New("dedupe"); err != nil {
			logger.Warnf("unable to start profiling: %s", err.Error())
		} else {
			defer func() {
				must.Succeed(p.Finalize(), "finalize profiling", logger)
			}()
		}
	}

	// Sweep any staging files abandoned by an interrupted earlier run before
	// starting new ingests into the same directory.
	housekeeping.Housekeep(logger.Sublogger("housekeeping"))

	paranoid := dedupeConfiguration.paranoid || env.config.Paranoid
	allowUnsafeHardlinks := dedupeConfiguration.allowUnsafeHardlinks || env.config.AllowUnsafeHardlinks

	storeRoot, err := filesystem.StoreRoot(false)
	if err != nil {
		return err
	}

	ctx, cancel := rootContext()
	defer cancel()
	candidates, errs := walk.Walk(ctx, root, walk.Options{
		ExcludeRoot:     storeRoot,
		ExcludePatterns: dedupeConfiguration.exclude.patterns,
		Logger:          logger.Sublogger("walk"),
	})

	status := &cmd.StatusLinePrinter{UseStandardError: true}
	status.Print("Scanning for duplicate candidates...")
	classes, groupErr := group.Group(ctx, candidates, group.Options{
		HashWorkers: env.config.HashWorkers,
		IOWorkers:   env.config.IOWorkers,
		Logger:      logger.Sublogger("group"),
	})
	status.Clear()
	if walkErr := <-errs; walkErr != nil {
		return walkErr
	}
	if groupErr != nil {
		return groupErr
	}

	orchestrator := dedupe.New(env.vault, env.store, dedupe.Options{
		Paranoid: paranoid,
		DryRun:   dedupeConfiguration.dryRun,
		LinkPolicy: vault.LinkPolicy{
			AllowClone:           true,
			AllowUnsafeHardlinks: allowUnsafeHardlinks,
		},
		Logger: logger,
	})

	report, runErr := orchestrator.Run(ctx, classes)
	if report != nil {
		printDedupeReport(report)
	}
	if runErr != nil {
		return runErr
	}

	if reportHasSkips(report) {
		return fmt.Errorf("one or more files could not be deduplicated; see warnings above")
	}

	return nil
}

func reportHasSkips(report *dedupe.Report) bool {
	for _, class := range report.Classes {
		if len(class.Skipped) > 0 {
			return true
		}
	}
	return false
}

func printDedupeReport(report *dedupe.Report) {
	bold := color.New(color.Bold)
	plain := color.New()
	warn := color.New(color.FgYellow)

	for _, class := range report.Classes {
		bold.Fprintf(output, "%s (%s)\n", class.Digest.String()[:16], humanize.Bytes(uint64(class.Size)))
		if class.Ingested {
			plain.Fprintf(output, "    ingested %s\n", terminal.NeutralizeControlCharacters(class.Master))
		}
		for _, path := range class.Linked {
			plain.Fprintf(output, "    linked %s\n", terminal.NeutralizeControlCharacters(path))
		}
		for _, skip := range class.Skipped {
			warn.Fprintf(output, "    skipped %s (%s)\n", terminal.NeutralizeControlCharacters(skip.Path), skip.Reason)
		}
	}

	prefix := "Reclaimed"
	if report.DryRun {
		prefix = "Would reclaim"
	}
	bold.Fprintf(output, "\n%s %s\n", prefix, humanize.Bytes(uint64(report.ReclaimedBytes)))
}

var dedupeCommand = &cobra.Command{
	Use:   "dedupe <directory>",
	Short: "Finds duplicate files within a directory and replaces them with space-sharing links into the vault",
	Args:  cobra.ExactArgs(1),
	Run:   cmd.Mainify(dedupeMain),
}

var dedupeConfiguration struct {
	help                 bool
	paranoid             bool
	dryRun               bool
	allowUnsafeHardlinks bool
	exclude              excludeFlags
}

func init() {
	flags := dedupeCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&dedupeConfiguration.help, "help", "h", false, "Show help information")
	flags.BoolVar(&dedupeConfiguration.paranoid, "paranoid", false, "Re-verify vaulted content against its digest immediately after ingest")
	flags.BoolVarP(&dedupeConfiguration.dryRun, "dry-run", "n", false, "Report what would happen without modifying anything")
	flags.BoolVar(&dedupeConfiguration.allowUnsafeHardlinks, "allow-unsafe-hardlinks", false, "Permit hard links when reflink/clone isn't available")
	dedupeConfiguration.exclude.Register(flags)
}
