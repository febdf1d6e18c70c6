package main

import (
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/imprintfs/imprint/cmd"
	"github.com/imprintfs/imprint/pkg/filesystem"
	"github.com/imprintfs/imprint/pkg/group"
	"github.com/imprintfs/imprint/pkg/platform/terminal"
	"github.com/imprintfs/imprint/pkg/walk"
)

func scanMain(command *cobra.Command, arguments []string) error {
	root, err := filesystem.Normalize(arguments[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}

	storeRoot, err := filesystem.StoreRoot(false)
	if err != nil {
		return err
	}

	ctx, cancel := rootContext()
	defer cancel()
	candidates, errs := walk.Walk(ctx, root, walk.Options{
		ExcludeRoot:     storeRoot,
		ExcludePatterns: scanConfiguration.exclude.patterns,
		Logger:          rootLogger.Sublogger("walk"),
	})

	status := &cmd.StatusLinePrinter{UseStandardError: true}
	status.Print("Scanning for duplicate candidates...")
	classes, groupErr := group.Group(ctx, candidates, group.Options{
		HashWorkers: cfg.HashWorkers,
		IOWorkers:   cfg.IOWorkers,
		Logger:      rootLogger.Sublogger("group"),
	})
	status.Clear()
	if walkErr := <-errs; walkErr != nil {
		return walkErr
	}
	if groupErr != nil {
		return groupErr
	}

	printScanReport(classes)
	return nil
}

// printScanReport prints every equivalence class found along with the total
// reclaimable bytes a dedupe run against the same tree would recover. This
// command is read-only: it performs no vault or index mutation.
func printScanReport(classes []group.EquivalenceClass) {
	bold := color.New(color.Bold)
	plain := color.New()

	var reclaimable int64
	for _, class := range classes {
		bold.Fprintf(output, "%s (%s, %d copies)\n", class.Digest.String()[:16], humanize.Bytes(uint64(class.Size)), len(class.Paths))
		for _, path := range class.Paths {
			plain.Fprintf(output, "    %s\n", terminal.NeutralizeControlCharacters(path))
		}
		reclaimable += int64(len(class.Paths)-1) * class.Size
	}
	bold.Fprintf(output, "\n%d duplicate sets, %s reclaimable\n", len(classes), humanize.Bytes(uint64(reclaimable)))
}

var scanCommand = &cobra.Command{
	Use:   "scan <directory>",
	Short: "Reports duplicate file sets within a directory without modifying anything",
	Args:  cobra.ExactArgs(1),
	Run:   cmd.Mainify(scanMain),
}

var scanConfiguration struct {
	help    bool
	exclude excludeFlags
}

func init() {
	flags := scanCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&scanConfiguration.help, "help", "h", false, "Show help information")
	scanConfiguration.exclude.Register(flags)
}
