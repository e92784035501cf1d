package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-curator/internal/config"
	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Curate photos taken in a date range",
	Long: `Run the full curation pipeline for every day in [--from, --to].

Each day's photos are downloaded, screened, scored and clustered into
duplicates and event bursts. Photos scoring above the highlight threshold
are captioned and uploaded to the highlights folder.

Examples:
  # Curate one week from Dropbox
  photo-curator run --from 2024-06-01 --to 2024-06-07

  # Preview what would be published, without uploading anything
  photo-curator run --from 2024-06-01 --to 2024-06-01 --dry-run

  # Use PhotoPrism as the source with fewer parallel downloads
  photo-curator run --from 2024-06-01 --to 2024-06-30 --backend photoprism --image-concurrency 2`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("from", "", "First day to process (YYYY-MM-DD)")
	runCmd.Flags().String("to", "", "Last day to process (YYYY-MM-DD), defaults to --from")
	runCmd.Flags().String("backend", "", "Source backend: dropbox or photoprism (overrides SOURCE_BACKEND)")
	runCmd.Flags().Bool("dry-run", false, "Score and cluster without uploading or marking photos processed")
	runCmd.Flags().Int("date-concurrency", 0, "Days processed in parallel (overrides DATE_CONCURRENCY)")
	runCmd.Flags().Int("image-concurrency", 0, "Images processed in parallel (overrides IMAGE_CONCURRENCY)")
	runCmd.Flags().Bool("no-progress", false, "Disable the progress bar")
}

// parseRange reads --from and --to as calendar days in loc.
func parseRange(cmd *cobra.Command, loc *time.Location) (time.Time, time.Time, error) {
	fromStr := mustGetString(cmd, "from")
	toStr := mustGetString(cmd, "to")
	if fromStr == "" {
		return time.Time{}, time.Time{}, errors.New("--from is required")
	}
	if toStr == "" {
		toStr = fromStr
	}
	from, err := time.ParseInLocation(time.DateOnly, fromStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
	}
	to, err := time.ParseInLocation(time.DateOnly, toStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("--to must not be before --from")
	}
	return from, to, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx := logging.With(context.Background(), logging.Default())
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	backend := mustGetString(cmd, "backend")
	if backend != "" {
		cfg.Source.Backend = backend
	}
	if err := cfg.Validate(true); err != nil {
		return err
	}

	from, to, err := parseRange(cmd, cfg.Source.Location())
	if err != nil {
		return err
	}
	dryRun := mustGetBool(cmd, "dry-run")

	ctx, stop := signalContext()
	defer stop()

	pool, photos, runs, err := openDatabase(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer pool.Close()

	var bar *progressbar.ProgressBar
	var onItem func()
	if !mustGetBool(cmd, "no-progress") {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Curating photos"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("photos"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
		)
		onItem = func() { _ = bar.Add(1) }
	}

	driver, err := newDriver(ctx, cfg, photos, runs, driverSettings{
		Backend:          cfg.Source.Backend,
		DryRun:           dryRun,
		DateConcurrency:  mustGetInt(cmd, "date-concurrency"),
		ImageConcurrency: mustGetInt(cmd, "image-concurrency"),
		OnItem:           onItem,
	})
	if err != nil {
		return err
	}

	if dryRun {
		fmt.Println("Dry run: nothing will be uploaded or marked processed")
	}
	fmt.Printf("Curating %s to %s from %s\n", from.Format(time.DateOnly), to.Format(time.DateOnly), cfg.Source.Backend)

	stats, runErr := driver.Run(ctx, from, to)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	printStats(stats)
	return runErr
}

func printStats(stats *curation.RunStats) {
	if stats == nil {
		return
	}
	fmt.Printf("\nListed:             %d\n", stats.Listed)
	fmt.Printf("Processed:          %d\n", stats.Processed)
	fmt.Printf("Skipped:            %d\n", stats.Skipped)
	fmt.Printf("Rejected:           %d\n", stats.Rejected)
	fmt.Printf("Duplicates demoted: %d\n", stats.DuplicateDemoted)
	fmt.Printf("Events demoted:     %d\n", stats.EventDemoted)
	fmt.Printf("Highlights:         %d\n", stats.Uploaded)
	fmt.Printf("Failed:             %d\n", stats.Failed)
}
