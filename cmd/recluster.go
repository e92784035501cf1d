package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-curator/internal/config"
)

var reclusterCmd = &cobra.Command{
	Use:   "recluster",
	Short: "Recompute duplicate and event decisions for stored photos",
	Long: `Re-run duplicate clustering and event segmentation on photos already in
the database, without downloading or scoring anything. Useful after changing
DUPLICATE_* or EVENT_* thresholds.

Examples:
  photo-curator recluster --from 2024-06-01 --to 2024-06-30
  photo-curator recluster --from 2024-06-01 --dry-run`,
	RunE: runRecluster,
}

func init() {
	rootCmd.AddCommand(reclusterCmd)

	reclusterCmd.Flags().String("from", "", "First day to recluster (YYYY-MM-DD)")
	reclusterCmd.Flags().String("to", "", "Last day to recluster (YYYY-MM-DD), defaults to --from")
	reclusterCmd.Flags().Bool("dry-run", false, "Log decisions without saving them")
}

func runRecluster(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	from, to, err := parseRange(cmd, cfg.Source.Location())
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	pool, photos, runs, err := openDatabase(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer pool.Close()

	driver, err := newDriver(ctx, cfg, photos, runs, driverSettings{
		DryRun:    mustGetBool(cmd, "dry-run"),
		StoreOnly: true,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Reclustering %s to %s\n", from.Format(time.DateOnly), to.Format(time.DateOnly))
	stats, runErr := driver.Recluster(ctx, from, to)
	printStats(stats)
	return runErr
}
