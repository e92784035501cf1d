package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-curator/internal/config"
	"github.com/kozaktomas/photo-curator/internal/database"
	"github.com/kozaktomas/photo-curator/internal/logging"
	"github.com/kozaktomas/photo-curator/internal/pipeline"
	"github.com/kozaktomas/photo-curator/internal/web"
	"github.com/kozaktomas/photo-curator/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status API",
	Long: `Start the Photo Curator status API.
The API starts runs and reclusters over a date range, streams their task
tables, lists run history and serves similar-photo lookups.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			port = p
		}
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// saveHNSWIndex persists the similar-photo index during shutdown.
func saveHNSWIndex(ctx context.Context) {
	log := logging.From(ctx)
	if rebuilder := database.GetPhotoHNSWRebuilder(); rebuilder != nil {
		if err := rebuilder.SaveHNSWIndex(); err != nil {
			log.Warn("failed to save HNSW index", "error", err)
		} else {
			log.Info("HNSW index saved", "photos", rebuilder.HNSWCount())
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := cfg.Validate(false); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	log := logging.From(ctx)

	log.Info("connecting to PostgreSQL")
	pool, photos, runs, err := openDatabase(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer pool.Close()

	if rebuilder := database.GetPhotoHNSWRebuilder(); rebuilder != nil {
		log.Info("HNSW index ready", "photos", rebuilder.HNSWCount(), "path", cfg.Database.HNSWIndexPath)
	}

	runner := func(runID string, req handlers.RunRequest) (*pipeline.Driver, error) {
		return newDriver(ctx, cfg, photos, runs, driverSettings{
			RunID:     runID,
			DryRun:    req.DryRun,
			StoreOnly: req.Kind == pipeline.KindRecluster,
		})
	}

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(ctx, cfg, web.Deps{Photos: photos, Runs: runs, Runner: runner}, port, host)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Info("shutting down")
		saveHNSWIndex(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	fmt.Printf("Starting Photo Curator API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	// Start returns as soon as shutdown begins; wait for running jobs.
	<-shutdownDone
	return nil
}
