package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-curator/internal/config"
	"github.com/kozaktomas/photo-curator/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "photo-curator",
	Short: "Curate a personal photo archive with vision models",
	Long: `Photo Curator pulls photos from Dropbox or PhotoPrism day by day, screens
and scores them with a vision model (OpenAI, Gemini or Ollama), clusters
near-duplicates and event bursts, and publishes the best shots as highlights.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json (overrides LOG_FORMAT)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// setupLogging installs the process logger from flags, falling back to the
// LOG_LEVEL and LOG_FORMAT environment variables.
func setupLogging(cmd *cobra.Command) {
	cfg := config.Load()
	level, format := cfg.Log.Level, cfg.Log.Format
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		format = v
	}
	logging.SetDefault(logging.New(os.Stderr, level, format))
}
