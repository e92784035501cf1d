package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-curator/internal/config"
	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/exif"
	"github.com/kozaktomas/photo-curator/internal/logging"
	"github.com/kozaktomas/photo-curator/internal/scoring"
)

var scoreCmd = &cobra.Command{
	Use:   "score <file>",
	Short: "Screen and score a local image",
	Long: `Screen a local image and score its technical, content and emotional
quality with the configured vision provider. Nothing is stored.

Examples:
  photo-curator score IMG_1234.jpg
  VISION_PROVIDER=ollama photo-curator score IMG_1234.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().Bool("json", false, "Output as JSON")
	scoreCmd.Flags().Bool("skip-screen", false, "Score even when the screen rejects the image")
}

// ScoreOutput is the JSON output of the score command.
type ScoreOutput struct {
	File            string   `json:"file"`
	RejectionReason string   `json:"rejection_reason"`
	Screenshot      bool     `json:"screenshot"`
	Technical       *float64 `json:"technical,omitempty"`
	Content         *float64 `json:"content,omitempty"`
	Emotional       *float64 `json:"emotional,omitempty"`
	Total           *float64 `json:"total,omitempty"`
	IsSelfie        bool     `json:"is_selfie"`
	Cost            float64  `json:"cost_usd"`
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	jsonOutput := mustGetBool(cmd, "json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	ctx := logging.With(context.Background(), logging.Default())
	provider, err := newVisionProvider(ctx, cfg, newExecutor(ctx, cfg))
	if err != nil {
		return err
	}

	out := ScoreOutput{File: filepath.Base(args[0])}

	meta, err := exif.Extract(data)
	if err != nil {
		return fmt.Errorf("reading image metadata: %w", err)
	}
	out.Screenshot = meta.IsScreenshot

	screening, err := scoring.NewScreener(provider).Screen(ctx, data)
	if err != nil {
		return err
	}
	out.RejectionReason = screening.RejectionReason

	if screening.Accepted() || mustGetBool(cmd, "skip-screen") {
		photo := &curation.Photo{FileName: out.File}
		if _, err := scoring.NewHighlighter(scoring.NewAnalyzer(provider)).Highlight(ctx, photo, data, nil); err != nil {
			return err
		}
		out.Technical = photo.TechnicalScore
		out.Content = photo.ContentScore
		out.Emotional = photo.EmotionalScore
		out.Total = photo.TotalScore
		out.IsSelfie = photo.IsSelfie

		if !jsonOutput {
			printReasons(photo)
		}
	}
	out.Cost = provider.GetUsage().TotalCost

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("File:       %s\n", out.File)
	fmt.Printf("Screenshot: %v\n", out.Screenshot)
	fmt.Printf("Screen:     %s\n", out.RejectionReason)
	if out.Total != nil {
		fmt.Printf("Technical:  %.2f\n", *out.Technical)
		fmt.Printf("Content:    %.2f\n", *out.Content)
		fmt.Printf("Emotional:  %.2f\n", *out.Emotional)
		fmt.Printf("Total:      %.2f (highlight threshold %.2f)\n", *out.Total, cfg.Curation.HighlightThreshold)
		fmt.Printf("Selfie:     %v\n", out.IsSelfie)
	}
	fmt.Printf("Cost:       $%.4f\n", out.Cost)
	return nil
}

func printReasons(photo *curation.Photo) {
	for _, r := range []struct{ name, reason string }{
		{"technical", photo.TechnicalReason},
		{"content", photo.ContentReason},
		{"emotional", photo.EmotionalReason},
	} {
		if r.reason != "" {
			fmt.Printf("[%s] %s\n", r.name, r.reason)
		}
	}
	fmt.Println()
}
