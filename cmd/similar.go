package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-curator/internal/config"
	"github.com/kozaktomas/photo-curator/internal/constants"
	"github.com/kozaktomas/photo-curator/internal/database"
)

var similarCmd = &cobra.Command{
	Use:   "similar <photo-id>",
	Short: "Find photos similar to a stored photo",
	Long: `Find the nearest stored photos by image embedding cosine distance.
Lower distance values indicate more similar images. The HNSW index is used
when HNSW_INDEX_PATH is set, PostgreSQL pgvector otherwise.

Examples:
  photo-curator similar 42
  photo-curator similar 42 --limit 5 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)

	similarCmd.Flags().Int("limit", constants.DefaultSimilarLimit, "Maximum number of results")
	similarCmd.Flags().Bool("json", false, "Output as JSON")
}

// SimilarOutput is one row of the similar command's output.
type SimilarOutput struct {
	ID         int64   `json:"id"`
	FileName   string  `json:"file_name"`
	TakenAt    string  `json:"taken_at"`
	URL        string  `json:"url,omitempty"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"` // 1 - distance, for easier interpretation
}

func runSimilar(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid photo id %q", args[0])
	}
	limit := mustGetInt(cmd, "limit")
	if limit <= 0 {
		return errors.New("--limit must be positive")
	}

	ctx, stop := signalContext()
	defer stop()

	pool, photos, _, err := openDatabase(ctx, cfg, cfg.Database.HNSWIndexPath != "")
	if err != nil {
		return err
	}
	defer pool.Close()

	photo, err := photos.Get(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("photo %d not found", id)
	}
	if err != nil {
		return err
	}
	if len(photo.Embedding) == 0 {
		return fmt.Errorf("photo %d has no embedding yet", id)
	}

	hits, err := photos.FindSimilar(ctx, photo.Embedding, limit+1)
	if err != nil {
		return fmt.Errorf("searching similar photos: %w", err)
	}

	results := make([]SimilarOutput, 0, limit)
	for _, hit := range hits {
		if hit.Photo.ID == id || len(results) == limit {
			continue
		}
		results = append(results, SimilarOutput{
			ID:         hit.Photo.ID,
			FileName:   hit.Photo.FileName,
			TakenAt:    hit.Photo.TakenAt.In(cfg.Source.Location()).Format("2006-01-02 15:04:05"),
			URL:        hit.Photo.URL,
			Distance:   hit.Distance,
			Similarity: 1 - hit.Distance,
		})
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No similar photos found")
		return nil
	}

	fmt.Printf("Photos similar to %s (%s):\n\n", photo.FileName, photoLink(cfg, photo.SourceID))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tTAKEN\tDISTANCE\tSIMILARITY")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\t%.1f%%\n", r.ID, r.FileName, r.TakenAt, r.Distance, r.Similarity*100)
	}
	return w.Flush()
}

// photoLink makes PhotoPrism sources clickable in the terminal.
func photoLink(cfg *config.Config, sourceID string) string {
	if cfg.Source.Backend == "photoprism" {
		if link := cfg.PhotoPrism.PhotoURL(sourceID); link != "" {
			return link
		}
	}
	return sourceID
}
