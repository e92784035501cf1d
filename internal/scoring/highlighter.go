package scoring

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/logging"
)

// ScoreRecorder persists a dimension score as soon as it is known, so a
// later failure does not throw away the finished dimensions.
type ScoreRecorder func(ctx context.Context, photo *curation.Photo, result *Result) error

// Highlighter scores the three dimensions of a photo concurrently and
// aggregates them into the composite score.
type Highlighter struct {
	analyzer *Analyzer
}

// NewHighlighter creates a highlighter.
func NewHighlighter(analyzer *Analyzer) *Highlighter {
	return &Highlighter{analyzer: analyzer}
}

// Highlight fills the missing sub-scores of photo and sets TotalScore.
// Dimensions already present on the photo are reused, not re-scored.
func (h *Highlighter) Highlight(ctx context.Context, photo *curation.Photo, image []byte, record ScoreRecorder) (float64, error) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	run := func(dim Dimension) {
		g.Go(func() error {
			result, err := h.analyzer.Analyze(gctx, dim, image)
			if err != nil {
				return err
			}

			mu.Lock()
			apply(photo, result)
			mu.Unlock()

			if record != nil {
				if err := record(gctx, photo, result); err != nil {
					return fmt.Errorf("persisting %s score: %w", dim, err)
				}
			}
			return nil
		})
	}

	if photo.TechnicalScore == nil {
		run(Technical)
	}
	if photo.ContentScore == nil {
		run(Content)
	}
	if photo.EmotionalScore == nil {
		run(Emotional)
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	total, err := photo.SubScores().Composite()
	if err != nil {
		return 0, err
	}
	photo.TotalScore = &total

	logging.From(ctx).Debug("photo highlighted",
		"source_id", photo.SourceID,
		"total", total,
		"technical", *photo.TechnicalScore,
		"content", *photo.ContentScore,
		"emotional", *photo.EmotionalScore,
		"selfie", photo.IsSelfie,
	)
	return total, nil
}

func apply(photo *curation.Photo, result *Result) {
	score := result.Score
	switch result.Dimension {
	case Technical:
		photo.TechnicalScore = &score
		photo.TechnicalReason = result.Reasoning
	case Content:
		photo.ContentScore = &score
		photo.ContentReason = result.Reasoning
		photo.IsSelfie = result.IsSelfie
	case Emotional:
		photo.EmotionalScore = &score
		photo.EmotionalReason = result.Reasoning
	}
}
