package curation

import (
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/photo-curator/internal/constants"
)

var (
	// ErrMissingScore is returned when a dimension has not been scored yet.
	ErrMissingScore = errors.New("missing score")
	// ErrScoreOutOfRange is returned for dimensions outside [0, 10].
	ErrScoreOutOfRange = errors.New("score out of range")
)

// SubScores are the three quality dimensions of a photo.
type SubScores struct {
	Technical *float64
	Content   *float64
	Emotional *float64
	IsSelfie  bool
}

// Composite combines the dimensions into one score in [0, 10]. Selfies weigh
// emotional impact higher. A missing dimension is an error, never zero.
func (s SubScores) Composite() (float64, error) {
	technical, err := dimension("technical", s.Technical)
	if err != nil {
		return 0, err
	}
	content, err := dimension("content", s.Content)
	if err != nil {
		return 0, err
	}
	emotional, err := dimension("emotional", s.Emotional)
	if err != nil {
		return 0, err
	}

	if s.IsSelfie {
		return constants.SelfieTechnicalWeight*technical +
			constants.SelfieContentWeight*content +
			constants.SelfieEmotionalWeight*emotional, nil
	}
	return constants.TechnicalWeight*technical +
		constants.ContentWeight*content +
		constants.EmotionalWeight*emotional, nil
}

func dimension(name string, v *float64) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingScore, name)
	}
	if math.IsNaN(*v) || *v < 0 || *v > constants.MaxScore {
		return 0, fmt.Errorf("%w: %s = %v", ErrScoreOutOfRange, name, *v)
	}
	return *v, nil
}
