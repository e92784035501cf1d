// Package scoring turns vision model answers into per-dimension photo scores.
package scoring

import (
	"context"
	"fmt"

	"github.com/kozaktomas/photo-curator/internal/ai"
	"github.com/kozaktomas/photo-curator/internal/constants"
)

// Dimension names a quality dimension.
type Dimension string

const (
	Technical Dimension = "technical"
	Content   Dimension = "content"
	Emotional Dimension = "emotional"
)

// Result is the score of one dimension.
type Result struct {
	Dimension Dimension
	Score     float64
	Reasoning string
	// IsSelfie is only reported by the content dimension.
	IsSelfie bool
}

type weightedScore struct {
	name   string
	weight float64
}

var (
	technicalWeights = []weightedScore{{"clarity", 0.35}, {"lighting", 0.25}, {"composition", 0.25}, {"color", 0.15}}
	contentWeights   = []weightedScore{{"subjectClarity", 0.30}, {"composition", 0.30}, {"interest", 0.20}, {"scene", 0.20}}
	emotionalWeights = []weightedScore{{"atmosphere", 0.30}, {"connection", 0.25}, {"impact", 0.25}, {"poetry", 0.20}}
)

// Boost multipliers for photos of people.
const (
	peopleMainGroupBoost = 1.5
	selfieGroupBoost     = 1.35
	peopleBoost          = 1.2
	humorBoost           = 1.2
)

// Analyzer scores images through a vision provider.
type Analyzer struct {
	provider ai.Provider
}

// NewAnalyzer creates an analyzer backed by provider.
func NewAnalyzer(provider ai.Provider) *Analyzer {
	return &Analyzer{provider: provider}
}

// Analyze scores one dimension of the image.
func (a *Analyzer) Analyze(ctx context.Context, dim Dimension, image []byte) (*Result, error) {
	var prompt string
	switch dim {
	case Technical:
		prompt = ai.TechnicalPrompt
	case Content:
		prompt = ai.ContentPrompt
	case Emotional:
		prompt = ai.EmotionalPrompt
	default:
		return nil, fmt.Errorf("unknown dimension %q", dim)
	}

	resp, err := a.provider.AnalyzeImage(ctx, image, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s analysis: %w", dim, err)
	}

	var result *Result
	switch dim {
	case Technical:
		result, err = technicalResult(resp)
	case Content:
		result, err = contentResult(resp)
	default:
		result, err = emotionalResult(resp)
	}
	if err != nil {
		return nil, fmt.Errorf("%s analysis: %w", dim, err)
	}
	return result, nil
}

func weightedSum(resp *ai.VisionResponse, weights []weightedScore) (float64, error) {
	var total float64
	for _, w := range weights {
		v, err := resp.Score(w.name)
		if err != nil {
			return 0, err
		}
		total += v * w.weight
	}
	return total, nil
}

func technicalResult(resp *ai.VisionResponse) (*Result, error) {
	score, err := weightedSum(resp, technicalWeights)
	if err != nil {
		return nil, err
	}
	return &Result{Dimension: Technical, Score: score, Reasoning: resp.Reasoning}, nil
}

// contentResult boosts well-framed photos of people, group shots the most.
func contentResult(resp *ai.VisionResponse) (*Result, error) {
	score, err := weightedSum(resp, contentWeights)
	if err != nil {
		return nil, err
	}
	reasoning := resp.Reasoning

	if resp.HasPeople && resp.Scores["subjectClarity"] >= 6 && resp.Scores["composition"] >= 5 {
		if (resp.IsSelfie || resp.IsPeopleMain) && resp.IsGroupShot {
			boost := selfieGroupBoost
			if resp.IsPeopleMain {
				boost = peopleMainGroupBoost
			}
			reasoning += fmt.Sprintf(" (Group bonus applied: %gx)", boost)
			score = min(score*boost, constants.MaxScore)
		} else {
			score = min(score*peopleBoost, constants.MaxScore)
		}
	}

	return &Result{Dimension: Content, Score: score, Reasoning: reasoning, IsSelfie: resp.IsSelfie}, nil
}

func emotionalResult(resp *ai.VisionResponse) (*Result, error) {
	score, err := weightedSum(resp, emotionalWeights)
	if err != nil {
		return nil, err
	}
	reasoning := resp.Reasoning
	if resp.IsHumorous {
		score = min(score*humorBoost, constants.MaxScore)
		reasoning += " (Bonus applied for humorous content)"
	}
	return &Result{Dimension: Emotional, Score: score, Reasoning: reasoning}, nil
}
