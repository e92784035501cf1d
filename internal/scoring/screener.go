package scoring

import (
	"context"
	"fmt"

	"github.com/kozaktomas/photo-curator/internal/ai"
	"github.com/kozaktomas/photo-curator/internal/constants"
)

// rejectionUnacceptable is used when the model rejects without naming a reason.
const rejectionUnacceptable = "unacceptable"

// Screening is the outcome of the content and quality screen.
type Screening struct {
	// RejectionReason is "none" for accepted images.
	RejectionReason string
	QualityIssue    string
}

// Accepted reports whether the image passed.
func (s Screening) Accepted() bool {
	return s.RejectionReason == constants.RejectionNone
}

// Screener rejects images that do not belong in the archive.
type Screener struct {
	provider ai.Provider
}

// NewScreener creates a screener backed by provider.
func NewScreener(provider ai.Provider) *Screener {
	return &Screener{provider: provider}
}

// Screen asks the vision model whether the image is acceptable.
func (s *Screener) Screen(ctx context.Context, image []byte) (*Screening, error) {
	resp, err := s.provider.AnalyzeImage(ctx, image, ai.ScreenPrompt)
	if err != nil {
		return nil, fmt.Errorf("screening: %w", err)
	}

	result := &Screening{RejectionReason: constants.RejectionNone, QualityIssue: resp.QualityIssue}
	switch {
	case resp.RejectionReason != nil && *resp.RejectionReason != "" && *resp.RejectionReason != constants.RejectionNone:
		result.RejectionReason = *resp.RejectionReason
	case resp.IsAcceptable != nil && !*resp.IsAcceptable:
		result.RejectionReason = rejectionUnacceptable
	}
	return result, nil
}
