// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Composite score weights
const (
	// Non-selfie photos weigh technical quality and emotional impact equally.
	TechnicalWeight = 0.35
	ContentWeight   = 0.30
	EmotionalWeight = 0.35

	// Selfies lean on emotional impact.
	SelfieTechnicalWeight = 0.15
	SelfieContentWeight   = 0.30
	SelfieEmotionalWeight = 0.55

	// MaxScore is the upper bound of every score dimension
	MaxScore = 10.0
)

// Duplicate detection constants
const (
	// DuplicateWindow is how far after an anchor photo candidates are considered
	DuplicateWindow = 10 * time.Minute

	// DuplicateCloseGap is the time delta under which the relaxed threshold applies
	DuplicateCloseGap = 12 * time.Second

	// DuplicateCloseThreshold is the minimum cosine similarity for photos taken within DuplicateCloseGap
	DuplicateCloseThreshold = 0.85

	// DuplicateThreshold is the minimum cosine similarity otherwise
	DuplicateThreshold = 0.885
)

// Event segmentation constants
const (
	// EventMaxGap is the maximum time between consecutive photos of one burst
	EventMaxGap = 30 * time.Minute

	// EventKeepScore exempts photos from event demotion
	EventKeepScore = 7.9
)

// Pipeline constants
const (
	// HighlightThreshold is the minimum composite score for a highlight upload
	HighlightThreshold = 6.91

	// DateConcurrency is the default number of dates processed in parallel
	DateConcurrency = 3
	// DateDelayFloor and DateDelayCeiling bound pacing between dates
	DateDelayFloor   = 0
	DateDelayCeiling = time.Second

	// ImageConcurrency is the default number of photos processed in parallel per date
	ImageConcurrency = 10
	// ImageDelayFloor and ImageDelayCeiling bound pacing between photos
	ImageDelayFloor   = 300 * time.Millisecond
	ImageDelayCeiling = 500 * time.Millisecond

	// MaxImageSize is the maximum dimension (width or height) sent to vision models
	MaxImageSize = 1024

	// DefaultSimilarLimit is the default number of results for similar-photo queries
	DefaultSimilarLimit = 20
)

// Rejection reasons
const (
	// RejectionNone marks a screened and accepted photo
	RejectionNone = "none"

	// RejectionScreenshot marks a photo rejected by the EXIF screenshot heuristic
	RejectionScreenshot = "screenshot"
)
