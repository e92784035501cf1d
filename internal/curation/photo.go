// Package curation holds the photo model and the decision engine: composite
// scoring, duplicate clustering and event segmentation.
package curation

import "time"

// Photo is one archived image and every decision made about it.
type Photo struct {
	ID         int64  `json:"id"`
	SourceID   string `json:"source_id"`
	SourcePath string `json:"source_path"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type,omitempty"`
	URL        string `json:"url,omitempty"`
	Size       int64  `json:"size"`

	TakenAt time.Time `json:"taken_at"`

	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Altitude     string   `json:"altitude,omitempty"`
	DeviceMake   string   `json:"device_make,omitempty"`
	DeviceModel  string   `json:"device_model,omitempty"`
	City         string   `json:"city,omitempty"`
	State        string   `json:"state,omitempty"`
	Neighborhood string   `json:"neighborhood,omitempty"`

	TechnicalScore  *float64 `json:"technical_score,omitempty"`
	TechnicalReason string   `json:"technical_reason,omitempty"`
	ContentScore    *float64 `json:"content_score,omitempty"`
	ContentReason   string   `json:"content_reason,omitempty"`
	EmotionalScore  *float64 `json:"emotional_score,omitempty"`
	EmotionalReason string   `json:"emotional_reason,omitempty"`
	TotalScore      *float64 `json:"total_score,omitempty"`
	IsSelfie        bool     `json:"is_selfie"`

	// RejectionReason is empty until the photo is screened; "none" means accepted.
	RejectionReason string `json:"rejection_reason,omitempty"`

	Embedding []float32 `json:"-"`

	IsLesserDuplicate  bool     `json:"is_lesser_duplicate"`
	BetterDuplicateRef string   `json:"better_duplicate_ref,omitempty"`
	IsLesserInEvent    bool     `json:"is_lesser_in_event"`
	BetterEventRefs    []string `json:"better_event_refs,omitempty"`

	IsProcessed bool      `json:"is_processed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Ref identifies the photo in better-duplicate and better-event references:
// the public URL once uploaded, the source id before that.
func (p *Photo) Ref() string {
	if p.URL != "" {
		return p.URL
	}
	return p.SourceID
}

// LocationTag is the location used to match photos into one event.
func (p *Photo) LocationTag() string {
	return p.Neighborhood
}

// HasLocation reports whether GPS coordinates are present.
func (p *Photo) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// SubScores returns the per-dimension scores for aggregation.
func (p *Photo) SubScores() SubScores {
	return SubScores{
		Technical: p.TechnicalScore,
		Content:   p.ContentScore,
		Emotional: p.EmotionalScore,
		IsSelfie:  p.IsSelfie,
	}
}

// IsLesser reports whether either clustering pass demoted the photo.
func (p *Photo) IsLesser() bool {
	return p.IsLesserDuplicate || p.IsLesserInEvent
}

// ClearDecisions resets the four derived fields before a fresh pass.
func (p *Photo) ClearDecisions() {
	p.IsLesserDuplicate = false
	p.BetterDuplicateRef = ""
	p.IsLesserInEvent = false
	p.BetterEventRefs = nil
}

// scoreOrLowest is the ranking key; unscored photos sort last.
func scoreOrLowest(p *Photo) float64 {
	if p.TotalScore == nil {
		return -1
	}
	return *p.TotalScore
}
