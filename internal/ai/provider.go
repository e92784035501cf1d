package ai

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

//go:embed prompts/technical.txt
var TechnicalPrompt string

//go:embed prompts/content.txt
var ContentPrompt string

//go:embed prompts/emotional.txt
var EmotionalPrompt string

//go:embed prompts/screen.txt
var ScreenPrompt string

// maxParseAttempts bounds the conversation repair loop for invalid JSON.
const maxParseAttempts = 3

// ErrMalformedResponse is returned when the model answers with valid JSON
// that does not match the expected shape, e.g. a non-numeric score.
var ErrMalformedResponse = errors.New("malformed vision response")

// Provider defines the interface for vision scoring backends.
type Provider interface {
	Name() string
	// AnalyzeImage sends the image with an instruction prompt and returns the
	// parsed JSON answer.
	AnalyzeImage(ctx context.Context, imageData []byte, prompt string) (*VisionResponse, error)

	// Usage tracking.
	GetUsage() Usage
	ResetUsage()
}

// VisionResponse is the answer of a vision model to one of the prompts.
type VisionResponse struct {
	Scores    map[string]float64
	Reasoning string

	HasPeople    bool
	IsSelfie     bool
	IsGroupShot  bool
	IsPeopleMain bool
	IsHumorous   bool

	// Screening answers; nil when the prompt did not ask for them.
	IsAcceptable    *bool
	RejectionReason *string
	QualityIssue    string
}

// Score returns a named sub-score, failing when the model omitted it.
func (r *VisionResponse) Score(name string) (float64, error) {
	v, ok := r.Scores[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing score %q", ErrMalformedResponse, name)
	}
	return v, nil
}

type rawVisionResponse struct {
	Scores          map[string]json.RawMessage `json:"scores"`
	Reasoning       string                     `json:"reasoning"`
	HasPeople       bool                       `json:"hasPeople"`
	IsSelfie        bool                       `json:"isSelfie"`
	IsGroupShot     bool                       `json:"isGroupShot"`
	IsPeopleMain    bool                       `json:"isPeopleMain"`
	IsHumorous      bool                       `json:"isHumorous"`
	IsAcceptable    *bool                      `json:"isAcceptable"`
	RejectionReason *string                    `json:"rejectionReason"`
	QualityIssue    string                     `json:"qualityIssue"`
}

// parseError is a JSON syntax problem the model may fix when told about it.
type parseError struct {
	err error
}

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// parseVisionResponse decodes a model answer. Syntax errors come back as
// *parseError so callers can ask the model to repair its output; shape errors
// wrap ErrMalformedResponse and are final.
func parseVisionResponse(content string) (*VisionResponse, error) {
	var raw rawVisionResponse
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return nil, &parseError{err: err}
	}

	resp := &VisionResponse{
		Scores:          make(map[string]float64, len(raw.Scores)),
		Reasoning:       raw.Reasoning,
		HasPeople:       raw.HasPeople,
		IsSelfie:        raw.IsSelfie,
		IsGroupShot:     raw.IsGroupShot,
		IsPeopleMain:    raw.IsPeopleMain,
		IsHumorous:      raw.IsHumorous,
		IsAcceptable:    raw.IsAcceptable,
		RejectionReason: raw.RejectionReason,
		QualityIssue:    raw.QualityIssue,
	}
	for name, value := range raw.Scores {
		var v float64
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, fmt.Errorf("%w: score %q is not a number: %s", ErrMalformedResponse, name, string(value))
		}
		if v < 0 || v > 10 {
			return nil, fmt.Errorf("%w: score %q out of range: %v", ErrMalformedResponse, name, v)
		}
		resp.Scores[name] = v
	}
	return resp, nil
}

// repairMessage is sent back to the model after it produced invalid JSON.
func repairMessage(err error) string {
	return fmt.Sprintf("JSON parse error: %v. Please fix the JSON and try again. Remember to escape quotes inside strings with backslash. Output ONLY valid JSON, no other text.", err)
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}

	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	return content[start:]
}

// Usage tracks token usage and calculates cost.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalCost    float64 // in USD
}

// RequestPricing holds input/output prices per 1M tokens
type RequestPricing struct {
	Input  float64
	Output float64
}

// usageTracker is shared by providers; scoring runs concurrently.
type usageTracker struct {
	mu      sync.Mutex
	usage   Usage
	pricing RequestPricing
}

func (t *usageTracker) track(inputTokens, outputTokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.InputTokens += int(inputTokens)
	t.usage.OutputTokens += int(outputTokens)
	t.usage.TotalCost += float64(inputTokens) / 1_000_000 * t.pricing.Input
	t.usage.TotalCost += float64(outputTokens) / 1_000_000 * t.pricing.Output
}

func (t *usageTracker) GetUsage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

func (t *usageTracker) ResetUsage() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = Usage{}
}
