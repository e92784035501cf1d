package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/kozaktomas/photo-curator/internal/constants"
	"github.com/kozaktomas/photo-curator/internal/retry"
)

const defaultGeminiModel = "gemini-2.5-flash"

type GeminiProvider struct {
	usageTracker
	client *genai.Client
	model  string
	retry  *retry.Executor
}

func NewGeminiProvider(ctx context.Context, apiKey, model string, pricing RequestPricing, executor *retry.Executor) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if executor == nil {
		executor = retry.New(retry.DefaultPolicy())
	}

	return &GeminiProvider{
		usageTracker: usageTracker{pricing: pricing},
		client:       client,
		model:        model,
		retry:        executor,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return p.model
}

func (p *GeminiProvider) AnalyzeImage(ctx context.Context, imageData []byte, prompt string) (*VisionResponse, error) {
	prepared, err := PrepareImage(imageData, constants.MaxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{InlineData: &genai.Blob{Data: prepared, MIMEType: "image/jpeg"}},
			},
		},
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	var lastError error
	var lastResponse string

	for range maxParseAttempts {
		content, err := retry.Do(ctx, p.retry, "gemini vision", func(ctx context.Context) (string, error) {
			result, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
			if err != nil {
				return "", classifyGeminiError(err)
			}
			if result.UsageMetadata != nil {
				p.track(int64(result.UsageMetadata.PromptTokenCount), int64(result.UsageMetadata.CandidatesTokenCount))
			}
			text := result.Text()
			if text == "" {
				return "", errors.New("no response from Gemini")
			}
			return text, nil
		})
		if err != nil {
			return nil, fmt.Errorf("gemini API error: %w", err)
		}
		lastResponse = content

		resp, err := parseVisionResponse(content)
		var perr *parseError
		if errors.As(err, &perr) {
			lastError = err
			contents = append(contents,
				&genai.Content{
					Role:  "model",
					Parts: []*genai.Part{{Text: content}},
				},
				&genai.Content{
					Role:  "user",
					Parts: []*genai.Part{{Text: repairMessage(err)}},
				},
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		return resp, nil
	}

	return nil, fmt.Errorf("failed to parse vision JSON after %d attempts: %w (last response: %s)", maxParseAttempts, lastError, lastResponse)
}

// classifyGeminiError maps API error codes onto retry causes.
func classifyGeminiError(err error) error {
	code := 0
	message := err.Error()

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, message = apiErr.Code, apiErr.Message
	case errors.As(err, &apiErrPtr):
		code, message = apiErrPtr.Code, apiErrPtr.Message
	default:
		return err
	}
	if code == 0 {
		code = http.StatusInternalServerError
	}
	return fmt.Errorf("%w: %w", retry.HTTPStatusError(code, "", message), err)
}
