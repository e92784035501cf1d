package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/kozaktomas/photo-curator/internal/constants"
	"github.com/kozaktomas/photo-curator/internal/retry"
)

const defaultOpenAIModel = openai.ChatModelGPT4_1Mini

type OpenAIProvider struct {
	usageTracker
	client *openai.Client
	model  string
	retry  *retry.Executor
}

// NewOpenAIProvider creates a provider for the OpenAI chat completions API.
// The SDK's own retries are disabled; every call goes through executor.
func NewOpenAIProvider(apiKey, model string, pricing RequestPricing, executor *retry.Executor, opts ...option.RequestOption) *OpenAIProvider {
	if model == "" {
		model = defaultOpenAIModel
	}
	if executor == nil {
		executor = retry.New(retry.DefaultPolicy())
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIProvider{
		usageTracker: usageTracker{pricing: pricing},
		client:       &client,
		model:        model,
		retry:        executor,
	}
}

func (p *OpenAIProvider) Name() string {
	return p.model
}

func (p *OpenAIProvider) AnalyzeImage(ctx context.Context, imageData []byte, prompt string) (*VisionResponse, error) {
	prepared, err := PrepareImage(imageData, constants.MaxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(prepared)

	messages := []openai.ChatCompletionMessageParamUnion{
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
						openai.TextContentPart(prompt),
						openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
							URL:    imageURL,
							Detail: "high",
						}),
					},
				},
			},
		},
	}

	var lastError error
	var lastResponse string

	for range maxParseAttempts {
		content, err := retry.Do(ctx, p.retry, "openai vision", func(ctx context.Context) (string, error) {
			return p.complete(ctx, messages)
		})
		if err != nil {
			return nil, fmt.Errorf("OpenAI API error: %w", err)
		}
		lastResponse = content

		resp, err := parseVisionResponse(content)
		var perr *parseError
		if errors.As(err, &perr) {
			lastError = err
			messages = append(messages,
				openai.ChatCompletionMessageParamUnion{
					OfAssistant: &openai.ChatCompletionAssistantMessageParam{
						Content: openai.ChatCompletionAssistantMessageParamContentUnion{
							OfString: openai.String(content),
						},
					},
				},
				openai.UserMessage(repairMessage(err)),
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

func (p *OpenAIProvider) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		MaxTokens: openai.Int(1000),
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}

	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		p.track(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyOpenAIError maps SDK errors onto retry causes.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	retryAfter := ""
	if apiErr.Response != nil {
		retryAfter = apiErr.Response.Header.Get("Retry-After")
	}
	status := apiErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return fmt.Errorf("%w: %w", retry.HTTPStatusError(status, retryAfter, apiErr.Message), err)
}
