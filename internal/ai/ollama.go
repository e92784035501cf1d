package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kozaktomas/photo-curator/internal/constants"
	"github.com/kozaktomas/photo-curator/internal/retry"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2-vision:11b"
)

type OllamaProvider struct {
	usageTracker
	baseURL string
	model   string
	client  *http.Client
	retry   *retry.Executor
}

// NewOllamaProvider creates a provider for a local Ollama server.
func NewOllamaProvider(baseURL, model string, executor *retry.Executor) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	if executor == nil {
		executor = retry.New(retry.DefaultPolicy())
	}
	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
		retry:   executor,
	}
}

func (p *OllamaProvider) Name() string {
	return p.model
}

// ollamaRequest represents a request to the Ollama chat API
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64 encoded images
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

// ollamaResponse represents a response from the Ollama chat API
type ollamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

func (p *OllamaProvider) AnalyzeImage(ctx context.Context, imageData []byte, prompt string) (*VisionResponse, error) {
	prepared, err := PrepareImage(imageData, constants.MaxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	messages := []ollamaMessage{
		{
			Role:    "user",
			Content: prompt,
			Images:  []string{base64.StdEncoding.EncodeToString(prepared)},
		},
	}

	var lastError error
	var lastResponse string

	for range maxParseAttempts {
		resp, err := retry.Do(ctx, p.retry, "ollama vision", func(ctx context.Context) (*ollamaResponse, error) {
			return p.sendRequest(ctx, messages)
		})
		if err != nil {
			return nil, fmt.Errorf("ollama API error: %w", err)
		}

		// Ollama is free, tokens are tracked for stats
		p.track(int64(resp.PromptEvalCount), int64(resp.EvalCount))

		content := resp.Message.Content
		lastResponse = content

		analysis, err := parseVisionResponse(content)
		var perr *parseError
		if errors.As(err, &perr) {
			lastError = err
			messages = append(messages,
				ollamaMessage{Role: "assistant", Content: content},
				ollamaMessage{Role: "user", Content: repairMessage(err)},
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		return analysis, nil
	}

	return nil, fmt.Errorf("failed to parse vision JSON after %d attempts: %w (last response: %s)", maxParseAttempts, lastError, lastResponse)
}

func (p *OllamaProvider) sendRequest(ctx context.Context, messages []ollamaMessage) (*ollamaResponse, error) {
	reqBody := ollamaRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   false,
		Format:   "json",
		Options: ollamaOptions{
			NumPredict: 1000,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, retry.HTTPStatusError(resp.StatusCode, resp.Header.Get("Retry-After"), string(body))
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}

	return &ollamaResp, nil
}
