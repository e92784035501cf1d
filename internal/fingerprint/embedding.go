package fingerprint

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/kozaktomas/photo-curator/internal/retry"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	defaultJinaURL      = "https://api.jina.ai"
	defaultJinaModel    = "jina-clip-v2"

	// DefaultDimensions is the embedding length stored per photo.
	DefaultDimensions = 1024
)

// Embedding server flavours.
const (
	ModeLocal = "local" // self-hosted CLIP server, multipart /embed/image
	ModeJina  = "jina"  // Jina-compatible JSON /v1/embeddings
)

// ErrEmptyEmbedding is returned when the server answers without a vector.
var ErrEmptyEmbedding = errors.New("empty embedding returned")

// EmbeddingConfig configures an EmbeddingClient.
type EmbeddingConfig struct {
	Mode       string
	URL        string
	APIKey     string
	Model      string
	Dimensions int
}

// EmbeddingClient computes image embeddings using the embedding server.
type EmbeddingClient struct {
	mode       string
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
	retry      *retry.Executor
}

// NewEmbeddingClient creates a new embedding client.
func NewEmbeddingClient(cfg EmbeddingConfig, executor *retry.Executor) *EmbeddingClient {
	if cfg.Mode == "" {
		cfg.Mode = ModeLocal
	}
	if cfg.URL == "" {
		cfg.URL = defaultEmbeddingURL
		if cfg.Mode == ModeJina {
			cfg.URL = defaultJinaURL
		}
	}
	if cfg.Model == "" {
		cfg.Model = defaultJinaModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if executor == nil {
		executor = retry.New(retry.DefaultPolicy())
	}
	return &EmbeddingClient{
		mode:       cfg.Mode,
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{},
		retry:      executor,
	}
}

// Model returns the model name being used.
func (c *EmbeddingClient) Model() string {
	return c.model
}

// Dimensions returns the expected vector length.
func (c *EmbeddingClient) Dimensions() int {
	return c.dimensions
}

// embeddingResponse represents the response from the local embedding server.
type embeddingResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

type jinaInput struct {
	Image string `json:"image"`
}

type jinaRequest struct {
	Model         string      `json:"model"`
	Dimensions    int         `json:"dimensions"`
	Normalized    bool        `json:"normalized"`
	EmbeddingType string      `json:"embedding_type"`
	Input         []jinaInput `json:"input"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// ComputeEmbedding computes the embedding for an image. The result is
// normalized to unit length and must have the configured dimensionality.
func (c *EmbeddingClient) ComputeEmbedding(ctx context.Context, imageData []byte) ([]float32, error) {
	return retry.Do(ctx, c.retry, "embedding", func(ctx context.Context) ([]float32, error) {
		var (
			vec []float32
			err error
		)
		if c.mode == ModeJina {
			vec, err = c.embedJina(ctx, imageData)
		} else {
			vec, err = c.embedLocal(ctx, imageData)
		}
		if err != nil {
			return nil, err
		}
		if len(vec) == 0 {
			return nil, retry.Permanent(ErrEmptyEmbedding)
		}
		if len(vec) != c.dimensions {
			return nil, retry.Permanent(fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), c.dimensions))
		}
		Normalize(vec)
		return vec, nil
	})
}

func (c *EmbeddingClient) embedLocal(ctx context.Context, imageData []byte) ([]float32, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	body, err := c.post(ctx, "/embed/image", writer.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	return embResp.Embedding, nil
}

func (c *EmbeddingClient) embedJina(ctx context.Context, imageData []byte) ([]float32, error) {
	reqBody, err := json.Marshal(jinaRequest{
		Model:         c.model,
		Dimensions:    c.dimensions,
		Normalized:    true,
		EmbeddingType: "float",
		Input:         []jinaInput{{Image: base64.StdEncoding.EncodeToString(imageData)}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.post(ctx, "/v1/embeddings", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	var jr jinaResponse
	if err := json.Unmarshal(body, &jr); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	if len(jr.Data) == 0 {
		return nil, nil
	}
	return jr.Data[0].Embedding, nil
}

func (c *EmbeddingClient) post(ctx context.Context, endpoint, contentType string, payload io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
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

	return body, nil
}
