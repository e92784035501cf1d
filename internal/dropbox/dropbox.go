// Package dropbox is a source.Backend for the Dropbox HTTP API.
package dropbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/kozaktomas/photo-curator/internal/logging"
	"github.com/kozaktomas/photo-curator/internal/retry"
	"github.com/kozaktomas/photo-curator/internal/source"
)

const (
	defaultAPIURL     = "https://api.dropboxapi.com"
	defaultContentURL = "https://content.dropboxapi.com"
	defaultTokenURL   = "https://api.dropbox.com/oauth2/token"

	listPageSize = 2000
	minSpacing   = 200 * time.Millisecond
	// Tokens are refreshed this long before they expire.
	tokenExpiryBuffer = 5 * time.Minute
	hashBlockSize     = 4 << 20
)

var (
	ErrFolderNotFound = errors.New("folder not found")
	ErrHashMismatch   = errors.New("content hash mismatch")
	ErrEmptyFile      = errors.New("empty file received")
)

type Config struct {
	AppKey       string
	AppSecret    string
	AccessToken  string
	RefreshToken string

	// Endpoint overrides, used in tests.
	APIURL     string
	ContentURL string
	TokenURL   string
}

type Client struct {
	http       *http.Client
	apiURL     string
	contentURL string
	limiter    *rate.Limiter
	retry      *retry.Executor
}

// New creates a Dropbox client. With a refresh token, access tokens come from
// the OAuth2 token endpoint and are renewed before they expire; otherwise the
// static access token is used.
func New(ctx context.Context, cfg Config, executor *retry.Executor) (*Client, error) {
	if cfg.RefreshToken == "" && cfg.AccessToken == "" {
		return nil, errors.New("dropbox access token or refresh token is required")
	}
	if executor == nil {
		executor = retry.New(retry.DefaultPolicy())
	}

	var ts oauth2.TokenSource
	if cfg.RefreshToken != "" {
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.AppKey,
			ClientSecret: cfg.AppSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  orDefault(cfg.TokenURL, defaultTokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		// No access token: the first call refreshes, since its expiry is unknown.
		initial := &oauth2.Token{RefreshToken: cfg.RefreshToken}
		ts = oauth2.ReuseTokenSourceWithExpiry(initial, oauthCfg.TokenSource(ctx, initial), tokenExpiryBuffer)
	} else {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
	}

	return &Client{
		http:       oauth2.NewClient(ctx, ts),
		apiURL:     strings.TrimSuffix(orDefault(cfg.APIURL, defaultAPIURL), "/"),
		contentURL: strings.TrimSuffix(orDefault(cfg.ContentURL, defaultContentURL), "/"),
		limiter:    rate.NewLimiter(rate.Every(minSpacing), 1),
		retry:      executor,
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (c *Client) Name() string {
	return "dropbox"
}

type entry struct {
	Tag            string    `json:".tag"`
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	PathDisplay    string    `json:"path_display"`
	ServerModified time.Time `json:"server_modified"`
	Size           int64     `json:"size"`
	ContentHash    string    `json:"content_hash"`
}

type listResponse struct {
	Entries []entry `json:"entries"`
	Cursor  string  `json:"cursor"`
	HasMore bool    `json:"has_more"`
}

// ListByDate pages through folder recursively and keeps image files whose
// server modification time falls on day.
func (c *Client) ListByDate(ctx context.Context, folder string, day time.Time) ([]source.Item, error) {
	logger := logging.From(ctx)

	var items []source.Item
	var page listResponse
	endpoint := "/2/files/list_folder"
	var payload any = map[string]any{
		"path":               folder,
		"recursive":          true,
		"limit":              listPageSize,
		"include_media_info": true,
	}

	for {
		if err := c.rpc(ctx, endpoint, payload, &page); err != nil {
			if errors.Is(err, ErrFolderNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, folder)
			}
			return nil, fmt.Errorf("failed to list %s: %w", folder, err)
		}

		matched := 0
		for _, e := range page.Entries {
			if e.Tag != "file" || !source.IsImage(e.PathLower) {
				continue
			}
			if !source.OnDay(e.ServerModified, day) {
				continue
			}
			items = append(items, source.Item{
				ID:          e.ID,
				Path:        e.PathLower,
				Name:        e.Name,
				Size:        e.Size,
				Modified:    e.ServerModified,
				ContentHash: e.ContentHash,
			})
			matched++
		}
		logger.Debug("listed dropbox page", "folder", folder, "day", day.Format(time.DateOnly), "matched", matched, "total", len(items))

		if !page.HasMore {
			return items, nil
		}
		endpoint = "/2/files/list_folder/continue"
		payload = map[string]string{"cursor": page.Cursor}
		page = listResponse{}
	}
}

// Download fetches the file and verifies it against the listed content hash.
func (c *Client) Download(ctx context.Context, item source.Item) ([]byte, error) {
	data, err := retry.Do(ctx, c.retry, "dropbox download", func(ctx context.Context) ([]byte, error) {
		arg, err := json.Marshal(map[string]string{"path": item.Path})
		if err != nil {
			return nil, retry.Permanent(err)
		}
		resp, err := c.do(ctx, c.contentURL+"/2/files/download", nil, func(req *http.Request) {
			req.Header.Set("Dropbox-API-Arg", string(arg))
		})
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", item.Path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, item.Path)
	}
	if item.ContentHash != "" && ContentHash(data) != item.ContentHash {
		return nil, fmt.Errorf("%w: %s", ErrHashMismatch, item.Path)
	}
	return data, nil
}

// Upload writes data to path in overwrite mode.
func (c *Client) Upload(ctx context.Context, path string, data []byte) error {
	arg, err := json.Marshal(map[string]any{
		"path":            path,
		"mode":            "overwrite",
		"strict_conflict": false,
	})
	if err != nil {
		return err
	}

	err = c.retry.Run(ctx, "dropbox upload", func(ctx context.Context) error {
		resp, err := c.do(ctx, c.contentURL+"/2/files/upload", bytes.NewReader(data), func(req *http.Request) {
			req.Header.Set("Dropbox-API-Arg", string(arg))
			req.Header.Set("Content-Type", "application/octet-stream")
		})
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upload to %s: %w", path, err)
	}
	return nil
}

// rpc posts a JSON body to an API endpoint and decodes the JSON answer.
func (c *Client) rpc(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.retry.Run(ctx, "dropbox "+endpoint, func(ctx context.Context) error {
		resp, err := c.do(ctx, c.apiURL+endpoint, bytes.NewReader(body), func(req *http.Request) {
			req.Header.Set("Content-Type", "application/json")
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("could not decode response: %w", err)
		}
		return nil
	})
}

// do sends one rate limited request. Non-2xx answers are returned as
// classified errors and the body is closed.
func (c *Client) do(ctx context.Context, url string, body io.Reader, prepare func(*http.Request)) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("could not create request: %w", err))
	}
	prepare(req)

	resp, err := c.http.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: token refresh failed: %w", retry.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	msg, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusConflict && strings.Contains(string(msg), "path/not_found") {
		return nil, retry.Permanent(ErrFolderNotFound)
	}
	return nil, retry.HTTPStatusError(resp.StatusCode, resp.Header.Get("Retry-After"), string(msg))
}

// ContentHash computes the Dropbox content hash: SHA-256 over the
// concatenated SHA-256 digests of 4 MiB blocks, hex encoded.
func ContentHash(data []byte) string {
	overall := sha256.New()
	for start := 0; start < len(data); start += hashBlockSize {
		end := min(start+hashBlockSize, len(data))
		block := sha256.Sum256(data[start:end])
		overall.Write(block[:])
	}
	return hex.EncodeToString(overall.Sum(nil))
}
