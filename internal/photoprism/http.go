package photoprism

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
)

// doGetJSON performs a GET request and unmarshals the JSON response into the result type.
// The endpoint should be the path after the base API URL (e.g., "albums/123").
func doGetJSON[T any](ctx context.Context, pp *PhotoPrism, endpoint string) (*T, error) {
	return doRequestJSON[T](ctx, pp, http.MethodGet, endpoint, nil, http.StatusOK)
}

// doPostJSON performs a POST request with a JSON body and unmarshals the JSON response.
func doPostJSON[T any](ctx context.Context, pp *PhotoPrism, endpoint string, requestBody any) (*T, error) {
	return doRequestJSON[T](ctx, pp, http.MethodPost, endpoint, requestBody, http.StatusOK, http.StatusCreated)
}

// doRequestJSON performs a request with an optional JSON body through the
// retry executor. It accepts one or more valid status codes.
func doRequestJSON[T any](ctx context.Context, pp *PhotoPrism, method, endpoint string, requestBody any, expectedStatuses ...int) (*T, error) {
	var payload []byte
	if requestBody != nil {
		var err error
		if payload, err = json.Marshal(requestBody); err != nil {
			return nil, fmt.Errorf("could not marshal request body: %w", err)
		}
	}

	body, err := pp.send(ctx, method, pp.resolveURL(endpoint), "application/json", payload, expectedStatuses)
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	return &result, nil
}

// doRequestRaw performs a request and discards the response body.
func doRequestRaw(ctx context.Context, pp *PhotoPrism, method, endpoint string, requestBody any) error {
	var payload []byte
	if requestBody != nil {
		var err error
		if payload, err = json.Marshal(requestBody); err != nil {
			return fmt.Errorf("could not marshal request body: %w", err)
		}
	}
	_, err := pp.send(ctx, method, pp.resolveURL(endpoint), "application/json", payload, []int{http.StatusOK})
	return err
}

// send issues the request with retries and returns the response body.
func (pp *PhotoPrism) send(ctx context.Context, method, url, contentType string, payload []byte, expected []int) ([]byte, error) {
	return doWithRetry(ctx, pp, method+" "+url, func(ctx context.Context) ([]byte, error) {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("could not create request: %w", err)
		}
		if pp.token != "" {
			req.Header.Set("Authorization", "Bearer "+pp.token)
		}
		if payload != nil {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := pp.http.Do(req) //nolint:gosec // URL constructed from validated parsedURL via resolveURL
		if err != nil {
			return nil, fmt.Errorf("could not send request: %w", err)
		}
		defer resp.Body.Close()

		if !isExpectedStatus(resp.StatusCode, expected) {
			return nil, statusError(resp)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("could not read response body: %w", err)
		}
		return body, nil
	})
}

// isExpectedStatus checks if a status code is in the list of expected statuses.
func isExpectedStatus(code int, expected []int) bool {
	return slices.Contains(expected, code)
}
