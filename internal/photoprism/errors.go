package photoprism

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kozaktomas/photo-curator/internal/retry"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// statusError classifies a failed response for the retry executor.
func statusError(resp *http.Response) error {
	body := readErrorBody(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return retry.Permanent(fmt.Errorf("%w: %s", ErrNotFound, body))
	}
	err := retry.HTTPStatusError(resp.StatusCode, resp.Header.Get("Retry-After"), body)
	return fmt.Errorf("request failed with status %d: %w", resp.StatusCode, err)
}

func doWithRetry[T any](ctx context.Context, pp *PhotoPrism, name string, op func(ctx context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, pp.retry, "photoprism "+name, op)
}

// IsNotFoundError returns true if the error indicates a 404 Not Found response.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
