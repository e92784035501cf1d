package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/photo-curator/internal/database/mock"
	"github.com/kozaktomas/photo-curator/internal/logging"
	"github.com/kozaktomas/photo-curator/internal/pipeline"
	"github.com/kozaktomas/photo-curator/internal/scheduler"
	"github.com/kozaktomas/photo-curator/internal/source"
)

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

// waitJob blocks until the job finishes or the test times out.
func waitJob(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
}

// blockingSource lists nothing until the run context is cancelled.
type blockingSource struct{}

func (blockingSource) Name() string { return "blocking" }

func (blockingSource) ListByDate(ctx context.Context, folder string, day time.Time) ([]source.Item, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingSource) Download(ctx context.Context, item source.Item) ([]byte, error) {
	return nil, nil
}

func (blockingSource) Upload(ctx context.Context, path string, data []byte) error {
	return nil
}

// testRunner builds drivers over in-memory repositories.
func testRunner(photos *mock.MockPhotoRepository, runs *mock.MockRunRepository, src source.Backend) Runner {
	noSleep := func(ctx context.Context, d time.Duration) error { return nil }
	return func(runID string, req RunRequest) (*pipeline.Driver, error) {
		return pipeline.New(pipeline.Deps{
			Source: src,
			Photos: photos,
			Runs:   runs,
			Logger: logging.Discard(),
		}, pipeline.Options{
			RunID:            runID,
			DryRun:           req.DryRun,
			SchedulerOptions: []scheduler.Option{scheduler.WithSleep(noSleep)},
		}), nil
	}
}
