package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireToken(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"valid", "secret", "Bearer secret", http.StatusOK},
		{"missing", "secret", "", http.StatusUnauthorized},
		{"wrong", "secret", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "secret", "Basic secret", http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/runs", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			recorder := httptest.NewRecorder()

			RequireToken(tc.token)(okHandler).ServeHTTP(recorder, req)

			if recorder.Code != tc.want {
				t.Errorf("expected status %d, got %d", tc.want, recorder.Code)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://photos.example.com"})(okHandler)

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://photos.example.com", true},
		{"http://localhost:5173", true},
		{"http://localhost", true},
		{"http://localhost.evil.com", false},
		{"https://other.example.com", false},
		{"", false},
	}

	for _, tc := range tests {
		req := httptest.NewRequest("GET", "/api/v1/health", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)

		got := recorder.Header().Get("Access-Control-Allow-Origin")
		if tc.allowed && got != tc.origin {
			t.Errorf("%q: expected origin echoed, got %q", tc.origin, got)
		}
		if !tc.allowed && got != "" {
			t.Errorf("%q: expected no CORS header, got %q", tc.origin, got)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	handler := CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil))

	if recorder.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", recorder.Code)
	}
	if called {
		t.Error("preflight must not reach the handler")
	}
}

func TestSecurityHeaders(t *testing.T) {
	recorder := httptest.NewRecorder()
	SecurityHeaders()(okHandler).ServeHTTP(recorder, httptest.NewRequest("GET", "/", nil))

	if recorder.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected nosniff header")
	}
}
