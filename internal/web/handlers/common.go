package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a JSON request body; an empty body leaves target untouched.
func decodeJSON(r *http.Request, target any) error {
	err := json.NewDecoder(r.Body).Decode(target)
	if err == io.EOF {
		return nil
	}
	return err
}

// queryInt parses a positive integer query parameter.
func queryInt(r *http.Request, name string, defaultVal int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal, true
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
