package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const eventInterval = time.Second

// setupSSEConnection finds the job and sets up SSE headers. On failure it
// writes an error response and returns false.
func setupSSEConnection(w http.ResponseWriter, r *http.Request, lookupJob func(string) *Job) (*Job, http.Flusher, bool) {
	job := lookupJob(chi.URLParam(r, "id"))
	if job == nil {
		respondError(w, http.StatusNotFound, "run not found")
		return nil, nil, false
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return job, flusher, true
}

// streamJob sends a "status" event every interval and a final "done" event
// once the job reaches a terminal state or the client disconnects.
func streamJob(w http.ResponseWriter, r *http.Request, lookupJob func(string) *Job, interval time.Duration) {
	job, flusher, ok := setupSSEConnection(w, r, lookupJob)
	if !ok {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sendSSEEvent(w, flusher, "status", job.View(false))
	for {
		select {
		case <-r.Context().Done():
			return
		case <-job.Done():
			sendSSEEvent(w, flusher, "done", job.View(false))
			return
		case <-ticker.C:
			sendSSEEvent(w, flusher, "status", job.View(false))
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = w.Write(jsonData)
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
