package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/photo-curator/internal/database"
	"github.com/kozaktomas/photo-curator/internal/pipeline"
)

const defaultRunListLimit = 50

// Runner builds the driver for a run started over the API.
type Runner func(runID string, req RunRequest) (*pipeline.Driver, error)

// RunRequest starts a run or a recluster over a date range.
type RunRequest struct {
	Kind   string `json:"kind"`
	From   string `json:"from"`
	To     string `json:"to"`
	DryRun bool   `json:"dry_run"`
}

// RunsResponse lists in-flight jobs and recorded runs.
type RunsResponse struct {
	Active  []JobView      `json:"active"`
	History []database.Run `json:"history"`
}

// RunsHandler handles run endpoints.
type RunsHandler struct {
	runs     database.RunRepository
	jobs     *JobManager
	runner   Runner
	location *time.Location
	log      *slog.Logger
}

// NewRunsHandler creates a runs handler. runs may be nil when no database is
// configured; only in-memory jobs are reported then.
func NewRunsHandler(runs database.RunRepository, jobs *JobManager, runner Runner, loc *time.Location, log *slog.Logger) *RunsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &RunsHandler{runs: runs, jobs: jobs, runner: runner, location: loc, log: log}
}

// List returns the active jobs and the most recent recorded runs.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", defaultRunListLimit)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	resp := RunsResponse{Active: []JobView{}, History: []database.Run{}}
	for _, job := range h.jobs.ListJobs() {
		if !isJobTerminal(job.GetStatus()) {
			resp.Active = append(resp.Active, job.View(false))
		}
	}

	if h.runs != nil {
		history, err := h.runs.ListRuns(r.Context(), limit)
		if err != nil {
			h.log.Error("listing runs failed", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to list runs")
			return
		}
		resp.History = append(resp.History, history...)
	}

	respondJSON(w, http.StatusOK, resp)
}

// Start validates the request and launches the run in the background.
func (h *RunsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Kind == "" {
		req.Kind = pipeline.KindRun
	}
	if req.Kind != pipeline.KindRun && req.Kind != pipeline.KindRecluster {
		respondError(w, http.StatusBadRequest, "kind must be run or recluster")
		return
	}

	from, err := time.ParseInLocation(time.DateOnly, req.From, h.location)
	if err != nil {
		respondError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	to := from
	if req.To != "" {
		if to, err = time.ParseInLocation(time.DateOnly, req.To, h.location); err != nil {
			respondError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
	}
	if to.Before(from) {
		respondError(w, http.StatusBadRequest, "to is before from")
		return
	}
	req.To = to.Format(time.DateOnly)

	if active := h.jobs.Active(); active != nil {
		respondJSON(w, http.StatusConflict, map[string]string{
			"error": "a run is already in progress",
			"id":    active.ID,
		})
		return
	}

	id := uuid.NewString()
	driver, err := h.runner(id, req)
	if err != nil {
		h.log.Error("creating driver failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	job := &Job{ID: id, Kind: req.Kind, From: req.From, To: req.To, DryRun: req.DryRun}
	if active := h.jobs.Start(job, driver, from, to); active != nil {
		respondJSON(w, http.StatusConflict, map[string]string{
			"error": "a run is already in progress",
			"id":    active.ID,
		})
		return
	}
	h.log.Info("run started", "run_id", id, "kind", req.Kind, "from", sanitizeForLog(req.From), "to", req.To)

	respondJSON(w, http.StatusAccepted, job.View(false))
}

// Get returns a job with its task table, or the recorded run.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if job := h.jobs.GetJob(id); job != nil {
		respondJSON(w, http.StatusOK, job.View(true))
		return
	}

	if h.runs == nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	run, err := h.runs.GetRun(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.log.Error("loading run failed", "run_id", sanitizeForLog(id), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// Cancel stops a running job.
func (h *RunsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.GetJob(chi.URLParam(r, "id"))
	if job == nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if isJobTerminal(job.GetStatus()) {
		respondError(w, http.StatusConflict, "run already finished")
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "status": "cancelling"})
}

// Events streams the job state as server-sent events until it finishes.
func (h *RunsHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamJob(w, r, h.jobs.GetJob, eventInterval)
}
