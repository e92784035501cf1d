package database

import (
	"time"

	"github.com/kozaktomas/photo-curator/internal/curation"
)

// Run statuses.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// Run is one recorded pipeline run.
type Run struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"` // run or recluster
	From       time.Time         `json:"from"`
	To         time.Time         `json:"to"`
	Status     string            `json:"status"`
	Error      string            `json:"error,omitempty"`
	Stats      curation.RunStats `json:"stats"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// SimilarPhoto is a search hit with its cosine distance to the query.
type SimilarPhoto struct {
	Photo    *curation.Photo `json:"photo"`
	Distance float64         `json:"distance"`
}
