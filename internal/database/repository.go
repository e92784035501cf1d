package database

import (
	"context"
	"time"

	"github.com/kozaktomas/photo-curator/internal/curation"
)

// PhotoReader provides read-only access to photo records
type PhotoReader interface {
	// Get retrieves a photo by id, ErrNotFound when missing
	Get(ctx context.Context, id int64) (*curation.Photo, error)
	// GetBySourceID retrieves a photo by its file-sync identifier, ErrNotFound when missing
	GetBySourceID(ctx context.Context, sourceID string) (*curation.Photo, error)
	// SelectUnprocessedIDs returns ids of photos not yet marked processed
	SelectUnprocessedIDs(ctx context.Context) ([]int64, error)
	// ListProcessedSourceIDs returns the source ids of every processed photo
	ListProcessedSourceIDs(ctx context.Context) ([]string, error)
	// ListByDateRange returns photos taken in [from, to), ordered by capture time
	ListByDateRange(ctx context.Context, from, to time.Time) ([]*curation.Photo, error)
	// FindSimilar returns the nearest photos by embedding cosine distance
	FindSimilar(ctx context.Context, embedding []float32, limit int) ([]SimilarPhoto, error)
	// Count returns the number of stored photos
	Count(ctx context.Context) (int, error)
}

// PhotoRepository provides read and write access to photo records
type PhotoRepository interface {
	PhotoReader

	// Upsert inserts the photo or updates the record with the same SourceID.
	// Derived fields already stored are kept; the stored record is returned.
	Upsert(ctx context.Context, photo *curation.Photo) (*curation.Photo, error)
	// UpdateFields applies a partial update restricted to the field whitelist
	UpdateFields(ctx context.Context, id int64, fields Fields) error
}

// RunRepository records pipeline runs
type RunRepository interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, status string, stats curation.RunStats, runErr error) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
