// Package pipeline drives the curation run: it lists each calendar day of a
// date range from the file-sync backend, enriches every photo, clusters the
// day's batch and uploads the highlights.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/photo-curator/internal/constants"
	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/database"
	"github.com/kozaktomas/photo-curator/internal/geocode"
	"github.com/kozaktomas/photo-curator/internal/logging"
	"github.com/kozaktomas/photo-curator/internal/scheduler"
	"github.com/kozaktomas/photo-curator/internal/scoring"
	"github.com/kozaktomas/photo-curator/internal/source"
	"github.com/kozaktomas/photo-curator/internal/storage"
)

// RunStats counts what a run did.
type RunStats = curation.RunStats

// Run kinds recorded in the runs table.
const (
	KindRun       = "run"
	KindRecluster = "recluster"
)

// Screener decides whether an image belongs in the archive.
type Screener interface {
	Screen(ctx context.Context, image []byte) (*scoring.Screening, error)
}

// Highlighter fills the missing sub-scores and the composite score of a photo.
type Highlighter interface {
	Highlight(ctx context.Context, photo *curation.Photo, image []byte, record scoring.ScoreRecorder) (float64, error)
}

// Geocoder resolves coordinates into place names.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (*geocode.Location, error)
}

// Embedder computes image embeddings.
type Embedder interface {
	ComputeEmbedding(ctx context.Context, image []byte) ([]float32, error)
}

// Deps are the collaborators of a Driver. Runs, Geocoder and Embedder are
// optional; Recluster only needs Photos.
type Deps struct {
	Source      source.Backend
	Photos      database.PhotoRepository
	Runs        database.RunRepository
	Screener    Screener
	Highlighter Highlighter
	Geocoder    Geocoder
	Embedder    Embedder
	Store       storage.ObjectStore
	Logger      *slog.Logger
}

// Options tune a Driver. Zero values fall back to the defaults in constants.
type Options struct {
	Folder           string
	HighlightsFolder string
	// Location cuts calendar days; UTC when nil.
	Location *time.Location

	DateConcurrency   int
	DateDelayFloor    time.Duration
	DateDelayCeiling  time.Duration
	ImageConcurrency  int
	ImageDelayFloor   time.Duration
	ImageDelayCeiling time.Duration

	HighlightThreshold float64
	Duplicates         *curation.DuplicateClusterer
	Events             *curation.EventSegmenter

	// DryRun skips every upload and does not persist clustering decisions or
	// the processed flag.
	DryRun bool
	// RunID is used for the runs record instead of a fresh UUID.
	RunID string

	// SchedulerOptions are appended to both schedulers, e.g. to inject a sleep in tests.
	SchedulerOptions []scheduler.Option
	// OnItem is called after each listed item has been handled.
	OnItem func()
}

// Driver runs the pipeline.
type Driver struct {
	deps   Deps
	opts   Options
	log    *slog.Logger
	dates  *scheduler.Scheduler
	images *scheduler.Scheduler

	mu        sync.Mutex
	processed map[string]struct{}
}

// New creates a driver.
func New(deps Deps, opts Options) *Driver {
	if opts.Folder == "" {
		opts.Folder = "/Camera Uploads"
	}
	if opts.HighlightsFolder == "" {
		opts.HighlightsFolder = "/Highlights"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DateConcurrency <= 0 {
		opts.DateConcurrency = constants.DateConcurrency
		opts.DateDelayFloor, opts.DateDelayCeiling = constants.DateDelayFloor, constants.DateDelayCeiling
	}
	if opts.ImageConcurrency <= 0 {
		opts.ImageConcurrency = constants.ImageConcurrency
		opts.ImageDelayFloor, opts.ImageDelayCeiling = constants.ImageDelayFloor, constants.ImageDelayCeiling
	}
	if opts.HighlightThreshold == 0 {
		opts.HighlightThreshold = constants.HighlightThreshold
	}
	if opts.Duplicates == nil {
		opts.Duplicates = curation.NewDuplicateClusterer()
	}
	if opts.Events == nil {
		opts.Events = curation.NewEventSegmenter()
	}

	log := deps.Logger
	if log == nil {
		log = logging.Default()
	}

	dateOpts := append([]scheduler.Option{
		scheduler.WithConcurrency(opts.DateConcurrency),
		scheduler.WithDelay(opts.DateDelayFloor, opts.DateDelayCeiling),
		scheduler.WithLogger(log),
	}, opts.SchedulerOptions...)
	imageOpts := append([]scheduler.Option{
		scheduler.WithConcurrency(opts.ImageConcurrency),
		scheduler.WithDelay(opts.ImageDelayFloor, opts.ImageDelayCeiling),
		scheduler.WithLogger(log),
	}, opts.SchedulerOptions...)

	return &Driver{
		deps:   deps,
		opts:   opts,
		log:    log,
		dates:  scheduler.New("dates", dateOpts...),
		images: scheduler.New("images", imageOpts...),
	}
}

// Snapshot returns the status of every date and image task submitted so far.
func (d *Driver) Snapshot() []scheduler.TaskInfo {
	return append(d.dates.Snapshot(), d.images.Snapshot()...)
}

// Days returns the calendar days from through to, both included.
func Days(from, to time.Time, loc *time.Location) []time.Time {
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)

	var days []time.Time
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}

// Run processes every day from through to and records the run.
func (d *Driver) Run(ctx context.Context, from, to time.Time) (*RunStats, error) {
	return d.record(ctx, KindRun, from, to, d.run)
}

func (d *Driver) run(ctx context.Context, from, to time.Time) (*RunStats, error) {
	if err := d.loadProcessed(ctx); err != nil {
		return &RunStats{}, err
	}

	var mu sync.Mutex
	total := &RunStats{}

	for _, day := range Days(from, to, d.opts.Location) {
		_, err := d.dates.Submit(ctx, "date "+day.Format(time.DateOnly), func(ctx context.Context) error {
			stats, err := d.ProcessDate(ctx, day)
			mu.Lock()
			total.Add(*stats)
			mu.Unlock()
			return err
		})
		if err != nil {
			return total, err
		}
	}

	err := d.dates.Drain(ctx)
	d.log.Info("run finished",
		"listed", total.Listed,
		"processed", total.Processed,
		"uploaded", total.Uploaded,
		"failed", total.Failed,
	)
	return total, err
}

// record wraps fn with a runs row when a run repository is configured.
func (d *Driver) record(ctx context.Context, kind string, from, to time.Time, fn func(context.Context, time.Time, time.Time) (*RunStats, error)) (*RunStats, error) {
	id := d.opts.RunID
	if id == "" {
		id = uuid.NewString()
	}
	ctx = logging.With(ctx, d.log.With("run_id", id))

	if d.deps.Runs != nil {
		if err := d.deps.Runs.CreateRun(ctx, &database.Run{ID: id, Kind: kind, From: from, To: to}); err != nil {
			return nil, fmt.Errorf("recording run: %w", err)
		}
	}

	stats, runErr := fn(ctx, from, to)
	if stats == nil {
		stats = &RunStats{}
	}

	if d.deps.Runs != nil {
		status := database.RunFinished
		if runErr != nil {
			status = database.RunFailed
		}
		// The run context may already be cancelled.
		finishCtx := context.WithoutCancel(ctx)
		if err := d.deps.Runs.FinishRun(finishCtx, id, status, *stats, runErr); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("finishing run: %w", err))
		}
	}
	return stats, runErr
}

func (d *Driver) loadProcessed(ctx context.Context) error {
	ids, err := d.deps.Photos.ListProcessedSourceIDs(ctx)
	if err != nil {
		return fmt.Errorf("loading processed photos: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.processed = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		d.processed[id] = struct{}{}
	}
	d.log.Info("found existing photos", "processed", len(ids))
	return nil
}

func (d *Driver) isProcessed(sourceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.processed[sourceID]
	return ok
}

func (d *Driver) markProcessed(sourceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.processed == nil {
		d.processed = make(map[string]struct{})
	}
	d.processed[sourceID] = struct{}{}
}
