package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/kozaktomas/photo-curator/internal/constants"
	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/database"
	"github.com/kozaktomas/photo-curator/internal/exif"
	"github.com/kozaktomas/photo-curator/internal/geocode"
	"github.com/kozaktomas/photo-curator/internal/logging"
	"github.com/kozaktomas/photo-curator/internal/render"
	"github.com/kozaktomas/photo-curator/internal/scheduler"
	"github.com/kozaktomas/photo-curator/internal/scoring"
	"github.com/kozaktomas/photo-curator/internal/source"
	"github.com/kozaktomas/photo-curator/internal/storage"
)

// entry is a photo that made it into the day's batch, with its bytes kept
// for the highlight overlay.
type entry struct {
	photo *curation.Photo
	data  []byte
}

// datePass collects the batch and counters of one day.
type datePass struct {
	mu      sync.Mutex
	stats   RunStats
	entries []entry
}

func (p *datePass) count(fn func(s *RunStats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.stats)
}

func (p *datePass) add(e entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
}

// ProcessDate runs the pipeline for one calendar day. A listing or
// clustering failure fails the day; per-photo failures are only counted.
func (d *Driver) ProcessDate(ctx context.Context, day time.Time) (*RunStats, error) {
	log := logging.From(ctx).With("date", day.Format(time.DateOnly))
	ctx = logging.With(ctx, log)
	pass := &datePass{}

	items, err := d.deps.Source.ListByDate(ctx, d.opts.Folder, day.In(d.opts.Location))
	if err != nil {
		return &pass.stats, fmt.Errorf("listing %s: %w", day.Format(time.DateOnly), err)
	}
	pass.stats.Listed = len(items)
	log.Info("fetched images to process", "count", len(items))

	tasks := make([]*scheduler.Task, 0, len(items))
	for _, item := range items {
		task, err := d.images.Submit(ctx, "image "+item.Name, func(ctx context.Context) error {
			defer d.itemDone()
			err := d.processItem(ctx, item, pass)
			if err != nil {
				pass.count(func(s *RunStats) { s.Failed++ })
				logging.From(ctx).Error("error processing image", "source_id", item.ID, "file", item.Name, "error", err)
			}
			return err
		})
		if err != nil {
			return &pass.stats, err
		}
		tasks = append(tasks, task)
	}

	// Barrier: the batch is complete once every image task of the day ended.
	for _, task := range tasks {
		if err := task.Wait(ctx); errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return &pass.stats, ctx.Err()
		}
	}

	if err := d.finalize(ctx, pass); err != nil {
		return &pass.stats, err
	}
	return &pass.stats, nil
}

func (d *Driver) itemDone() {
	if d.opts.OnItem != nil {
		d.opts.OnItem()
	}
}

// processItem enriches one listed file and appends it to the batch.
func (d *Driver) processItem(ctx context.Context, item source.Item, pass *datePass) error {
	log := logging.From(ctx).With("source_id", item.ID, "file", item.Name)

	if d.isProcessed(item.ID) {
		log.Debug("image already processed")
		pass.count(func(s *RunStats) { s.Skipped++ })
		return nil
	}

	data, err := d.deps.Source.Download(ctx, item)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	meta, err := exif.Extract(data)
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}

	photo := &curation.Photo{
		SourceID:    item.ID,
		SourcePath:  item.Path,
		FileName:    item.Name,
		MimeType:    meta.MimeType,
		Size:        item.Size,
		TakenAt:     meta.TakenAt,
		Latitude:    meta.Latitude,
		Longitude:   meta.Longitude,
		Altitude:    meta.Altitude,
		DeviceMake:  meta.Make,
		DeviceModel: meta.Model,
	}
	if photo.TakenAt.IsZero() {
		photo.TakenAt = item.Modified
	}

	if meta.IsScreenshot {
		log.Info("encountered screenshot, continuing")
		photo.RejectionReason = constants.RejectionScreenshot
		photo.IsProcessed = !d.opts.DryRun
		if _, err := d.deps.Photos.Upsert(ctx, photo); err != nil {
			return err
		}
		pass.count(func(s *RunStats) { s.Rejected++ })
		return nil
	}

	stored, err := d.deps.Photos.Upsert(ctx, photo)
	if err != nil {
		return err
	}
	if stored.IsProcessed {
		d.markProcessed(stored.SourceID)
		pass.count(func(s *RunStats) { s.Skipped++ })
		return nil
	}

	accepted, err := d.screen(ctx, log, stored, data)
	if err != nil {
		return err
	}
	if !accepted {
		pass.count(func(s *RunStats) { s.Rejected++ })
		return nil
	}

	if stored.URL == "" && !d.opts.DryRun {
		if err := d.uploadOriginal(ctx, log, stored, item, data); err != nil {
			return err
		}
	}

	if stored.TotalScore == nil {
		log.Info("analyzing highlights")
		total, err := d.deps.Highlighter.Highlight(ctx, stored, data, d.recordScore)
		if err != nil {
			return fmt.Errorf("highlight: %w", err)
		}
		if err := d.deps.Photos.UpdateFields(ctx, stored.ID, database.Fields{database.FieldTotalScore: total}); err != nil {
			return err
		}
	}

	if stored.City == "" && stored.HasLocation() && d.deps.Geocoder != nil {
		if err := d.geocode(ctx, log, stored); err != nil {
			return err
		}
	}

	if len(stored.Embedding) == 0 && d.deps.Embedder != nil {
		d.embed(ctx, log, stored, data)
	}

	pass.add(entry{photo: stored, data: data})
	return nil
}

// screen runs the screener on photos not screened yet and reports whether
// the photo continues through the pipeline.
func (d *Driver) screen(ctx context.Context, log *slog.Logger, photo *curation.Photo, data []byte) (bool, error) {
	if photo.RejectionReason != "" {
		if photo.RejectionReason != constants.RejectionNone {
			log.Info("trying to process rejected image", "reason", photo.RejectionReason)
			return false, nil
		}
		return true, nil
	}

	screening, err := d.deps.Screener.Screen(ctx, data)
	if err != nil {
		return false, err
	}
	photo.RejectionReason = screening.RejectionReason
	if err := d.deps.Photos.UpdateFields(ctx, photo.ID, database.Fields{database.FieldRejectionReason: photo.RejectionReason}); err != nil {
		return false, err
	}
	if screening.Accepted() {
		return true, nil
	}

	if !d.opts.DryRun {
		if err := d.deps.Photos.UpdateFields(ctx, photo.ID, database.Fields{database.FieldIsProcessed: true}); err != nil {
			return false, err
		}
	}
	log.Info("image rejected", "reason", photo.RejectionReason, "quality_issue", screening.QualityIssue)
	return false, nil
}

func (d *Driver) uploadOriginal(ctx context.Context, log *slog.Logger, photo *curation.Photo, item source.Item, data []byte) error {
	contentType := photo.MimeType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	key := storage.ImageKey(item.Name)

	log.Info("uploading original", "key", key)
	url, err := d.deps.Store.Put(ctx, key, data, contentType)
	if err != nil {
		return fmt.Errorf("upload original: %w", err)
	}
	if err := d.deps.Photos.UpdateFields(ctx, photo.ID, database.Fields{database.FieldURL: url}); err != nil {
		return err
	}
	photo.URL = url
	return nil
}

// recordScore persists one finished dimension.
func (d *Driver) recordScore(ctx context.Context, photo *curation.Photo, result *scoring.Result) error {
	fields := database.Fields{}
	switch result.Dimension {
	case scoring.Technical:
		fields[database.FieldTechnicalScore] = result.Score
		fields[database.FieldTechnicalReason] = result.Reasoning
	case scoring.Content:
		fields[database.FieldContentScore] = result.Score
		fields[database.FieldContentReason] = result.Reasoning
		fields[database.FieldIsSelfie] = result.IsSelfie
	case scoring.Emotional:
		fields[database.FieldEmotionalScore] = result.Score
		fields[database.FieldEmotionalReason] = result.Reasoning
	default:
		return fmt.Errorf("unknown dimension %q", result.Dimension)
	}
	return d.deps.Photos.UpdateFields(ctx, photo.ID, fields)
}

func (d *Driver) geocode(ctx context.Context, log *slog.Logger, photo *curation.Photo) error {
	log.Debug("geocoding")
	loc, err := d.deps.Geocoder.ReverseGeocode(ctx, *photo.Latitude, *photo.Longitude)
	if errors.Is(err, geocode.ErrNoResults) || errors.Is(err, geocode.ErrInvalidCoordinates) {
		log.Warn("no location for coordinates", "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("geocode: %w", err)
	}

	state := loc.State
	if state == "" {
		state = loc.Sublocality
	}
	photo.City, photo.State, photo.Neighborhood = loc.City, state, loc.Neighborhood

	log.Info("updating location", "city", photo.City, "state", photo.State, "neighborhood", photo.Neighborhood)
	return d.deps.Photos.UpdateFields(ctx, photo.ID, database.Fields{
		database.FieldCity:         photo.City,
		database.FieldState:        photo.State,
		database.FieldNeighborhood: photo.Neighborhood,
		database.FieldLatitude:     photo.Latitude,
		database.FieldLongitude:    photo.Longitude,
	})
}

// embed stores the embedding; a failure leaves the photo out of duplicate
// clustering but keeps it in the batch.
func (d *Driver) embed(ctx context.Context, log *slog.Logger, photo *curation.Photo, data []byte) {
	log.Debug("extracting image embedding")
	vec, err := d.deps.Embedder.ComputeEmbedding(ctx, data)
	if err != nil {
		log.Warn("embedding failed, photo kept without embedding", "error", err)
		return
	}
	if err := d.deps.Photos.UpdateFields(ctx, photo.ID, database.Fields{database.FieldEmbedding: vec}); err != nil {
		log.Warn("storing embedding failed", "error", err)
		return
	}
	photo.Embedding = vec
}

// finalize clusters the batch, persists the decisions, uploads highlights and
// marks every photo of the batch processed.
func (d *Driver) finalize(ctx context.Context, pass *datePass) error {
	log := logging.From(ctx)

	photos := make([]*curation.Photo, len(pass.entries))
	for i, e := range pass.entries {
		e.photo.ClearDecisions()
		photos[i] = e.photo
	}

	dupes, err := d.opts.Duplicates.MarkDuplicates(photos)
	if err != nil {
		for _, p := range photos {
			p.ClearDecisions()
		}
		return fmt.Errorf("duplicate clustering: %w", err)
	}
	if len(dupes.Skipped) > 0 {
		log.Info("photos skipped by duplicate clustering", "count", len(dupes.Skipped))
	}

	kept := make([]*curation.Photo, 0, len(photos))
	for _, p := range photos {
		if !p.IsLesserDuplicate {
			kept = append(kept, p)
		}
	}
	events := d.opts.Events.MarkEventRepresentatives(kept)

	pass.stats.DuplicateDemoted += dupes.Demoted
	pass.stats.EventDemoted += events.Demoted

	for _, e := range pass.entries {
		uploaded, err := d.settle(ctx, e)
		if uploaded {
			pass.stats.Uploaded++
		}
		if err != nil {
			pass.stats.Failed++
			log.Error("error finishing image", "source_id", e.photo.SourceID, "file", e.photo.FileName, "error", err)
			continue
		}
		pass.stats.Processed++
	}
	return nil
}

// settle persists one photo's decisions, uploads it when it is a highlight
// and marks it processed. It reports whether a highlight was uploaded.
func (d *Driver) settle(ctx context.Context, e entry) (bool, error) {
	p := e.photo
	log := logging.From(ctx).With("source_id", p.SourceID, "file", p.FileName)

	if d.opts.DryRun {
		log.Info("decision",
			"lesser_duplicate", p.IsLesserDuplicate,
			"lesser_in_event", p.IsLesserInEvent,
			"highlight", d.isHighlight(p),
		)
		return false, nil
	}

	err := d.deps.Photos.UpdateFields(ctx, p.ID,
		database.DecisionFields(p.IsLesserDuplicate, p.BetterDuplicateRef, p.IsLesserInEvent, p.BetterEventRefs))
	if err != nil {
		return false, err
	}

	uploaded := false
	if d.isHighlight(p) {
		label := LocationLabel(p)
		log.Info("adding overlay and uploading highlight", "location", label)
		overlay, err := render.Overlay(e.data, label, render.FormatDate(p.TakenAt))
		if err != nil {
			return false, fmt.Errorf("overlay: %w", err)
		}
		if err := d.deps.Source.Upload(ctx, path.Join(d.opts.HighlightsFolder, p.FileName), overlay); err != nil {
			return false, fmt.Errorf("highlight upload: %w", err)
		}
		uploaded = true
	}

	if err := d.deps.Photos.UpdateFields(ctx, p.ID, database.Fields{database.FieldIsProcessed: true}); err != nil {
		return uploaded, err
	}
	p.IsProcessed = true
	d.markProcessed(p.SourceID)
	return uploaded, nil
}

// isHighlight: not lesser in either sense, not processed yet, accepted and
// scored at or above the threshold.
func (d *Driver) isHighlight(p *curation.Photo) bool {
	return !p.IsLesser() &&
		!p.IsProcessed &&
		p.RejectionReason == constants.RejectionNone &&
		p.TotalScore != nil && *p.TotalScore >= d.opts.HighlightThreshold
}

// LocationLabel renders "City, State" for the overlay, falling back to the
// neighborhood when the city is unknown.
func LocationLabel(p *curation.Photo) string {
	city := p.City
	if city == "" {
		city = p.Neighborhood
	}
	switch {
	case city == "":
		return p.State
	case p.State == "":
		return city
	default:
		return city + ", " + p.State
	}
}
