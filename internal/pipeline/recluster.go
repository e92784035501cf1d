package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/photo-curator/internal/constants"
	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/database"
	"github.com/kozaktomas/photo-curator/internal/logging"
)

// Recluster recomputes the duplicate and event decisions of stored photos
// taken between from and to (both days included) without touching the
// file-sync backend or the vision models.
func (d *Driver) Recluster(ctx context.Context, from, to time.Time) (*RunStats, error) {
	return d.record(ctx, KindRecluster, from, to, d.recluster)
}

func (d *Driver) recluster(ctx context.Context, from, to time.Time) (*RunStats, error) {
	log := logging.From(ctx)
	stats := &RunStats{}

	days := Days(from, to, d.opts.Location)
	if len(days) == 0 {
		return stats, nil
	}
	start, end := days[0], days[len(days)-1].AddDate(0, 0, 1)

	photos, err := d.deps.Photos.ListByDateRange(ctx, start, end)
	if err != nil {
		return stats, fmt.Errorf("listing photos: %w", err)
	}
	stats.Listed = len(photos)

	byDay := make(map[string][]*curation.Photo)
	var order []string
	for _, p := range photos {
		if p.RejectionReason != constants.RejectionNone {
			stats.Rejected++
			continue
		}
		key := p.TakenAt.In(d.opts.Location).Format(time.DateOnly)
		if _, ok := byDay[key]; !ok {
			order = append(order, key)
		}
		byDay[key] = append(byDay[key], p)
	}

	for _, key := range order {
		batch := byDay[key]
		for _, p := range batch {
			p.ClearDecisions()
		}

		dupes, err := d.opts.Duplicates.MarkDuplicates(batch)
		if err != nil {
			return stats, fmt.Errorf("duplicate clustering %s: %w", key, err)
		}
		kept := make([]*curation.Photo, 0, len(batch))
		for _, p := range batch {
			if !p.IsLesserDuplicate {
				kept = append(kept, p)
			}
		}
		events := d.opts.Events.MarkEventRepresentatives(kept)

		stats.DuplicateDemoted += dupes.Demoted
		stats.EventDemoted += events.Demoted
		log.Info("reclustered day", "date", key, "photos", len(batch), "duplicates", dupes.Demoted, "events", events.Demoted)

		if d.opts.DryRun {
			stats.Processed += len(batch)
			continue
		}
		for _, p := range batch {
			fields := database.DecisionFields(p.IsLesserDuplicate, p.BetterDuplicateRef, p.IsLesserInEvent, p.BetterEventRefs)
			if err := d.deps.Photos.UpdateFields(ctx, p.ID, fields); err != nil {
				stats.Failed++
				log.Error("error storing decisions", "id", p.ID, "error", err)
				continue
			}
			stats.Processed++
		}
	}
	return stats, nil
}
