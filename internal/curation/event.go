package curation

import (
	"sort"
	"time"

	"github.com/kozaktomas/photo-curator/internal/constants"
)

// EventSegmenter splits photos into bursts by time gap and location and
// demotes the weaker half of oversized bursts.
type EventSegmenter struct {
	MaxGap time.Duration
	// KeepScore exempts photos from demotion.
	KeepScore float64
}

// NewEventSegmenter returns a segmenter with the default gap and keep score.
func NewEventSegmenter() *EventSegmenter {
	return &EventSegmenter{
		MaxGap:    constants.EventMaxGap,
		KeepScore: constants.EventKeepScore,
	}
}

// EventResult describes one segmentation pass.
type EventResult struct {
	Bursts  [][]*Photo
	Demoted int
}

// MarkEventRepresentatives segments photos into bursts and marks lesser photos.
// Demoted photos reference every photo kept in this pass, not only the ones
// in their own burst.
func (s *EventSegmenter) MarkEventRepresentatives(photos []*Photo) *EventResult {
	sorted := make([]*Photo, 0, len(photos))
	for _, p := range photos {
		if !p.TakenAt.IsZero() {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TakenAt.Before(sorted[j].TakenAt)
	})

	result := &EventResult{Bursts: s.bursts(sorted)}

	var better []string
	var lesser []*Photo
	for _, burst := range result.Bursts {
		size := len(burst)
		demote := demoteCount(size)
		if size <= demote {
			continue
		}

		scored := make([]*Photo, 0, size)
		for _, p := range burst {
			if p.TotalScore != nil {
				scored = append(scored, p)
			}
		}
		sort.SliceStable(scored, func(i, j int) bool {
			return *scored[i].TotalScore > *scored[j].TotalScore
		})

		keep := min(size-demote, len(scored))
		for _, p := range scored[:keep] {
			better = append(better, p.Ref())
		}
		for _, p := range scored[keep:] {
			if *p.TotalScore < s.KeepScore {
				lesser = append(lesser, p)
			}
		}
	}

	for _, p := range lesser {
		p.IsLesserInEvent = true
		p.BetterEventRefs = append([]string(nil), better...)
	}
	result.Demoted = len(lesser)

	return result
}

func (s *EventSegmenter) bursts(sorted []*Photo) [][]*Photo {
	var bursts [][]*Photo
	var current []*Photo
	for _, p := range sorted {
		if len(current) > 0 {
			prev := current[len(current)-1]
			if p.TakenAt.Sub(prev.TakenAt) <= s.MaxGap && p.LocationTag() == current[0].LocationTag() {
				current = append(current, p)
				continue
			}
			bursts = append(bursts, current)
		}
		current = []*Photo{p}
	}
	if len(current) > 0 {
		bursts = append(bursts, current)
	}
	return bursts
}

// demoteCount is half the burst, rounded down, for bursts above two photos.
// For one- and two-photo bursts it equals the size, so they are never demoted.
func demoteCount(size int) int {
	if size > 2 {
		return max(1, size/2)
	}
	return size
}
