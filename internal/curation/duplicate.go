package curation

import (
	"fmt"
	"sort"
	"time"

	"github.com/kozaktomas/photo-curator/internal/constants"
	"github.com/kozaktomas/photo-curator/internal/fingerprint"
)

// DuplicateClusterer groups near-identical captures taken close in time.
type DuplicateClusterer struct {
	// Window is how far after the anchor photo a candidate may be taken.
	Window time.Duration
	// CloseGap selects CloseThreshold for pairs taken within it.
	CloseGap       time.Duration
	CloseThreshold float64
	Threshold      float64
}

// NewDuplicateClusterer returns a clusterer with the default thresholds.
func NewDuplicateClusterer() *DuplicateClusterer {
	return &DuplicateClusterer{
		Window:         constants.DuplicateWindow,
		CloseGap:       constants.DuplicateCloseGap,
		CloseThreshold: constants.DuplicateCloseThreshold,
		Threshold:      constants.DuplicateThreshold,
	}
}

// DuplicateResult describes one clustering pass.
type DuplicateResult struct {
	// Groups holds every group with more than one member, representative first.
	Groups [][]*Photo
	// Demoted is the number of photos marked lesser.
	Demoted int
	// Skipped lists photos without a capture time or embedding.
	Skipped []*Photo
}

// MarkDuplicates clusters photos and marks all but the best member of each
// group as lesser duplicates. A similarity that cannot be computed aborts the
// pass; in that case no photo is annotated.
func (c *DuplicateClusterer) MarkDuplicates(photos []*Photo) (*DuplicateResult, error) {
	result := &DuplicateResult{}

	eligible := make([]*Photo, 0, len(photos))
	for _, p := range photos {
		if p.TakenAt.IsZero() || len(p.Embedding) == 0 {
			result.Skipped = append(result.Skipped, p)
			continue
		}
		eligible = append(eligible, p)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].TakenAt.Before(eligible[j].TakenAt)
	})

	processed := make([]bool, len(eligible))
	for i, anchor := range eligible {
		if processed[i] {
			continue
		}

		members := []int{i}
		windowEnd := anchor.TakenAt.Add(c.Window)
		for j := i + 1; j < len(eligible); j++ {
			if processed[j] {
				continue
			}
			candidate := eligible[j]
			if candidate.TakenAt.After(windowEnd) {
				break
			}

			joins, err := c.joinsGroup(eligible, members, candidate)
			if err != nil {
				return nil, err
			}
			if joins {
				members = append(members, j)
			}
		}

		group := make([]*Photo, 0, len(members))
		for _, idx := range members {
			processed[idx] = true
			group = append(group, eligible[idx])
		}
		if len(group) > 1 {
			rankGroup(group)
			result.Groups = append(result.Groups, group)
		}
	}

	for _, group := range result.Groups {
		rep := group[0]
		rep.IsLesserDuplicate = false
		rep.BetterDuplicateRef = ""
		for _, p := range group[1:] {
			p.IsLesserDuplicate = true
			p.BetterDuplicateRef = rep.Ref()
			result.Demoted++
		}
	}

	return result, nil
}

// joinsGroup reports whether candidate is similar enough to any group member.
func (c *DuplicateClusterer) joinsGroup(photos []*Photo, members []int, candidate *Photo) (bool, error) {
	for _, idx := range members {
		member := photos[idx]
		sim, err := fingerprint.CosineSimilarity(member.Embedding, candidate.Embedding)
		if err != nil {
			return false, fmt.Errorf("comparing %s with %s: %w", member.SourceID, candidate.SourceID, err)
		}
		if sim >= c.threshold(member.TakenAt.Sub(candidate.TakenAt)) {
			return true, nil
		}
	}
	return false, nil
}

func (c *DuplicateClusterer) threshold(delta time.Duration) float64 {
	if delta.Abs() <= c.CloseGap {
		return c.CloseThreshold
	}
	return c.Threshold
}

// rankGroup orders by composite score, then newest first.
func rankGroup(group []*Photo) {
	sort.SliceStable(group, func(i, j int) bool {
		si, sj := scoreOrLowest(group[i]), scoreOrLowest(group[j])
		if si != sj {
			return si > sj
		}
		return group[i].TakenAt.After(group[j].TakenAt)
	})
}
