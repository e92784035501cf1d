package curation

// RunStats counts what one pipeline pass did. Passes return their own stats
// and callers sum them with Add.
type RunStats struct {
	Listed           int `json:"listed"`
	Processed        int `json:"processed"`
	Skipped          int `json:"skipped"`
	Rejected         int `json:"rejected"`
	DuplicateDemoted int `json:"duplicate_demoted"`
	EventDemoted     int `json:"event_demoted"`
	Failed           int `json:"failed"`
	Uploaded         int `json:"uploaded"`
}

// Add accumulates other into s.
func (s *RunStats) Add(other RunStats) {
	s.Listed += other.Listed
	s.Processed += other.Processed
	s.Skipped += other.Skipped
	s.Rejected += other.Rejected
	s.DuplicateDemoted += other.DuplicateDemoted
	s.EventDemoted += other.EventDemoted
	s.Failed += other.Failed
	s.Uploaded += other.Uploaded
}
