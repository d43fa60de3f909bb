// Package monitoring summarises scan and review health and raises alerts
// when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/store"
)

// maxListed caps each listing made while collecting.
const maxListed = 10000

// Snapshot holds a point-in-time view of matching health.
type Snapshot struct {
	// Scan jobs started within the lookback window.
	ScansTotal     int     `json:"scans_total"`
	ScansCompleted int     `json:"scans_completed"`
	ScansFailed    int     `json:"scans_failed"`
	ScansCancelled int     `json:"scans_cancelled"`
	ScansRunning   int     `json:"scans_running"`
	ScanFailRate   float64 `json:"scan_fail_rate"`

	// Most recent job regardless of window.
	LastScan *model.ScanJob `json:"last_scan,omitempty"`

	// Backlogs.
	CandidatesOpen      int                    `json:"candidates_open"`
	ConflictsOpen       int                    `json:"conflicts_open"`
	ConflictsByPriority map[model.Priority]int `json:"conflicts_by_priority"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Store is the read-only subset of store.Store the collector needs.
type Store interface {
	ListScanJobs(ctx context.Context, filter store.ScanJobFilter) ([]model.ScanJob, error)
	ListCandidates(ctx context.Context, filter store.CandidateFilter) ([]model.MatchingCandidate, error)
	ListReviews(ctx context.Context, filter store.ReviewFilter) ([]model.ConflictReview, error)
}

// Collector gathers snapshots from the store.
type Collector struct {
	store Store
	now   func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(st Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours:       lookbackHours,
		CollectedAt:         now,
		ConflictsByPriority: make(map[model.Priority]int),
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.store.ListScanJobs(ctx, store.ScanJobFilter{Limit: maxListed})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list scan jobs")
	}
	for i := range jobs {
		j := &jobs[i]
		if snap.LastScan == nil || j.StartedAt.After(snap.LastScan.StartedAt) {
			snap.LastScan = j
		}
		if j.StartedAt.Before(cutoff) {
			continue
		}
		snap.ScansTotal++
		switch j.Status {
		case model.ScanCompleted:
			snap.ScansCompleted++
		case model.ScanFailed:
			snap.ScansFailed++
		case model.ScanCancelled:
			snap.ScansCancelled++
		case model.ScanRunning:
			snap.ScansRunning++
		}
	}
	if finished := snap.ScansCompleted + snap.ScansFailed; finished > 0 {
		snap.ScanFailRate = float64(snap.ScansFailed) / float64(finished)
	}

	cands, err := c.store.ListCandidates(ctx, store.CandidateFilter{Status: model.CandidateOpen, Limit: maxListed})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list candidates")
	}
	snap.CandidatesOpen = len(cands)

	reviews, err := c.store.ListReviews(ctx, store.ReviewFilter{Status: model.ReviewOpen, Limit: maxListed})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list reviews")
	}
	snap.ConflictsOpen = len(reviews)
	for _, r := range reviews {
		snap.ConflictsByPriority[r.Priority]++
	}

	return snap, nil
}
