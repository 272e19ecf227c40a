package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-enrich/internal/enrich"
)

// Snapshot holds a point-in-time view of enrichment health.
type Snapshot struct {
	// Rows per retry phase, over guests that have a handle.
	Phases    map[enrich.Phase]int `json:"phases" yaml:"phases"`
	TotalRows int                  `json:"total_rows" yaml:"total_rows"`
	Attempted int                  `json:"attempted" yaml:"attempted"`

	// ExhaustedRate is exhausted rows over attempted rows.
	ExhaustedRate float64 `json:"exhausted_rate" yaml:"exhausted_rate"`

	// Run log metrics over the most recent runs.
	RecentRuns   int             `json:"recent_runs" yaml:"recent_runs"`
	RecentFailed int             `json:"recent_failed" yaml:"recent_failed"`
	LastRun      *enrich.Summary `json:"last_run,omitempty" yaml:"last_run,omitempty"`

	// Metadata.
	Ceiling     int       `json:"retry_ceiling" yaml:"retry_ceiling"`
	CollectedAt time.Time `json:"collected_at" yaml:"collected_at"`
}

// Source abstracts the store queries the collector needs.
type Source interface {
	PhaseCounts(ctx context.Context, now time.Time, ceiling int) (map[enrich.Phase]int, error)
	ListRuns(ctx context.Context, limit int) ([]enrich.Summary, error)
}

// Collector gathers phase counts and run history from the store.
type Collector struct {
	src     Source
	ceiling int
	now     func() time.Time
}

// NewCollector creates a collector that classifies rows against ceiling.
func NewCollector(src Source, ceiling int) *Collector {
	return &Collector{src: src, ceiling: ceiling, now: time.Now}
}

// Collect gathers a snapshot, looking back over the last recentRuns runs.
func (c *Collector) Collect(ctx context.Context, recentRuns int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		Ceiling:     c.ceiling,
		CollectedAt: now,
	}

	phases, err := c.src.PhaseCounts(ctx, now, c.ceiling)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: phase counts")
	}
	snap.Phases = make(map[enrich.Phase]int, len(enrich.Phases))
	for _, p := range enrich.Phases {
		n := phases[p]
		snap.Phases[p] = n
		snap.TotalRows += n
		if p != enrich.PhaseUnattempted {
			snap.Attempted += n
		}
	}
	if snap.Attempted > 0 {
		snap.ExhaustedRate = float64(snap.Phases[enrich.PhaseExhausted]) / float64(snap.Attempted)
	}

	if recentRuns > 0 {
		runs, err := c.src.ListRuns(ctx, recentRuns)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list runs")
		}
		snap.RecentRuns = len(runs)
		for _, r := range runs {
			if r.Status == enrich.RunFailed {
				snap.RecentFailed++
			}
		}
		if len(runs) > 0 {
			last := runs[0]
			snap.LastRun = &last
		}
	}

	return snap, nil
}
