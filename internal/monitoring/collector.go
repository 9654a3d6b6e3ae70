package monitoring

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sensor-harvest/internal/repository"
)

// MetricsSnapshot holds a point-in-time view of harvest health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal       int     `json:"runs_total"`
	RunsComplete    int     `json:"runs_complete"`
	RunsFailed      int     `json:"runs_failed"`
	RunsRunning     int     `json:"runs_running"`
	RunFailRate     float64 `json:"run_fail_rate"`
	DataAccepted    int     `json:"data_accepted"`
	SensorsImported int     `json:"sensors_imported"`

	// Sensors that could not be imported into a service.
	DistributionFailures int            `json:"distribution_failures"`
	FailuresByService    map[string]int `json:"failures_by_service,omitempty"`

	// OldestRunning is the start of the oldest run still marked running,
	// zero when none is.
	OldestRunning time.Time `json:"oldest_running,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLog abstracts the run log methods needed by the collector.
type RunLog interface {
	Runs(ctx context.Context, limit int) ([]repository.HarvestRun, error)
	Failures(ctx context.Context, runID int64) ([]repository.DistributionFailure, error)
}

// Collector gathers metrics from the harvest run log.
type Collector struct {
	runs  RunLog
	clock clockwork.Clock
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLog, clock clockwork.Clock) *Collector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collector{runs: runs, clock: clock}
}

// Collect gathers a snapshot of harvest metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.clock.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.Runs(ctx, 10000)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case repository.RunComplete:
			snap.RunsComplete++
		case repository.RunFailed:
			snap.RunsFailed++
		case repository.RunRunning:
			snap.RunsRunning++
			if snap.OldestRunning.IsZero() || r.StartedAt.Before(snap.OldestRunning) {
				snap.OldestRunning = r.StartedAt
			}
		}
		snap.DataAccepted += r.DataAccepted
		snap.SensorsImported += r.SensorsImported

		failures, err := c.runs.Failures(ctx, r.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list failures of run %d", r.ID)
		}
		snap.DistributionFailures += len(failures)
		for _, f := range failures {
			if snap.FailuresByService == nil {
				snap.FailuresByService = make(map[string]int)
			}
			snap.FailuresByService[f.ServiceID]++
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}
