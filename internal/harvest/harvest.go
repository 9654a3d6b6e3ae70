// Package harvest runs the harvest state machine: it registers a datasource,
// integrates the files found under it, generates sensor identities and
// distributes their observations to sensor services.
package harvest

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/compat"
	"github.com/sells-group/sensor-harvest/internal/events"
	"github.com/sells-group/sensor-harvest/internal/fetcher"
	"github.com/sells-group/sensor-harvest/internal/monitoring"
	"github.com/sells-group/sensor-harvest/internal/provider"
	"github.com/sells-group/sensor-harvest/internal/repository"
	"github.com/sells-group/sensor-harvest/internal/resilience"
	"github.com/sells-group/sensor-harvest/internal/sensorsvc"
)

// ErrHarvestInProgress is returned when the source is already being harvested.
var ErrHarvestInProgress = eris.New("harvest: harvest in progress")

// Request describes one harvest run.
type Request struct {
	// Source is a local file or folder, or a remote URL when Remote is set.
	Source    string
	StoreKind provider.StoreKind
	Username  string
	Password  string
	Remote    bool
	// Params is the column mapping used to open every file.
	Params map[string]string
	// ServiceIDs are the target services. Empty means the default services.
	ServiceIDs     []string
	RemovePrevious bool
	// DatasetID names the dataset accepted data is attached to. Empty means
	// the source.
	DatasetID string
	// CheckCompatibility gates each sensor and service pair on unit
	// compatibility before import.
	CheckCompatibility bool
}

// PathOutcome reports a selected path that was not integrated by this run.
type PathOutcome struct {
	Path   string                `json:"path"`
	Status repository.PathStatus `json:"status"`
}

// Result summarizes a harvest run.
type Result struct {
	DatasourceID int64                            `json:"datasource_id"`
	RunID        int64                            `json:"run_id"`
	AcceptedData []int64                          `json:"accepted_data"`
	Sensors      []string                         `json:"sensors"`
	Imported     int                              `json:"imported"`
	Skipped      []PathOutcome                    `json:"skipped,omitempty"`
	Failures     []repository.DistributionFailure `json:"failures,omitempty"`
	Incompatible []compat.Report                  `json:"incompatible,omitempty"`
}

// ProviderLookup resolves providers and forgets deleted ones.
type ProviderLookup interface {
	provider.Lookup
	Evict(id string)
}

// FetcherFunc returns the fetcher for a remote URL.
type FetcherFunc func(rawURL string, opts fetcher.Options) (fetcher.Fetcher, error)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store     repository.Store
	Providers ProviderLookup
	Services  *sensorsvc.Directory
	Checker   *compat.Checker

	// DefaultServices are used when a request names no service.
	DefaultServices []string
	TempDir         string
	Fetch           fetcher.Options
	NewFetcher      FetcherFunc

	Clock   clockwork.Clock
	Metrics *monitoring.Metrics
	Events  events.Publisher

	// BreakerFailures consecutive import failures open a service's circuit
	// for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// Retry governs retries of transient service errors inside the breaker.
	// Zero fields take the resilience defaults.
	Retry resilience.RetryConfig
}

// Orchestrator runs harvests. It is safe for concurrent use; harvests of
// the same source are mutually exclusive.
type Orchestrator struct {
	deps  Deps
	locks *keyedLock
	log   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewOrchestrator returns an orchestrator over deps, filling unset optional
// collaborators with defaults.
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics(prometheus.NewRegistry())
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if deps.NewFetcher == nil {
		deps.NewFetcher = fetcher.ForURL
	}
	if deps.Checker == nil {
		deps.Checker = compat.NewChecker(deps.Providers)
	}
	if deps.BreakerFailures == 0 {
		deps.BreakerFailures = 3
	}
	if deps.BreakerTimeout <= 0 {
		deps.BreakerTimeout = time.Minute
	}
	return &Orchestrator{
		deps:     deps,
		locks:    newKeyedLock(),
		log:      zap.L().With(zap.String("component", "harvest")),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// run carries the state of one harvest through its stages.
type run struct {
	req      Request
	ds       *repository.Datasource
	runID    int64
	root     string
	services []sensorsvc.Service
	log      *zap.Logger
	result   *Result
}

// Harvest runs the full state machine for req. A file that cannot be
// integrated aborts the run; a sensor that cannot be imported into a
// service is recorded in Result.Failures and the run goes on.
func (o *Orchestrator) Harvest(ctx context.Context, req Request) (*Result, error) {
	if req.Source == "" {
		return nil, eris.New("harvest: source is required")
	}
	if !o.locks.tryLock(req.Source) {
		return nil, eris.Wrapf(ErrHarvestInProgress, "source %s", req.Source)
	}
	defer o.locks.unlock(req.Source)

	ids := req.ServiceIDs
	if len(ids) == 0 {
		ids = o.deps.DefaultServices
	}
	services, err := o.deps.Services.Resolve(ids)
	if err != nil {
		return nil, eris.Wrap(err, "harvest: resolve services")
	}

	start := o.deps.Clock.Now()
	r := &run{
		req:      req,
		services: services,
		log:      o.log.With(zap.String("source", req.Source)),
		result:   &Result{},
	}

	// Discover
	if err := o.discover(ctx, r); err != nil {
		return nil, err
	}
	r.log = r.log.With(zap.Int64("datasource", r.ds.ID))
	r.result.DatasourceID = r.ds.ID

	runID, err := o.deps.Store.StartRun(ctx, r.ds.ID)
	if err != nil {
		return nil, eris.Wrap(err, "harvest: start run")
	}
	r.runID = runID
	r.result.RunID = runID

	if err := o.stages(ctx, r); err != nil {
		o.fail(ctx, r, err)
		return r.result, err
	}

	if err := o.deps.Store.CompleteRun(ctx, runID, repository.RunResult{
		DataAccepted:    len(r.result.AcceptedData),
		SensorsImported: r.result.Imported,
	}); err != nil {
		r.log.Error("harvest: failed to record run completion", zap.Error(err))
	}
	o.deps.Metrics.Runs.WithLabelValues(string(repository.RunComplete)).Inc()
	o.deps.Metrics.HarvestDuration.Observe(o.deps.Clock.Since(start).Seconds())
	o.publish(ctx, r, events.Event{Type: events.HarvestCompleted, Observations: r.result.Imported})

	r.log.Info("harvest: run complete",
		zap.Int64("run", runID),
		zap.Int("data_accepted", len(r.result.AcceptedData)),
		zap.Int("sensors", len(r.result.Sensors)),
		zap.Int("imported", r.result.Imported),
		zap.Int("skipped", len(r.result.Skipped)),
		zap.Int("failures", len(r.result.Failures)),
	)
	return r.result, nil
}

// stages runs everything after Discover.
func (o *Orchestrator) stages(ctx context.Context, r *run) error {
	if r.req.RemovePrevious {
		if err := o.purge(ctx, r.ds.ID); err != nil {
			return err
		}
	}
	if err := o.enumerate(ctx, r); err != nil {
		return err
	}
	accepted, err := o.integrate(ctx, r)
	if err != nil {
		return err
	}
	generated, err := o.generateIdentities(ctx, r, accepted)
	if err != nil {
		return err
	}
	return o.distribute(ctx, r, generated)
}

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) {
	r.log.Error("harvest: run failed", zap.Int64("run", r.runID), zap.Error(err))
	if logErr := o.deps.Store.FailRun(ctx, r.runID, err.Error()); logErr != nil {
		r.log.Error("harvest: failed to record run failure", zap.Error(logErr))
	}
	o.deps.Metrics.Runs.WithLabelValues(string(repository.RunFailed)).Inc()
	o.publish(ctx, r, events.Event{Type: events.HarvestFailed, Error: err.Error()})
}

func (o *Orchestrator) publish(ctx context.Context, r *run, e events.Event) {
	e.RunID = r.runID
	e.DatasourceID = r.ds.ID
	e.Source = r.req.Source
	e.OccurredAt = o.deps.Clock.Now().UTC()
	if err := o.deps.Events.Publish(ctx, e); err != nil {
		r.log.Warn("harvest: failed to publish event", zap.String("event", string(e.Type)), zap.Error(err))
	}
}

// Check runs the compatibility check for an integrated data identifier
// against the given services.
func (o *Orchestrator) Check(ctx context.Context, dataID int64, serviceIDs []string) (*compat.Report, error) {
	if len(serviceIDs) == 0 {
		serviceIDs = o.deps.DefaultServices
	}
	services, err := o.deps.Services.Resolve(serviceIDs)
	if err != nil {
		return nil, eris.Wrap(err, "harvest: resolve services")
	}
	d, err := o.deps.Store.Data(ctx, dataID)
	if err != nil {
		return nil, eris.Wrapf(err, "harvest: load data %d", dataID)
	}
	return o.deps.Checker.Check(ctx, d.ProviderID, targets(services))
}

func targets(services []sensorsvc.Service) []compat.Target {
	out := make([]compat.Target, len(services))
	for i, s := range services {
		out[i] = s
	}
	return out
}
