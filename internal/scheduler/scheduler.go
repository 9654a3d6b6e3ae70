// Package scheduler runs configured harvests on cron schedules.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/config"
	"github.com/sells-group/sensor-harvest/internal/harvest"
	"github.com/sells-group/sensor-harvest/internal/provider"
)

// Harvester runs one harvest.
type Harvester interface {
	Harvest(ctx context.Context, req harvest.Request) (*harvest.Result, error)
}

// Monitor runs one health check pass and returns the number of alerts sent.
type Monitor interface {
	Check(ctx context.Context) int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMonitor runs m on the given cron expression.
func WithMonitor(m Monitor, cron string) Option {
	return func(s *Scheduler) {
		s.monitor = m
		s.monitorCron = cron
	}
}

// WithAfterRun calls fn after every scheduled harvest, whatever its outcome.
func WithAfterRun(fn func()) Option {
	return func(s *Scheduler) { s.afterRun = fn }
}

// WithTimeout bounds each scheduled harvest.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// Scheduler runs harvests on cron schedules.
type Scheduler struct {
	scheduler *gocron.Scheduler
	harvester Harvester
	schedules []config.ScheduleConfig
	requests  map[string]harvest.Request

	monitor     Monitor
	monitorCron string
	afterRun    func()
	timeout     time.Duration

	log *zap.Logger
}

// New builds a scheduler for schedules. Every schedule's request is built
// up front so a bad mapping file fails here rather than at the first tick.
func New(h Harvester, schedules []config.ScheduleConfig, checkCompatibility bool, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		harvester: h,
		schedules: schedules,
		requests:  make(map[string]harvest.Request, len(schedules)),
		timeout:   6 * time.Hour,
		log:       zap.L().With(zap.String("component", "scheduler")),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, sc := range schedules {
		req, err := BuildRequest(sc, checkCompatibility)
		if err != nil {
			return nil, err
		}
		if _, dup := s.requests[sc.Name]; dup {
			return nil, eris.Errorf("scheduler: duplicate schedule %q", sc.Name)
		}
		s.requests[sc.Name] = req
	}
	return s, nil
}

// BuildRequest turns a schedule entry into a harvest request. The schedule
// enables the compatibility gate when either it or the global setting does.
func BuildRequest(sc config.ScheduleConfig, checkCompatibility bool) (harvest.Request, error) {
	kind, err := provider.ParseStoreKind(sc.StoreKind)
	if err != nil {
		return harvest.Request{}, eris.Wrapf(err, "scheduler: schedule %s", sc.Name)
	}
	var params map[string]string
	if sc.MappingFile != "" {
		params, err = config.LoadMapping(sc.MappingFile)
		if err != nil {
			return harvest.Request{}, eris.Wrapf(err, "scheduler: schedule %s", sc.Name)
		}
	}
	return harvest.Request{
		Source:             sc.Source,
		StoreKind:          kind,
		Remote:             sc.Remote,
		Params:             params,
		ServiceIDs:         sc.Services,
		RemovePrevious:     sc.RemovePrevious,
		CheckCompatibility: sc.CheckCompatibility || checkCompatibility,
	}, nil
}

// Start registers every job and starts the scheduler in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.schedules) == 0 && s.monitor == nil {
		s.log.Warn("scheduler: no schedules configured; nothing to schedule")
		return nil
	}

	for _, sc := range s.schedules {
		name := sc.Name
		_, err := s.scheduler.Cron(sc.Cron).Tag(name).SingletonMode().Do(func() {
			_ = s.RunOnce(ctx, name)
		})
		if err != nil {
			return eris.Wrapf(err, "scheduler: schedule %s (%s)", name, sc.Cron)
		}
		s.log.Info("scheduler: scheduled harvest", zap.String("schedule", name), zap.String("cron", sc.Cron))
	}

	if s.monitor != nil && s.monitorCron != "" {
		_, err := s.scheduler.Cron(s.monitorCron).Tag("monitoring").SingletonMode().Do(func() {
			s.monitor.Check(ctx)
		})
		if err != nil {
			return eris.Wrapf(err, "scheduler: schedule monitoring (%s)", s.monitorCron)
		}
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce runs the named schedule now. Failures are logged and returned.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	req, ok := s.requests[name]
	if !ok {
		return eris.Errorf("scheduler: unknown schedule %q", name)
	}
	if s.afterRun != nil {
		defer s.afterRun()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := s.log.With(zap.String("schedule", name), zap.String("source", req.Source))
	log.Info("scheduler: running harvest")
	res, err := s.harvester.Harvest(ctx, req)
	if err != nil {
		log.Error("scheduler: harvest failed", zap.Error(err))
		return err
	}
	log.Info("scheduler: harvest complete",
		zap.Int64("run", res.RunID),
		zap.Int("data_accepted", len(res.AcceptedData)),
		zap.Int("imported", res.Imported),
		zap.Int("failures", len(res.Failures)),
	)
	return nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.scheduler.Jobs())
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
