package harvest

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/compat"
	"github.com/sells-group/sensor-harvest/internal/events"
	"github.com/sells-group/sensor-harvest/internal/om"
	"github.com/sells-group/sensor-harvest/internal/repository"
	"github.com/sells-group/sensor-harvest/internal/resilience"
	"github.com/sells-group/sensor-harvest/internal/sensorsvc"
)

// distribution is the state shared by every import of one run.
type distribution struct {
	// imported tracks sensors already written to a backing store so that
	// services sharing a store import each sensor once.
	imported map[sensorsvc.BackingStore]map[string]bool
	known    map[sensorsvc.BackingStore]*om.Registry
	reports  map[string]*compat.Report
}

// distribute imports every generated sensor into every target service. A
// failed import is recorded and the run moves on to the next pair.
func (o *Orchestrator) distribute(ctx context.Context, r *run, units []sensorUnit) error {
	if len(units) == 0 {
		return nil
	}
	st := &distribution{
		imported: make(map[sensorsvc.BackingStore]map[string]bool),
		known:    make(map[sensorsvc.BackingStore]*om.Registry),
		reports:  make(map[string]*compat.Report),
	}

	for _, svc := range r.services {
		log := r.log.With(zap.String("service", svc.ID()))
		for _, u := range units {
			if err := ctx.Err(); err != nil {
				return eris.Wrap(err, "harvest: distribute")
			}
			if r.req.CheckCompatibility {
				report, err := o.report(ctx, r, st, u)
				if err != nil {
					o.recordFailure(ctx, r, u.tree.ID, svc.ID(), err)
					continue
				}
				if report.Blocks(u.tree.ID, svc.ID()) {
					log.Warn("harvest: sensor incompatible with service, skipping", zap.String("sensor", u.tree.ID))
					o.deps.Metrics.IncompatiblePairs.WithLabelValues(svc.ID()).Inc()
					continue
				}
			}

			// A sensor is linked to the service only once its observations
			// are in the backing store, either imported here or already
			// imported through a service sharing that store.
			backing := svc.Backing()
			if st.imported[backing][u.tree.ID] {
				log.Debug("harvest: sensor already in backing store", zap.String("sensor", u.tree.ID), zap.Stringer("backing", backing))
				if err := o.linkTree(ctx, svc.ID(), u.tree); err != nil {
					return err
				}
				continue
			}

			n, err := o.importSensor(ctx, svc, st, u)
			if err != nil {
				o.recordFailure(ctx, r, u.tree.ID, svc.ID(), err)
				continue
			}
			if st.imported[backing] == nil {
				st.imported[backing] = make(map[string]bool)
			}
			st.imported[backing][u.tree.ID] = true
			if err := o.linkTree(ctx, svc.ID(), u.tree); err != nil {
				return err
			}
			if err := resilience.Do(ctx, o.retry(svc.ID(), "restart"), svc.Restart); err != nil {
				log.Warn("harvest: service restart failed", zap.Error(err))
			}
			r.result.Imported++
			o.deps.Metrics.SensorsImported.WithLabelValues(svc.ID()).Inc()
			o.publish(ctx, r, events.Event{
				Type:         events.SensorImported,
				SensorID:     u.tree.ID,
				ServiceID:    svc.ID(),
				Observations: n,
			})
			log.Info("harvest: imported sensor", zap.String("sensor", u.tree.ID), zap.Int("observations", n))
		}
	}
	return nil
}

// report returns the compatibility report of a unit's provider, checking
// each provider once per run.
func (o *Orchestrator) report(ctx context.Context, r *run, st *distribution, u sensorUnit) (*compat.Report, error) {
	if rep, ok := st.reports[u.data.ProviderID]; ok {
		return rep, nil
	}
	rep, err := o.deps.Checker.Check(ctx, u.data.ProviderID, targets(r.services))
	if err != nil {
		return nil, eris.Wrapf(err, "harvest: check compatibility of %s", u.provider.Path())
	}
	st.reports[u.data.ProviderID] = rep
	if !rep.Valid() {
		r.result.Incompatible = append(r.result.Incompatible, *rep)
	}
	return rep, nil
}

// importSensor writes one sensor with its observations into svc. Service
// calls go through the breaker of svc; transient errors are retried before
// the breaker counts a failure.
func (o *Orchestrator) importSensor(ctx context.Context, svc sensorsvc.Service, st *distribution, u sensorUnit) (int, error) {
	res, err := u.provider.Observations(ctx, u.tree.ID)
	if err != nil {
		return 0, eris.Wrapf(err, "harvest: extract observations of %s", u.tree.ID)
	}

	out, err := o.breaker(svc.ID()).Execute(func() (interface{}, error) {
		return resilience.DoVal(ctx, o.retry(svc.ID(), "import"), func(ctx context.Context) (int, error) {
			known, err := o.knownRegistry(ctx, svc, st)
			if err != nil {
				return 0, err
			}
			if err := svc.WriteProcedure(ctx, u.tree); err != nil {
				return 0, err
			}
			return svc.ImportObservations(ctx, res.Observations, known)
		})
	})
	if err != nil {
		return 0, eris.Wrapf(err, "harvest: import %s into %s", u.tree.ID, svc.ID())
	}
	return out.(int), nil
}

// knownRegistry returns the phenomena and features held by the backing
// store of svc, loading them on first use.
func (o *Orchestrator) knownRegistry(ctx context.Context, svc sensorsvc.Service, st *distribution) (*om.Registry, error) {
	b := svc.Backing()
	if reg, ok := st.known[b]; ok {
		return reg, nil
	}
	reg, err := sensorsvc.KnownRegistry(ctx, svc)
	if err != nil {
		return nil, err
	}
	st.known[b] = reg
	return reg, nil
}

// linkTree records that a sensor and its descendants live in a service.
func (o *Orchestrator) linkTree(ctx context.Context, serviceID string, t om.ProcedureTree) error {
	for _, id := range t.IDs() {
		if err := o.deps.Store.LinkSensorService(ctx, serviceID, id); err != nil {
			return eris.Wrapf(err, "harvest: link sensor %s to %s", id, serviceID)
		}
	}
	return nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, r *run, sensorID, serviceID string, err error) {
	r.log.Error("harvest: sensor import failed",
		zap.String("sensor", sensorID),
		zap.String("service", serviceID),
		zap.Error(err),
	)
	f := repository.DistributionFailure{
		RunID:     r.runID,
		SensorID:  sensorID,
		ServiceID: serviceID,
		Error:     err.Error(),
		FailedAt:  o.deps.Clock.Now().UTC(),
	}
	if recErr := o.deps.Store.RecordFailure(ctx, f); recErr != nil {
		r.log.Error("harvest: failed to record import failure", zap.Error(recErr))
	}
	r.result.Failures = append(r.result.Failures, f)
	o.deps.Metrics.ImportFailures.WithLabelValues(serviceID).Inc()
}

func (o *Orchestrator) retry(serviceID, operation string) resilience.RetryConfig {
	cfg := o.deps.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(serviceID, operation)
	}
	return cfg
}

// breaker returns the circuit breaker guarding a service.
func (o *Orchestrator) breaker(serviceID string) *gobreaker.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[serviceID]; ok {
		return cb
	}
	failures := o.deps.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sensorsvc-" + serviceID,
		MaxRequests: 1,
		Timeout:     o.deps.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.log.Warn("harvest: service breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	o.breakers[serviceID] = cb
	return cb
}
