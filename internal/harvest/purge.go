package harvest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/repository"
)

// purge removes everything a datasource produced in earlier runs: service
// content, sensors, providers with their data, then the selected paths.
func (o *Orchestrator) purge(ctx context.Context, datasourceID int64) error {
	providers, err := o.deps.Store.ProvidersByDatasource(ctx, datasourceID)
	if err != nil {
		return eris.Wrap(err, "harvest: list providers")
	}
	for _, p := range providers {
		if err := o.removeProvider(ctx, p.ID); err != nil {
			return err
		}
	}
	if err := o.deps.Store.ClearPaths(ctx, datasourceID); err != nil {
		return eris.Wrap(err, "harvest: clear paths")
	}
	o.log.Info("harvest: purged previous harvest",
		zap.Int64("datasource", datasourceID),
		zap.Int("providers", len(providers)),
	)
	return nil
}

// removeProvider tears down one provider. Sensors are detached from their
// services before they are deleted, children before parents, and the
// provider goes last.
func (o *Orchestrator) removeProvider(ctx context.Context, providerID string) error {
	sensors, err := o.providerSensors(ctx, providerID)
	if err != nil {
		return err
	}
	for _, s := range sensors {
		if err := o.unlinkSensor(ctx, s.ID); err != nil {
			return err
		}
	}
	// sensors lists parents before children.
	for i := len(sensors) - 1; i >= 0; i-- {
		if err := o.deps.Store.DeleteSensor(ctx, sensors[i].ID); err != nil {
			return eris.Wrapf(err, "harvest: delete sensor %s", sensors[i].ID)
		}
	}
	if err := o.deps.Store.DeleteProvider(ctx, providerID); err != nil {
		return eris.Wrapf(err, "harvest: delete provider %s", providerID)
	}
	o.deps.Providers.Evict(providerID)
	return nil
}

// providerSensors returns the sensors generated from a provider's data with
// all their descendants, each parent ahead of its children.
func (o *Orchestrator) providerSensors(ctx context.Context, providerID string) ([]repository.Sensor, error) {
	data, err := o.deps.Store.DataByProvider(ctx, providerID)
	if err != nil {
		return nil, eris.Wrapf(err, "harvest: list data of provider %s", providerID)
	}
	seen := make(map[string]bool)
	var out []repository.Sensor
	var walk func(s repository.Sensor) error
	walk = func(s repository.Sensor) error {
		if seen[s.ID] {
			return nil
		}
		seen[s.ID] = true
		out = append(out, s)
		children, err := o.deps.Store.SensorChildren(ctx, s.ID)
		if err != nil {
			return eris.Wrapf(err, "harvest: list children of sensor %s", s.ID)
		}
		for _, c := range children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, d := range data {
		sensors, err := o.deps.Store.SensorsByData(ctx, d.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "harvest: list sensors of data %d", d.ID)
		}
		for _, s := range sensors {
			if err := walk(s); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// unlinkSensor removes a sensor from every service it was imported into.
// Links to services that are no longer configured are dropped locally only.
func (o *Orchestrator) unlinkSensor(ctx context.Context, sensorID string) error {
	serviceIDs, err := o.deps.Store.SensorServices(ctx, sensorID)
	if err != nil {
		return eris.Wrapf(err, "harvest: list services of sensor %s", sensorID)
	}
	for _, id := range serviceIDs {
		svc, err := o.deps.Services.Get(id)
		if err != nil {
			o.log.Warn("harvest: sensor linked to unknown service",
				zap.String("sensor", sensorID), zap.String("service", id))
		} else if err := svc.RemoveProcedure(ctx, sensorID); err != nil {
			return eris.Wrapf(err, "harvest: remove sensor %s from %s", sensorID, id)
		}
		if err := o.deps.Store.UnlinkSensorService(ctx, id, sensorID); err != nil {
			return eris.Wrapf(err, "harvest: unlink sensor %s from %s", sensorID, id)
		}
	}
	return nil
}
