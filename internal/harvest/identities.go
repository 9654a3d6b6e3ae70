package harvest

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/om"
	"github.com/sells-group/sensor-harvest/internal/provider"
	"github.com/sells-group/sensor-harvest/internal/repository"
)

// sensorUnit is one accepted data item with the procedure tree it produced.
type sensorUnit struct {
	data     repository.Data
	provider provider.ObservationProvider
	tree     om.ProcedureTree
}

// generateIdentities persists a sensor for the procedure tree behind each
// accepted data item and links the root sensor to the data. Data served by
// providers without observations produces no sensor.
func (o *Orchestrator) generateIdentities(ctx context.Context, r *run, accepted []repository.Data) ([]sensorUnit, error) {
	var units []sensorUnit
	created := 0
	for _, d := range accepted {
		op, err := provider.Observation(ctx, o.deps.Providers, d.ProviderID)
		if errors.Is(err, provider.ErrNotObservationProvider) {
			r.log.Debug("harvest: data carries no observations", zap.Int64("data", d.ID))
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "harvest: open provider of data %d", d.ID)
		}
		trees, err := op.ProcedureTrees(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "harvest: build procedures of data %d", d.ID)
		}
		for _, t := range trees {
			if t.ID != d.Resource {
				continue
			}
			n, err := o.createSensors(ctx, t, "")
			if err != nil {
				return nil, err
			}
			created += n
			if err := o.deps.Store.LinkSensorData(ctx, t.ID, d.ID); err != nil {
				return nil, eris.Wrapf(err, "harvest: link sensor %s to data %d", t.ID, d.ID)
			}
			units = append(units, sensorUnit{data: d, provider: op, tree: t})
			r.result.Sensors = append(r.result.Sensors, t.ID)
		}
	}
	r.log.Info("harvest: generated sensor identities", zap.Int("sensors", len(units)), zap.Int("new", created))
	return units, nil
}

// createSensors stores t and its descendants. Sensors that already exist are
// kept as they are.
func (o *Orchestrator) createSensors(ctx context.Context, t om.ProcedureTree, parentID string) (int, error) {
	s := &repository.Sensor{
		ID:             t.ID,
		ParentID:       parentID,
		Type:           t.Type,
		MeasuredFields: t.MeasuredFields,
		Bound:          t.Bound,
	}
	isNew, err := o.deps.Store.CreateSensor(ctx, s)
	if err != nil {
		return 0, eris.Wrapf(err, "harvest: create sensor %s", t.ID)
	}
	n := 0
	if isNew {
		n++
	}
	for _, c := range t.Children {
		m, err := o.createSensors(ctx, c, t.ID)
		if err != nil {
			return 0, err
		}
		n += m
	}
	return n, nil
}
