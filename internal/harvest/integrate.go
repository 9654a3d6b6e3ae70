package harvest

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/repository"
)

// integrate opens a provider for every NEW path and accepts its resources
// as data. The first file that cannot be opened marks its path ERROR and
// aborts the run; files accepted before it are rolled back to NEW so the
// next run integrates them again. Data accepted by the run is returned.
func (o *Orchestrator) integrate(ctx context.Context, r *run) ([]repository.Data, error) {
	paths, err := o.deps.Store.Paths(ctx, r.ds.ID)
	if err != nil {
		return nil, eris.Wrap(err, "harvest: list paths")
	}
	datasetKey := r.req.DatasetID
	if datasetKey == "" {
		datasetKey = r.req.Source
	}

	var (
		accepted []repository.Data
		done     []repository.SelectedPath
	)
	for _, p := range paths {
		switch {
		case p.Status == repository.PathRemoved:
			if p.ProviderID != "" {
				if err := o.removeProvider(ctx, p.ProviderID); err != nil {
					return nil, err
				}
				if err := o.deps.Store.SetPathStatus(ctx, r.ds.ID, p.Path, repository.PathRemoved, ""); err != nil {
					return nil, eris.Wrap(err, "harvest: detach removed path")
				}
				r.log.Info("harvest: removed vanished file", zap.String("path", p.Path))
			}
			r.result.Skipped = append(r.result.Skipped, PathOutcome{Path: p.Path, Status: p.Status})
			continue
		case p.Status != repository.PathNew:
			r.result.Skipped = append(r.result.Skipped, PathOutcome{Path: p.Path, Status: p.Status})
			continue
		}

		data, status, providerID, err := o.integrateFile(ctx, r, p.Path, datasetKey)
		o.deps.Metrics.FilesIntegrated.WithLabelValues(string(status)).Inc()
		if err != nil {
			o.rollback(ctx, r, done)
			return nil, err
		}
		if status == repository.PathIntegrated {
			done = append(done, repository.SelectedPath{Path: p.Path, ProviderID: providerID})
		}
		accepted = append(accepted, data...)
	}

	for _, d := range accepted {
		r.result.AcceptedData = append(r.result.AcceptedData, d.ID)
	}
	o.deps.Metrics.DataAccepted.Add(float64(len(accepted)))
	return accepted, nil
}

// integrateFile registers a provider for one path and records its data.
func (o *Orchestrator) integrateFile(ctx context.Context, r *run, path, datasetKey string) ([]repository.Data, repository.PathStatus, string, error) {
	log := r.log.With(zap.String("path", path))

	rec := &repository.Provider{
		ID:           uuid.NewString(),
		DatasourceID: r.ds.ID,
		Kind:         string(r.req.StoreKind),
		Path:         path,
		Params:       r.req.Params,
	}
	if err := o.deps.Store.CreateProvider(ctx, rec); err != nil {
		return nil, repository.PathError, "", eris.Wrapf(err, "harvest: register provider for %s", path)
	}

	resources, err := o.resources(ctx, rec.ID)
	if err != nil {
		log.Error("harvest: file integration failed", zap.Error(err))
		if markErr := o.deps.Store.SetPathStatus(ctx, r.ds.ID, path, repository.PathError, rec.ID); markErr != nil {
			log.Error("harvest: failed to mark path", zap.Error(markErr))
		}
		return nil, repository.PathError, rec.ID, eris.Wrapf(err, "harvest: integrate %s", path)
	}
	if len(resources) == 0 {
		log.Warn("harvest: file holds no data")
		if err := o.deps.Store.SetPathStatus(ctx, r.ds.ID, path, repository.PathNoData, rec.ID); err != nil {
			return nil, repository.PathNoData, rec.ID, eris.Wrap(err, "harvest: mark path")
		}
		return nil, repository.PathNoData, rec.ID, nil
	}

	// The path stays NEW when recording fails, so the provider and any data
	// already attached to it must not outlive the failure.
	discard := func(err error) ([]repository.Data, repository.PathStatus, string, error) {
		if rmErr := o.removeProvider(ctx, rec.ID); rmErr != nil {
			log.Error("harvest: failed to discard provider", zap.String("provider_id", rec.ID), zap.Error(rmErr))
		}
		return nil, repository.PathError, "", err
	}

	datasetID, err := o.deps.Store.Dataset(ctx, datasetKey)
	if err != nil {
		return discard(eris.Wrap(err, "harvest: resolve dataset"))
	}
	data := make([]repository.Data, 0, len(resources))
	for _, res := range resources {
		d := repository.Data{ProviderID: rec.ID, DatasetID: datasetID, Resource: res}
		if err := o.deps.Store.CreateData(ctx, &d); err != nil {
			return discard(eris.Wrapf(err, "harvest: accept %s of %s", res, path))
		}
		data = append(data, d)
	}
	if err := o.deps.Store.SetPathStatus(ctx, r.ds.ID, path, repository.PathIntegrated, rec.ID); err != nil {
		return discard(eris.Wrap(err, "harvest: mark path"))
	}
	log.Info("harvest: integrated file", zap.Int("resources", len(resources)))
	return data, repository.PathIntegrated, rec.ID, nil
}

func (o *Orchestrator) resources(ctx context.Context, providerID string) ([]string, error) {
	p, err := o.deps.Providers.Provider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return p.Resources(ctx)
}

// rollback returns the paths integrated by an aborted run to NEW and drops
// the providers and data they produced.
func (o *Orchestrator) rollback(ctx context.Context, r *run, done []repository.SelectedPath) {
	for _, p := range done {
		if err := o.removeProvider(ctx, p.ProviderID); err != nil {
			r.log.Error("harvest: rollback failed", zap.String("path", p.Path), zap.Error(err))
			continue
		}
		if err := o.deps.Store.SetPathStatus(ctx, r.ds.ID, p.Path, repository.PathNew, ""); err != nil {
			r.log.Error("harvest: rollback failed", zap.String("path", p.Path), zap.Error(err))
		}
	}
}
