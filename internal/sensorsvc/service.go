// Package sensorsvc is the target side of a harvest: sensor services that
// receive procedures and observations, and the directory that resolves them.
package sensorsvc

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sensor-harvest/internal/om"
)

// BackingStore identifies the physical store behind a service. Two services
// with equal backing stores hold the same rows.
type BackingStore struct {
	Host     string
	Port     uint16
	Database string
	Schema   string
}

func (b BackingStore) String() string {
	return fmt.Sprintf("%s:%d/%s.%s", b.Host, b.Port, b.Database, b.Schema)
}

// BackingStoreFromURL derives the backing store of a Postgres connection
// string and schema.
func BackingStoreFromURL(databaseURL, schema string) (BackingStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return BackingStore{}, eris.Wrap(err, "sensorsvc: parse database url")
	}
	return BackingStore{
		Host:     cfg.ConnConfig.Host,
		Port:     cfg.ConnConfig.Port,
		Database: cfg.ConnConfig.Database,
		Schema:   schema,
	}, nil
}

// Service receives sensors and their observations.
type Service interface {
	ID() string
	Label() string
	Backing() BackingStore

	// Templates returns the distinct record shapes already stored for a
	// procedure. Zero templates means the procedure is new to the service.
	Templates(ctx context.Context, procedureID string) ([]om.Observation, error)
	Phenomena(ctx context.Context) ([]om.Phenomenon, error)
	SamplingFeatures(ctx context.Context) ([]om.SamplingFeature, error)

	WriteProcedure(ctx context.Context, tree om.ProcedureTree) error
	// ImportObservations stores obs, reusing the phenomena and features in
	// known. known is extended with whatever the import created.
	ImportObservations(ctx context.Context, obs []om.Observation, known *om.Registry) (int, error)
	RemoveProcedure(ctx context.Context, id string) error
	// Restart asks the running service to reload its content.
	Restart(ctx context.Context) error
}

// KnownRegistry loads the phenomena and features s already holds.
func KnownRegistry(ctx context.Context, s Service) (*om.Registry, error) {
	phen, err := s.Phenomena(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "sensorsvc: load phenomena of %s", s.ID())
	}
	features, err := s.SamplingFeatures(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "sensorsvc: load sampling features of %s", s.ID())
	}
	return &om.Registry{Phenomena: phen, Features: features}, nil
}

// Directory resolves configured services by id.
type Directory struct {
	services map[string]Service
	order    []string
}

// NewDirectory returns a directory over services. Later services replace
// earlier ones with the same id.
func NewDirectory(services ...Service) *Directory {
	d := &Directory{services: make(map[string]Service)}
	for _, s := range services {
		if _, ok := d.services[s.ID()]; !ok {
			d.order = append(d.order, s.ID())
		}
		d.services[s.ID()] = s
	}
	return d
}

// Get returns the service with the given id.
func (d *Directory) Get(id string) (Service, error) {
	s, ok := d.services[id]
	if !ok {
		return nil, eris.Errorf("sensorsvc: unknown service %q", id)
	}
	return s, nil
}

// Resolve returns the services with the given ids, in order.
func (d *Directory) Resolve(ids []string) ([]Service, error) {
	out := make([]Service, 0, len(ids))
	for _, id := range ids {
		s, err := d.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// All returns every service in registration order.
func (d *Directory) All() []Service {
	out := make([]Service, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.services[id])
	}
	return out
}
