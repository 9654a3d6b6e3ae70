package harvest

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sells-group/sensor-harvest/internal/events"
	"github.com/sells-group/sensor-harvest/internal/fetcher"
	"github.com/sells-group/sensor-harvest/internal/om"
	"github.com/sells-group/sensor-harvest/internal/repository"
	"github.com/sells-group/sensor-harvest/internal/sensorsvc"
)

// fakeService is an in-memory sensor service.
type fakeService struct {
	mu sync.Mutex

	id, label string
	backing   sensorsvc.BackingStore
	templates map[string][]om.Observation
	importErr error
	// flaky fails that many imports with a transient error first.
	flaky int

	procedures  []string
	imported    map[string]int
	importCalls int
	removed     []string
	restarts    int
}

func newFakeService(id string) *fakeService {
	return &fakeService{
		id:       id,
		label:    strings.ToUpper(id),
		backing:  sensorsvc.BackingStore{Host: "db", Port: 5432, Database: "sos", Schema: id},
		imported: make(map[string]int),
	}
}

var _ sensorsvc.Service = (*fakeService)(nil)

func (f *fakeService) ID() string                      { return f.id }
func (f *fakeService) Label() string                   { return f.label }
func (f *fakeService) Backing() sensorsvc.BackingStore { return f.backing }

func (f *fakeService) Templates(_ context.Context, procedureID string) ([]om.Observation, error) {
	return f.templates[procedureID], nil
}

func (f *fakeService) Phenomena(context.Context) ([]om.Phenomenon, error) {
	return nil, nil
}

func (f *fakeService) SamplingFeatures(context.Context) ([]om.SamplingFeature, error) {
	return nil, nil
}

func (f *fakeService) WriteProcedure(_ context.Context, tree om.ProcedureTree) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procedures = append(f.procedures, tree.ID)
	return nil
}

func (f *fakeService) ImportObservations(_ context.Context, obs []om.Observation, _ *om.Registry) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.importCalls++
	if f.flaky > 0 {
		f.flaky--
		return 0, &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	}
	if f.importErr != nil {
		return 0, f.importErr
	}
	for _, o := range obs {
		f.imported[o.Procedure] += o.Result.Count
	}
	return len(obs), nil
}

func (f *fakeService) RemoveProcedure(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	delete(f.imported, id)
	return nil
}

func (f *fakeService) Restart(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

// recordingPublisher keeps published events in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// staticFetcher serves one body for every URL.
type staticFetcher struct {
	body string
	urls []string
}

var _ fetcher.Fetcher = (*staticFetcher)(nil)

func (s *staticFetcher) Download(_ context.Context, url string) (io.ReadCloser, error) {
	s.urls = append(s.urls, url)
	return io.NopCloser(strings.NewReader(s.body)), nil
}

func (s *staticFetcher) DownloadToFile(_ context.Context, url, path string) (int64, error) {
	s.urls = append(s.urls, url)
	if err := os.WriteFile(path, []byte(s.body), 0o644); err != nil {
		return 0, err
	}
	return int64(len(s.body)), nil
}

var errServiceDown = errors.New("connection refused")

// failingDataStore rejects every data record.
type failingDataStore struct {
	repository.Store
}

func (s *failingDataStore) CreateData(context.Context, *repository.Data) error {
	return errors.New("disk full")
}
