package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/config"
	"github.com/sells-group/sensor-harvest/internal/harvest"
	"github.com/sells-group/sensor-harvest/internal/provider"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeHarvester struct {
	mu   sync.Mutex
	reqs []harvest.Request
	err  error
}

func (f *fakeHarvester) Harvest(_ context.Context, req harvest.Request) (*harvest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &harvest.Result{RunID: int64(len(f.reqs)), AcceptedData: []int64{1}}, nil
}

type fakeMonitor struct{ calls int }

func (m *fakeMonitor) Check(context.Context) int {
	m.calls++
	return 0
}

func writeMapping(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buoys.yaml")
	body := "main_column: DATE\nobservation_type: Timeserie\nmeasure_columns: [TEMP, SAL]\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestBuildRequest(t *testing.T) {
	sc := config.ScheduleConfig{
		Name:           "buoys",
		Cron:           "0 * * * *",
		Source:         "/data/buoys",
		StoreKind:      "CSV",
		MappingFile:    writeMapping(t),
		Services:       []string{"sos-1"},
		RemovePrevious: true,
	}

	req, err := BuildRequest(sc, false)
	require.NoError(t, err)
	assert.Equal(t, "/data/buoys", req.Source)
	assert.Equal(t, provider.KindCSV, req.StoreKind)
	assert.Equal(t, []string{"sos-1"}, req.ServiceIDs)
	assert.True(t, req.RemovePrevious)
	assert.False(t, req.CheckCompatibility)
	assert.Equal(t, map[string]string{
		"main_column":      "DATE",
		"observation_type": "Timeserie",
		"measure_columns":  "TEMP,SAL",
	}, req.Params)

	req, err = BuildRequest(sc, true)
	require.NoError(t, err)
	assert.True(t, req.CheckCompatibility)
}

func TestBuildRequest_Errors(t *testing.T) {
	_, err := BuildRequest(config.ScheduleConfig{Name: "x", StoreKind: "parquet"}, false)
	assert.ErrorContains(t, err, "schedule x")

	_, err = BuildRequest(config.ScheduleConfig{Name: "y", StoreKind: "csv", MappingFile: "/no/such/file.yaml"}, false)
	assert.ErrorContains(t, err, "schedule y")
}

func TestNew_DuplicateSchedule(t *testing.T) {
	sc := config.ScheduleConfig{Name: "buoys", Cron: "0 * * * *", Source: "/data", StoreKind: "csv"}
	_, err := New(&fakeHarvester{}, []config.ScheduleConfig{sc, sc}, false)
	assert.ErrorContains(t, err, "duplicate schedule")
}

func TestRunOnce(t *testing.T) {
	h := &fakeHarvester{}
	after := 0
	s, err := New(h, []config.ScheduleConfig{
		{Name: "buoys", Cron: "0 * * * *", Source: "/data/buoys", StoreKind: "csv"},
	}, true, WithAfterRun(func() { after++ }))
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background(), "buoys"))
	require.Len(t, h.reqs, 1)
	assert.Equal(t, "/data/buoys", h.reqs[0].Source)
	assert.True(t, h.reqs[0].CheckCompatibility)
	assert.Equal(t, 1, after)

	h.err = errors.New("boom")
	assert.EqualError(t, s.RunOnce(context.Background(), "buoys"), "boom")
	assert.Equal(t, 2, after)

	assert.ErrorContains(t, s.RunOnce(context.Background(), "nope"), "unknown schedule")
	assert.Equal(t, 2, after)
}

func TestStart_RegistersJobs(t *testing.T) {
	mon := &fakeMonitor{}
	s, err := New(&fakeHarvester{}, []config.ScheduleConfig{
		{Name: "buoys", Cron: "0 * * * *", Source: "/data/buoys", StoreKind: "csv"},
		{Name: "gliders", Cron: "30 2 * * *", Source: "/data/gliders", StoreKind: "xlsx"},
	}, false, WithMonitor(mon, "*/15 * * * *"))
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Equal(t, 3, s.Jobs())
}

func TestStart_InvalidCron(t *testing.T) {
	s, err := New(&fakeHarvester{}, []config.ScheduleConfig{
		{Name: "buoys", Cron: "every tuesday", Source: "/data/buoys", StoreKind: "csv"},
	}, false)
	require.NoError(t, err)

	err = s.Start(context.Background())
	assert.ErrorContains(t, err, "schedule buoys")
}

func TestStart_NothingToSchedule(t *testing.T) {
	s, err := New(&fakeHarvester{}, nil, false)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Zero(t, s.Jobs())
}
