package monitoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Runs.WithLabelValues("complete").Inc()
	m.FilesIntegrated.WithLabelValues("INTEGRATED").Add(2)
	m.FilesIntegrated.WithLabelValues("NO_DATA").Inc()
	m.DataAccepted.Add(2)
	m.SensorsImported.WithLabelValues("sos-1").Add(2)
	m.ImportFailures.WithLabelValues("sos-2").Inc()
	m.HarvestDuration.Observe(1.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("complete")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilesIntegrated.WithLabelValues("INTEGRATED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DataAccepted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SensorsImported.WithLabelValues("sos-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImportFailures.WithLabelValues("sos-2")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HarvestDuration))
}

func TestMetrics_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.DataAccepted.Add(3)

	path := filepath.Join(t.TempDir(), "harvest.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sensor_harvest_data_accepted_total 3")
}
