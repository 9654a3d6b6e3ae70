package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/sensor-harvest/internal/config"
	"github.com/sells-group/sensor-harvest/internal/repository"
)

func TestChecker_SendsTriggeredAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	log := &mockRunLog{
		runs: []repository.HarvestRun{{ID: 1, Status: repository.RunComplete, StartedAt: collectNow.Add(-time.Hour)}},
		failures: map[int64][]repository.DistributionFailure{
			1: {{RunID: 1, SensorID: "buoy-1", ServiceID: "sos-1"}},
		},
	}
	cfg := config.MonitoringConfig{WebhookURL: ts.URL, FailureRateThreshold: 0.25, LookbackWindowHours: 24}
	m := NewMetrics(prometheus.NewRegistry())
	checker := NewChecker(NewCollector(log, clockwork.NewFakeClockAt(collectNow)), NewAlerter(cfg), m, cfg)

	assert.Equal(t, 1, checker.Check(context.Background()))
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsSent.WithLabelValues(string(AlertDistributionFailure))))
}

func TestChecker_NoAlerts(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.25, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(&mockRunLog{}, nil), NewAlerter(cfg), nil, cfg)

	assert.Equal(t, 0, checker.Check(context.Background()))
}
