// Package monitoring exports harvest metrics and raises alerts when runs
// start failing.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

// Metrics holds the Prometheus collectors updated by the harvest orchestrator.
type Metrics struct {
	Runs              *prometheus.CounterVec // labels: status={complete,failed}
	FilesIntegrated   *prometheus.CounterVec // labels: status={INTEGRATED,NO_DATA,REMOVED,ERROR}
	DataAccepted      prometheus.Counter
	SensorsImported   *prometheus.CounterVec // labels: service
	ImportFailures    *prometheus.CounterVec // labels: service
	IncompatiblePairs *prometheus.CounterVec // labels: service
	HarvestDuration   prometheus.Histogram
	AlertsSent        *prometheus.CounterVec // labels: type
}

// NewMetrics creates the harvest metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensor_harvest",
			Name:      "runs_total",
			Help:      "Harvest runs by final status.",
		}, []string{"status"}),
		FilesIntegrated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensor_harvest",
			Name:      "files_total",
			Help:      "Selected paths processed, by resulting path status.",
		}, []string{"status"}),
		DataAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensor_harvest",
			Name:      "data_accepted_total",
			Help:      "Data identifiers created from integrated files.",
		}),
		SensorsImported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensor_harvest",
			Name:      "sensors_imported_total",
			Help:      "Sensors whose observations were imported into a service.",
		}, []string{"service"}),
		ImportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensor_harvest",
			Name:      "import_failures_total",
			Help:      "Sensors that could not be imported into a service.",
		}, []string{"service"}),
		IncompatiblePairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensor_harvest",
			Name:      "incompatible_pairs_total",
			Help:      "Sensor and service pairs rejected by the unit compatibility check.",
		}, []string{"service"}),
		HarvestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sensor_harvest",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete harvest run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensor_harvest",
			Name:      "alerts_sent_total",
			Help:      "Health alerts delivered to the webhook, by alert type.",
		}, []string{"type"}),
	}
	reg.MustRegister(
		m.Runs,
		m.FilesIntegrated,
		m.DataAccepted,
		m.SensorsImported,
		m.ImportFailures,
		m.IncompatiblePairs,
		m.HarvestDuration,
		m.AlertsSent,
	)
	return m
}

// WriteTextfile writes every metric gathered by g to path in the text
// exposition format, for the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return eris.Wrapf(err, "monitoring: write textfile %s", path)
	}
	return nil
}
