package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/config"
	"github.com/sells-group/sensor-harvest/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate      AlertType = "run_failure_rate"
	AlertDistributionFailure AlertType = "distribution_failure"
	AlertStaleRun            AlertType = "stale_run"
)

// minFinishedRuns is the number of finished runs below which the failure
// rate is not judged.
const minFinishedRuns = 5

// Alert is one webhook notification.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	ServiceID string         `json:"service_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns a MetricsSnapshot into alerts and posts them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
	log    *zap.Logger
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.DefaultRetryConfig(),
		log:    zap.L().With(zap.String("component", "monitoring.alerter")),
	}
}

// Evaluate returns the alerts snap triggers. Import failures raise one
// alert per service, in service order.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	at := snap.CollectedAt

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= minFinishedRuns && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Harvest failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: at,
		})
	}

	services := make([]string, 0, len(snap.FailuresByService))
	for id := range snap.FailuresByService {
		services = append(services, id)
	}
	sort.Strings(services)
	for _, id := range services {
		n := snap.FailuresByService[id]
		alerts = append(alerts, Alert{
			Type:      AlertDistributionFailure,
			Severity:  "medium",
			ServiceID: id,
			Message:   fmt.Sprintf("%d sensor import(s) into %s failed in last %dh", n, id, snap.LookbackHours),
			Details: map[string]any{
				"failed_imports":   n,
				"sensors_imported": snap.SensorsImported,
			},
			Timestamp: at,
		})
	}

	if a.cfg.StaleRunHours > 0 && !snap.OldestRunning.IsZero() {
		age := at.Sub(snap.OldestRunning)
		if age > time.Duration(a.cfg.StaleRunHours)*time.Hour {
			alerts = append(alerts, Alert{
				Type:     AlertStaleRun,
				Severity: "high",
				Message: fmt.Sprintf("A harvest has been running for %s (limit %dh)",
					age.Truncate(time.Minute), a.cfg.StaleRunHours),
				Details: map[string]any{
					"started_at": snap.OldestRunning,
					"running":    snap.RunsRunning,
				},
				Timestamp: at,
			})
		}
	}

	return alerts
}

// SendAlerts posts alerts to the configured webhook and returns how many
// were delivered. 5xx responses are retried.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.post(ctx, alert)
		})
		if err != nil {
			a.log.Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		a.log.Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode >= 500:
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
