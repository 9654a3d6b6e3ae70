package monitoring

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/config"
)

// Checker is the scheduled health check: it snapshots the run log over the
// lookback window and delivers the alerts the snapshot triggers.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	metrics   *Metrics
	lookback  int
	log       *zap.Logger
}

// NewChecker creates a health check. metrics may be nil.
func NewChecker(collector *Collector, alerter *Alerter, metrics *Metrics, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		metrics:   metrics,
		lookback:  cfg.LookbackWindowHours,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Check returns the number of alerts delivered. Collection errors are
// logged and count as no alert.
func (c *Checker) Check(ctx context.Context) int {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("monitoring: failed to collect run log", zap.Error(err))
		return 0
	}

	triggered := c.alerter.Evaluate(snap)
	if len(triggered) == 0 {
		c.log.Debug("monitoring: harvests healthy",
			zap.Int("runs", snap.RunsTotal),
			zap.Int("lookback_hours", c.lookback),
		)
		return 0
	}

	sent := 0
	for _, a := range triggered {
		if c.alerter.SendAlerts(ctx, []Alert{a}) == 0 {
			continue
		}
		sent++
		if c.metrics != nil {
			c.metrics.AlertsSent.WithLabelValues(string(a.Type)).Inc()
		}
	}
	c.log.Info("monitoring: health check complete",
		zap.Int("alerts_triggered", len(triggered)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}
