package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Checker runs periodic alert checks in the background.
type Checker struct {
	collector     *Collector
	alerter       *Alerter
	interval      time.Duration
	lookbackHours int
}

// NewChecker creates a background alert checker. A non-positive interval
// defaults to five minutes.
func NewChecker(collector *Collector, alerter *Alerter, interval time.Duration, lookbackHours int) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		collector:     collector,
		alerter:       alerter,
		interval:      interval,
		lookbackHours: lookbackHours,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring"))
	log.Info("starting alert checker",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookbackHours),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects one snapshot and sends any resulting alerts.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.lookbackHours)
	if err != nil {
		zap.L().Error("monitoring: failed to collect snapshot", zap.String("component", "monitoring"), zap.Error(err))
		return nil
	}
	alerts := c.alerter.Evaluate(snap)
	c.alerter.SendAlerts(ctx, alerts)
	return alerts
}
