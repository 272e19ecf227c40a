package monitoring

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/profile-enrich/internal/enrich"
)

// recentRunWindow is how many run log entries a check looks at.
const recentRunWindow = 20

// Checker evaluates alerts after each enrichment run.
type Checker struct {
	collector *Collector
	alerter   *Alerter
}

// NewChecker creates a post-run alert checker.
func NewChecker(collector *Collector, alerter *Alerter) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
	}
}

// AfterRun collects a snapshot, treats sum as the latest run, and sends any
// alerts it triggers. It has the shape Runner.RunEvery expects.
func (c *Checker) AfterRun(ctx context.Context, sum *enrich.Summary, runErr error) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	ctx = context.WithoutCancel(ctx)

	snap, err := c.collector.Collect(ctx, recentRunWindow)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		if sum == nil {
			return
		}
		snap = &Snapshot{}
	}
	if sum != nil {
		snap.LastRun = sum
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
		zap.Bool("run_failed", runErr != nil),
	)
}
