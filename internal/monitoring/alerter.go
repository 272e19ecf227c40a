package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profile-enrich/internal/config"
	"github.com/sells-group/profile-enrich/internal/enrich"
	"github.com/sells-group/profile-enrich/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertExhaustedRate AlertType = "exhausted_rate"
	AlertRunFailure    AlertType = "run_failure"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// alertSource identifies this tool in webhook payloads.
const alertSource = "profile-enrich"

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			OnRetry:        resilience.LogRetry("alert webhook"),
		},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Too many guests have run out of retries.
	exhausted := snap.Phases[enrich.PhaseExhausted]
	if a.cfg.ExhaustedRateThreshold > 0 && snap.Attempted >= a.cfg.MinRows &&
		snap.ExhaustedRate > a.cfg.ExhaustedRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertExhaustedRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of attempted guests exhausted their retries, threshold %.1f%% (%d of %d)",
				snap.ExhaustedRate*100, a.cfg.ExhaustedRateThreshold*100, exhausted, snap.Attempted,
			),
			Details: map[string]any{
				"exhausted_rate": snap.ExhaustedRate,
				"threshold":      a.cfg.ExhaustedRateThreshold,
				"exhausted":      exhausted,
				"attempted":      snap.Attempted,
			},
			Timestamp: now,
		})
	}

	// The latest run failed outright.
	if r := snap.LastRun; r != nil && r.Status == enrich.RunFailed {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailure,
			Severity: "high",
			Message:  fmt.Sprintf("enrichment run %s (%s) failed: %s", r.RunID, r.Mode, r.Error),
			Details: map[string]any{
				"run_id":        r.RunID,
				"mode":          r.Mode,
				"attempted":     r.Attempted,
				"recent_failed": snap.RecentFailed,
				"recent_runs":   snap.RecentRuns,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// webhookPayload is the body posted for one alert check.
type webhookPayload struct {
	Source string  `json:"source"`
	Alerts []Alert `json:"alerts"`
}

// webhookStatusError is a non-2xx webhook response. Server errors are
// worth another try.
type webhookStatusError struct {
	code int
}

func (e *webhookStatusError) Error() string {
	return fmt.Sprintf("monitoring: webhook returned status %d", e.code)
}

func (e *webhookStatusError) Retryable() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

// SendAlerts posts alerts to the configured webhook in one payload and
// returns how many were delivered: all of them or none.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	body, err := json.Marshal(webhookPayload{Source: alertSource, Alerts: alerts})
	if err != nil {
		zap.L().Error("monitoring: marshal alerts", zap.Error(err))
		return 0
	}

	if err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.post(ctx, body)
	}); err != nil {
		zap.L().Error("monitoring: failed to send alerts",
			zap.Int("alerts", len(alerts)),
			zap.Error(err),
		)
		return 0
	}

	for _, alert := range alerts {
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
	}
	return len(alerts)
}

func (a *Alerter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return &webhookStatusError{code: resp.StatusCode}
	}
	return nil
}
