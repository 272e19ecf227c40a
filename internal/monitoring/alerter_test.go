package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-enrich/internal/config"
	"github.com/sells-group/profile-enrich/internal/enrich"
	"github.com/sells-group/profile-enrich/internal/resilience"
)

func exhaustedSnapshot(exhausted, attempted int) *Snapshot {
	return &Snapshot{
		Phases:        map[enrich.Phase]int{enrich.PhaseExhausted: exhausted},
		Attempted:     attempted,
		ExhaustedRate: float64(exhausted) / float64(attempted),
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ExhaustedRateThreshold: 0.5, MinRows: 10})

	snap := exhaustedSnapshot(2, 40)
	snap.LastRun = &enrich.Summary{RunID: "r1", Status: enrich.RunComplete}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ExhaustedRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ExhaustedRateThreshold: 0.5, MinRows: 10})

	alerts := a.Evaluate(exhaustedSnapshot(30, 40))
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertExhaustedRate, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "75.0%")
	assert.Equal(t, 30, alerts[0].Details["exhausted"])
}

func TestAlerter_Evaluate_MinimumRowsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ExhaustedRateThreshold: 0.5, MinRows: 10})

	// 100% exhausted but only 4 attempted rows.
	assert.Empty(t, a.Evaluate(exhaustedSnapshot(4, 4)))
}

func TestAlerter_Evaluate_ZeroThresholdDisables(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ExhaustedRateThreshold: 0})
	assert.Empty(t, a.Evaluate(exhaustedSnapshot(40, 40)))
}

func TestAlerter_Evaluate_RunFailure(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	snap := &Snapshot{
		RecentRuns:   5,
		RecentFailed: 2,
		LastRun:      &enrich.Summary{RunID: "r9", Mode: "batch", Status: enrich.RunFailed, Error: "persistence unavailable"},
	}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailure, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "r9")
	assert.Contains(t, alerts[0].Message, "persistence unavailable")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ExhaustedRateThreshold: 0.1, MinRows: 1})

	snap := exhaustedSnapshot(5, 10)
	snap.LastRun = &enrich.Summary{RunID: "r1", Status: enrich.RunFailed}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertExhaustedRate, alerts[0].Type)
	assert.Equal(t, AlertRunFailure, alerts[1].Type)
}

func fastRetry(a *Alerter) *Alerter {
	a.retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	return a
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var requests atomic.Int32
	var got webhookPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertExhaustedRate, Severity: "medium", Message: "test alert 1"},
		{Type: AlertRunFailure, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(1), requests.Load(), "alerts share one request")
	assert.Equal(t, "profile-enrich", got.Source)
	require.Len(t, got.Alerts, 2)
	assert.Equal(t, AlertRunFailure, got.Alerts[1].Type)
}

func TestAlerter_SendAlerts_RetriesServerErrors(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	a := fastRetry(NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}))
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailure, Message: "test"}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(3), requests.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailure, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := fastRetry(NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	}))

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailure, Message: "test"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(3), requests.Load())
}

func TestAlerter_SendAlerts_ClientErrorNotRetried(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	a := fastRetry(NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}))
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailure, Message: "test"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(1), requests.Load())
}
