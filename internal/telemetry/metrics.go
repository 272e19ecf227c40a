package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sells-group/profile-enrich/internal/enrich"
)

// EnrichMetricsMeterName names the meter enrichment instruments live under.
const EnrichMetricsMeterName = "github.com/sells-group/profile-enrich/enrich"

// EnrichmentMetrics records finished runs. It implements enrich.Recorder.
type EnrichmentMetrics struct {
	runs        metric.Int64Counter
	candidates  metric.Int64Counter
	rowsWritten metric.Int64Counter
	runDuration metric.Float64Histogram
}

var _ enrich.Recorder = (*EnrichmentMetrics)(nil)

// NewEnrichmentMetrics creates the instruments on provider. A nil provider
// yields nil metrics, which record nothing.
func NewEnrichmentMetrics(provider metric.MeterProvider) (*EnrichmentMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(EnrichMetricsMeterName)

	runs, err := meter.Int64Counter(
		"enrich_runs_total",
		metric.WithDescription("Enrichment runs by mode and final status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	candidates, err := meter.Int64Counter(
		"enrich_candidates_total",
		metric.WithDescription("Candidates processed by outcome"),
		metric.WithUnit("{guest}"),
	)
	if err != nil {
		return nil, err
	}

	rowsWritten, err := meter.Int64Counter(
		"enrich_rows_written_total",
		metric.WithDescription("State rows upserted"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"enrich_run_duration_seconds",
		metric.WithDescription("Wall time of enrichment runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600, 1200),
	)
	if err != nil {
		return nil, err
	}

	return &EnrichmentMetrics{
		runs:        runs,
		candidates:  candidates,
		rowsWritten: rowsWritten,
		runDuration: runDuration,
	}, nil
}

// RecordRun records one finished run.
func (m *EnrichmentMetrics) RecordRun(ctx context.Context, s *enrich.Summary, elapsed time.Duration) {
	if m == nil || s == nil {
		return
	}

	runAttrs := metric.WithAttributes(
		attribute.String("mode", s.Mode),
		attribute.String("status", string(s.Status)),
	)
	m.runs.Add(ctx, 1, runAttrs)
	m.runDuration.Record(ctx, elapsed.Seconds(), runAttrs)

	for outcome, n := range map[string]int{
		"resolved":   s.Resolved,
		"unresolved": s.Unresolved,
		"skipped":    s.Skipped,
	} {
		if n == 0 {
			continue
		}
		m.candidates.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("mode", s.Mode),
			attribute.String("outcome", outcome),
		))
	}

	if s.Written > 0 {
		m.rowsWritten.Add(ctx, s.Written, metric.WithAttributes(attribute.String("mode", s.Mode)))
	}
}
