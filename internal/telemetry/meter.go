// Package telemetry exports enrichment run metrics over OTLP.
package telemetry

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/sells-group/profile-enrich/internal/config"
)

const (
	// DefaultServiceName is reported when the config leaves it empty.
	DefaultServiceName = "profile-enrich"

	// DefaultEndpoint is the local OTLP HTTP collector.
	DefaultEndpoint = "localhost:4318"

	// DefaultMetricsInterval is how often the periodic reader exports.
	DefaultMetricsInterval = 60 * time.Second
)

// MeterProviderOption configures NewMeterProvider.
type MeterProviderOption func(*meterProviderConfig)

type meterProviderConfig struct {
	serviceVersion string
	interval       time.Duration
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(version string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.serviceVersion = version
	}
}

// WithInterval overrides the export interval.
func WithInterval(d time.Duration) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		if d > 0 {
			cfg.interval = d
		}
	}
}

// NewMeterProvider creates a MeterProvider exporting to cfg.Endpoint. A
// no-op provider is returned when telemetry is disabled. Call Shutdown on
// the result before exit so the last export is flushed.
func NewMeterProvider(ctx context.Context, cfg config.TelemetryConfig, opts ...MeterProviderOption) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		zap.L().Debug("telemetry: metrics disabled, using no-op meter provider")
		return noop.NewMeterProvider(), nil
	}

	pc := &meterProviderConfig{
		serviceVersion: "unknown",
		interval:       DefaultMetricsInterval,
	}
	for _, opt := range opts {
		opt(pc)
	}

	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(pc.serviceVersion),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "telemetry: create resource")
	}

	exporter, err := newExporter(ctx, endpoint, cfg.Insecure)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(pc.interval))),
	)
	otel.SetMeterProvider(mp)

	zap.L().Info("telemetry: metrics initialized",
		zap.String("endpoint", endpoint),
		zap.Bool("insecure", cfg.Insecure),
	)
	return mp, nil
}

func newExporter(ctx context.Context, endpoint string, insecure bool) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "telemetry: create otlp metric exporter")
	}
	return exporter, nil
}

// Shutdown flushes and stops mp if it is an SDK provider. No-op providers
// are ignored.
func Shutdown(ctx context.Context, mp metric.MeterProvider) error {
	sdk, ok := mp.(*sdkmetric.MeterProvider)
	if !ok {
		return nil
	}
	return eris.Wrap(sdk.Shutdown(ctx), "telemetry: shutdown meter provider")
}
