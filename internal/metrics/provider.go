package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MeterName is the instrumentation scope of the TTI histogram.
const MeterName = "github.com/thebtf/ctxview/internal/metrics"

// DefaultExportInterval is used when ExportConfig.Interval is zero.
const DefaultExportInterval = 15 * time.Second

// ExportConfig configures OTLP metric export. An empty Endpoint disables it.
type ExportConfig struct {
	Endpoint string
	Interval time.Duration
	Insecure bool
	Version  string
}

// NewMeterProvider builds an SDK meter provider reading through reader.
func NewMeterProvider(reader sdkmetric.Reader, version string) *sdkmetric.MeterProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", "ctxview"),
		attribute.String("service.version", version),
	)
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
}

// Setup installs a global meter provider that exports to cfg.Endpoint over
// OTLP/gRPC. The returned function flushes and stops it. When export is
// disabled the global provider is left alone and shutdown does nothing.
func Setup(ctx context.Context, cfg ExportConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultExportInterval
	}
	provider := NewMeterProvider(
		sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)),
		cfg.Version,
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
