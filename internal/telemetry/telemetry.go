// Package telemetry installs the OpenTelemetry meter provider that the
// coordinator's instruments report to.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/roach88/tokenbot/internal/config"
)

// ShutdownFunc flushes and stops metric export.
type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Setup exports metrics over OTLP/gRPC when cfg names an endpoint and
// installs the provider globally. With no endpoint it does nothing and the
// global no-op provider stays in place.
func Setup(ctx context.Context, cfg config.Telemetry, service, version string) (ShutdownFunc, error) {
	if cfg.OTLPEndpoint == "" {
		slog.Debug("metric export disabled")
		return noop, nil
	}

	res, err := newResource(ctx, service, version)
	if err != nil {
		return noop, err
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return noop, fmt.Errorf("create metric exporter: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
	)
	otel.SetMeterProvider(mp)

	slog.Info("metric export enabled", "endpoint", cfg.OTLPEndpoint, "interval", cfg.Interval)
	return mp.Shutdown, nil
}

func newResource(ctx context.Context, service, version string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(service),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}
