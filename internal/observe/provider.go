package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// defaultServiceName identifies the bot in exported telemetry when the
// caller leaves ProviderConfig.ServiceName empty.
const defaultServiceName = "discord-voice-bot"

// ProviderConfig configures the global OpenTelemetry providers.
type ProviderConfig struct {
	// ServiceName overrides the service.name resource attribute.
	ServiceName string

	// ServiceVersion is stamped as service.version when set.
	ServiceVersion string

	// TraceExporter receives finished spans. Nil keeps spans in-process
	// only, which is all the bot needs unless a collector runs next to it.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs the OTel SDK as the process-global provider pair: a
// meter provider backed by the Prometheus exporter (scraped through the
// /metrics endpoint) and a tracer provider with the optional span exporter.
// It must run before anything calls [DefaultMetrics] or [Tracer], otherwise
// those bind to the no-op globals.
//
// The returned function shuts both providers down and flushes exporters;
// defer it from main.
func InitProvider(_ context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	bridge, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	meters := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(bridge),
	)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tracers := sdktrace.NewTracerProvider(traceOpts...)

	otel.SetMeterProvider(meters)
	otel.SetTracerProvider(tracers)

	return func(ctx context.Context) error {
		return errors.Join(meters.Shutdown(ctx), tracers.Shutdown(ctx))
	}, nil
}
