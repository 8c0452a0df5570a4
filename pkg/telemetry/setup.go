package telemetry

import (
    "context"
    "log/slog"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    "go.opentelemetry.io/otel/sdk/resource"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// InitTracer configures a stdout tracer for build spans. When disabled the
// global no-op provider stays in place.
func InitTracer(ctx context.Context, serviceName string, enabled bool) func(context.Context) error {
    if !enabled {
        return func(context.Context) error { return nil }
    }

    exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
    if err != nil {
        slog.Error("telemetry exporter init failed", "error", err)
        return func(context.Context) error { return nil }
    }

    provider := sdktrace.NewTracerProvider(
        sdktrace.WithBatcher(exporter),
        sdktrace.WithResource(resource.NewWithAttributes(
            semconv.SchemaURL,
            semconv.ServiceName(serviceName),
        )),
    )

    otel.SetTracerProvider(provider)

    return provider.Shutdown
}
