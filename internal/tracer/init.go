package tracer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"

	"github.com/Divas-Gupta30/market-agent/internal/config"
)

const serviceName = "market-agent"

// Init installs an OTLP HTTP tracer provider when tracing is enabled.
// The returned function flushes and stops the provider; it is a no-op when
// tracing is off.
func Init(cfg config.TelemetryConfig, log *zap.Logger) func(context.Context) error {
	if !cfg.TracingEnabled {
		log.Debug("tracing disabled", zap.String("module", "tracer"))
		return func(context.Context) error { return nil }
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		log.Warn("failed to create OTLP exporter, tracing disabled",
			zap.String("module", "tracer"), zap.Error(err))
		return func(context.Context) error { return nil }
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracer initialized",
		zap.String("module", "tracer"), zap.String("endpoint", cfg.OTLPEndpoint))
	return tp.Shutdown
}
