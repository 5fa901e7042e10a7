// Package telemetry wires OpenTelemetry tracing for pipeline runs,
// exporting spans over OTLP gRPC.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

const tracerName = "rentflow"

// Config configures the OTLP trace exporter.
type Config struct {
	// Endpoint is the OTLP gRPC endpoint, e.g. "localhost:4317".
	Endpoint string

	ServiceVersion string
	Environment    string

	// Insecure disables TLS, for local collectors.
	Insecure bool

	BatchTimeout  time.Duration
	ExportTimeout time.Duration
}

// DefaultConfig returns local-collector defaults.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		ServiceVersion: "dev",
		Environment:    "development",
		Insecure:       true,
		BatchTimeout:   5 * time.Second,
		ExportTimeout:  30 * time.Second,
	}
}

// Setup installs a global tracer provider exporting to the configured
// collector and returns a shutdown function that flushes pending spans.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeInvalidConfig, "failed to create trace exporter").
			WithContext("endpoint", cfg.Endpoint)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(tracerName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeInvalidConfig, "failed to build trace resource")
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown, nil
}

// StartPhase opens a span for one pipeline phase. The returned end
// function records the row count and error before closing the span.
func StartPhase(ctx context.Context, name string) (context.Context, func(rows int64, err error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	return ctx, func(rows int64, err error) {
		if rows > 0 {
			span.SetAttributes(attribute.Int64("rows", rows))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
