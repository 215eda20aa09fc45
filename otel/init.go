// Package otel provides OpenTelemetry tracing for the optrack API
package otel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds OpenTelemetry configuration
type Config struct {
	ServiceName string
	Version     string
	Environment string

	// OTLP HTTP endpoint (Jaeger, Tempo, etc.), e.g. http://localhost:4318
	Endpoint string

	// Sampling ratio (0.0 to 1.0)
	// 1.0 = trace everything, 0.1 = trace 10%
	SamplingRatio float64
}

// Provider wraps the OpenTelemetry TracerProvider
type Provider struct {
	tp          *sdktrace.TracerProvider
	propagator  propagation.TextMapPropagator
	serviceName string
}

// NewProvider creates a provider exporting to the configured OTLP HTTP endpoint
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(stripProtocol(config.Endpoint)),
	}
	if !strings.HasPrefix(config.Endpoint, "https://") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return NewProviderWithExporter(config, exporter)
}

// NewProviderWithExporter creates a provider batching spans into exporter and
// installs it as the global tracer provider.
func NewProviderWithExporter(config Config, exporter sdktrace.SpanExporter) (*Provider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.Version),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(config.SamplingRatio)),
	)

	// W3C Trace Context + Baggage
	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagator)

	return &Provider{tp: tp, propagator: propagator, serviceName: config.ServiceName}, nil
}

// Middleware starts a server span for every request
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return otelecho.Middleware(p.serviceName,
		otelecho.WithTracerProvider(p.tp),
		otelecho.WithPropagators(p.propagator),
	)
}

// Tracer returns a named tracer from this provider
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// ForceFlush exports every finished span
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}

	// Give traces 5 seconds to flush
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.tp.Shutdown(shutdownCtx)
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0.0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// stripProtocol removes http:// or https:// from endpoint
func stripProtocol(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimPrefix(endpoint, "https://")
}
