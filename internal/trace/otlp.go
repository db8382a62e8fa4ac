// Package trace exports loop runs as OpenTelemetry traces: one root span per
// run and one child span per tick.
package trace

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans produced by this package.
const TracerName = "loop/internal/trace"

// Provider owns the SDK tracer provider and its OTLP exporter.
type Provider struct {
	provider *sdktrace.TracerProvider
}

// ProviderConfig selects the export destination.
type ProviderConfig struct {
	// Endpoint is an OTLP/HTTP host:port or URL. Empty falls back to
	// OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// ServiceName defaults to OTEL_SERVICE_NAME, then "loop".
	ServiceName string

	// Insecure disables TLS, for local collectors.
	Insecure bool
}

// NewProvider creates an OTLP-backed provider. It returns nil, nil when no
// endpoint is configured anywhere (tracing disabled).
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return nil, nil // Disabled
	}

	var opts []otlptracehttp.Option
	if strings.Contains(endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return newProvider(sdktrace.WithBatcher(exporter), serviceName(cfg.ServiceName)), nil
}

// newProvider builds a Provider around any span processor option. Tests
// pass a span recorder here.
func newProvider(processor sdktrace.TracerProviderOption, service string) *Provider {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(service),
	)
	return &Provider{
		provider: sdktrace.NewTracerProvider(
			processor,
			sdktrace.WithResource(res),
		),
	}
}

func serviceName(name string) string {
	if name != "" {
		return name
	}
	if env := os.Getenv("OTEL_SERVICE_NAME"); env != "" {
		return env
	}
	return "loop"
}

// Tracer returns the tracer used by Observer.
func (p *Provider) Tracer() oteltrace.Tracer {
	return p.provider.Tracer(TracerName)
}

// Shutdown flushes pending spans and closes the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
