// Package otel sets up OpenTelemetry tracing for the process.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/callcenter/pkg/core"
)

// Exporter names accepted in Config.Exporter
const (
	ExporterStdout = "stdout"
	ExporterZipkin = "zipkin"
	ExporterJaeger = "jaeger"
	ExporterNone   = "none"
)

// Config configures tracing
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Exporter is one of stdout, zipkin, jaeger or none
	Exporter string
	// Endpoint is the collector URL for zipkin and jaeger
	Endpoint string
	// SampleRate is the fraction of root spans sampled, in [0, 1]
	SampleRate float64

	// Writer receives stdout exporter output (default: os.Stdout)
	Writer io.Writer
	// SpanExporter overrides Exporter when set
	SpanExporter sdktrace.SpanExporter
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return &core.Error{Code: core.CodeInvalidConfig, Message: "otel service name must be set"}
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return &core.Error{Code: core.CodeInvalidConfig, Message: fmt.Sprintf("otel sample rate %v outside [0, 1]", c.SampleRate)}
	}
	if c.SpanExporter != nil {
		return nil
	}
	switch strings.ToLower(c.Exporter) {
	case ExporterStdout, ExporterNone, "":
	case ExporterZipkin, ExporterJaeger:
		if c.Endpoint == "" {
			return &core.Error{Code: core.CodeInvalidConfig, Message: c.Exporter + " exporter needs an endpoint"}
		}
	default:
		return &core.Error{Code: core.CodeInvalidConfig, Message: "unsupported otel exporter " + c.Exporter}
	}
	return nil
}

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// Initialize installs a global tracer provider and W3C trace context
// propagation. Calling it again replaces the previous provider.
func Initialize(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	exp, err := newExporter(cfg)
	if err != nil {
		return err
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	mu.Lock()
	prev := provider
	provider = tp
	mu.Unlock()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	if prev != nil {
		if err := prev.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown previous tracer provider: %w", err)
		}
	}
	return nil
}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	if cfg.SpanExporter != nil {
		return cfg.SpanExporter, nil
	}
	switch strings.ToLower(cfg.Exporter) {
	case ExporterStdout, "":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterZipkin:
		exp, err := zipkin.New(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("zipkin exporter: %w", err)
		}
		return exp, nil
	case ExporterJaeger:
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
		if err != nil {
			return nil, fmt.Errorf("jaeger exporter: %w", err)
		}
		return exp, nil
	}
	return nil, nil
}

// IsInitialized reports whether Initialize installed a provider
func IsInitialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return provider != nil
}

// Tracer returns a tracer from the global provider
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Shutdown flushes and stops the provider installed by Initialize
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()

	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("tracer provider shutdown: %w", err)
	}
	return nil
}

// ForceFlush exports any spans buffered by the installed provider
func ForceFlush(ctx context.Context) error {
	mu.Lock()
	tp := provider
	mu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.ForceFlush(ctx)
}
