// Package otel wires OpenTelemetry tracing and metrics into the store,
// the event publisher and the database driver.
package otel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Exporters accepted in Config.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterNone   = "none"
)

// Config holds OpenTelemetry provider configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string // "development" or "production"
	Exporter       string // "stdout", "otlp" or "none"
	Insecure       bool   // use HTTP instead of HTTPS for OTLP

	// SampleRatio is the fraction of root traces recorded, in (0, 1].
	// Zero samples every trace.
	SampleRatio float64
	// MetricInterval is how often metrics are pushed to the exporter.
	MetricInterval time.Duration
}

// ConfigFromEnv builds Config from environment variables with sensible defaults.
func ConfigFromEnv() Config {
	env := envOrDefault("OTEL_ENVIRONMENT", "development")

	ratio, err := strconv.ParseFloat(envOrDefault("OTEL_TRACES_SAMPLER_RATIO", "1"), 64)
	if err != nil || ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	interval, err := time.ParseDuration(envOrDefault("OTEL_METRIC_INTERVAL", "60s"))
	if err != nil || interval <= 0 {
		interval = time.Minute
	}

	return Config{
		ServiceName:    envOrDefault("OTEL_SERVICE_NAME", "pgkeeper"),
		ServiceVersion: envOrDefault("OTEL_SERVICE_VERSION", "0.1.0"),
		Environment:    env,
		Exporter:       envOrDefault("OTEL_EXPORTER", ExporterStdout),
		Insecure:       env == "development",
		SampleRatio:    ratio,
		MetricInterval: interval,
	}
}

// Providers holds initialized OTel providers and their shutdown function.
type Providers struct {
	Shutdown func(ctx context.Context) error
}

// Setup initializes TracerProvider and MeterProvider based on Config.
// It registers them globally and returns a Providers whose Shutdown must
// be called on application exit to flush pending telemetry.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	// Each process reports under its own instance id so pgkeeper replicas
	// sharing one Postgres database can be told apart.
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.ServiceInstanceID(uuid.NewString()),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating otel resource: %w", err)
	}

	spans, err := spanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating span exporter: %w", err)
	}
	metrics, err := metricExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tpOpts := []trace.TracerProviderOption{
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(ratio))),
	}
	if spans != nil {
		tpOpts = append(tpOpts, trace.WithBatcher(spans))
	}
	tp := trace.NewTracerProvider(tpOpts...)

	mpOpts := []metric.Option{metric.WithResource(res)}
	if metrics != nil {
		interval := cfg.MetricInterval
		if interval <= 0 {
			interval = time.Minute
		}
		mpOpts = append(mpOpts, metric.WithReader(metric.NewPeriodicReader(metrics, metric.WithInterval(interval))))
	}
	mp := metric.NewMeterProvider(mpOpts...)

	// Register globally so any package can obtain a tracer via otel.Tracer("name").
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	shutdown := func(ctx context.Context) error {
		var errs []error
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
		return errors.Join(errs...)
	}

	return &Providers{Shutdown: shutdown}, nil
}

// spanExporter returns nil for ExporterNone.
func spanExporter(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterOTLP:
		var opts []otlptracehttp.Option
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterNone:
		return nil, nil
	default:
		return nil, unsupportedExporter(cfg.Exporter)
	}
}

// metricExporter returns nil for ExporterNone.
func metricExporter(ctx context.Context, cfg Config) (metric.Exporter, error) {
	switch cfg.Exporter {
	case ExporterOTLP:
		var opts []otlpmetrichttp.Option
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterNone:
		return nil, nil
	default:
		return nil, unsupportedExporter(cfg.Exporter)
	}
}

func unsupportedExporter(name string) error {
	return fmt.Errorf("unsupported exporter: %q (use %q, %q or %q)", name, ExporterStdout, ExporterOTLP, ExporterNone)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
