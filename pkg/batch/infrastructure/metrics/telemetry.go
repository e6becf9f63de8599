package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Telemetry owns the OTel providers exporting over OTLP.
// A provider is nil when its signal is disabled.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

// NewTelemetry creates the providers enabled in cfg and installs them as the
// global providers.
func NewTelemetry(ctx context.Context, cfg config.TelemetryConfig) (*Telemetry, error) {
	t := &Telemetry{}
	if !cfg.Tracing && !cfg.OTLPMetrics {
		return t, nil
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	protocol := strings.ToLower(cfg.Exporter.Protocol)
	if protocol != "grpc" && protocol != "http" {
		return nil, fmt.Errorf("telemetry: unsupported exporter protocol '%s'", cfg.Exporter.Protocol)
	}

	if cfg.Tracing {
		exp, err := newTraceExporter(ctx, protocol, cfg.Exporter)
		if err != nil {
			return nil, err
		}
		t.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
		otel.SetTracerProvider(t.TracerProvider)
	}
	if cfg.OTLPMetrics {
		exp, err := newMetricExporter(ctx, protocol, cfg.Exporter)
		if err != nil {
			_ = t.Shutdown(ctx)
			return nil, err
		}
		t.MeterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(t.MeterProvider)
	}
	logger.Infof("Telemetry: exporting over OTLP/%s to %s (tracing=%t, metrics=%t).",
		protocol, cfg.Exporter.Endpoint, cfg.Tracing, cfg.OTLPMetrics)
	return t, nil
}

func newTraceExporter(ctx context.Context, protocol string, cfg config.ExporterConfig) (sdktrace.SpanExporter, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	if protocol == "grpc" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	} else {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create OTLP trace exporter: %w", err)
	}
	return exp, nil
}

func newMetricExporter(ctx context.Context, protocol string, cfg config.ExporterConfig) (sdkmetric.Exporter, error) {
	var (
		exp sdkmetric.Exporter
		err error
	)
	if protocol == "grpc" {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err = otlpmetricgrpc.New(ctx, opts...)
	} else {
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exp, err = otlpmetrichttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create OTLP metric exporter: %w", err)
	}
	return exp, nil
}

// Tracer returns a tracer of the configured provider, or of the global one.
func (t *Telemetry) Tracer() trace.Tracer {
	if t.TracerProvider != nil {
		return t.TracerProvider.Tracer(InstrumentationName)
	}
	return otel.Tracer(InstrumentationName)
}

// Meter returns a meter of the configured provider, or of the global one.
func (t *Telemetry) Meter() metric.Meter {
	if t.MeterProvider != nil {
		return t.MeterProvider.Meter(InstrumentationName)
	}
	return otel.Meter(InstrumentationName)
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if t.TracerProvider != nil {
		if err := t.TracerProvider.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if t.MeterProvider != nil {
		if err := t.MeterProvider.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return result.ErrorOrNil()
}
