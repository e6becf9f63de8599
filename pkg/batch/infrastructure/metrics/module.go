package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// NewTelemetryWithLifecycle creates the OTLP providers and shuts them down on stop.
func NewTelemetryWithLifecycle(lc fx.Lifecycle, cfg *config.Config) (*Telemetry, error) {
	t, err := NewTelemetry(context.Background(), cfg.ChunkBatch.Telemetry)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: t.Shutdown})
	return t, nil
}

// NewPrometheusRecorderWithLifecycle creates the Prometheus recorder and serves
// /metrics while the application runs when a listen address is configured.
func NewPrometheusRecorderWithLifecycle(lc fx.Lifecycle, cfg *config.Config) *PrometheusRecorder {
	r := NewPrometheusRecorder()
	addr := cfg.ChunkBatch.Telemetry.Prometheus.ListenAddress
	if !cfg.ChunkBatch.Telemetry.Prometheus.Enabled || addr == "" {
		return r
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("Prometheus endpoint on %s stopped: %v", addr, err)
				}
			}()
			logger.Infof("Serving Prometheus metrics on http://%s/metrics", ln.Addr())
			return nil
		},
		OnStop: srv.Shutdown,
	})
	return r
}

// selectRecorder replaces the no-op recorder with the enabled backends behind
// an AsyncRecorder that is drained when the application stops.
func selectRecorder(lc fx.Lifecycle, base metrics.MetricRecorder, cfg *config.Config, prom *PrometheusRecorder, tel *Telemetry) metrics.MetricRecorder {
	var recorders CompositeRecorder
	if cfg.ChunkBatch.Telemetry.Prometheus.Enabled {
		recorders = append(recorders, prom)
	}
	if cfg.ChunkBatch.Telemetry.OTLPMetrics {
		recorders = append(recorders, NewOpenTelemetryRecorderWith(tel.Meter()))
	}
	var backend metrics.MetricRecorder
	switch len(recorders) {
	case 0:
		return base
	case 1:
		backend = recorders[0]
	default:
		backend = recorders
	}
	async := NewAsyncRecorder(backend, cfg.ChunkBatch.Batch.MetricsAsyncBufferSize)
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		async.Close()
		return nil
	}})
	return async
}

// selectTracer replaces the no-op tracer when tracing is enabled.
func selectTracer(base metrics.Tracer, cfg *config.Config, tel *Telemetry) metrics.Tracer {
	if !cfg.ChunkBatch.Telemetry.Tracing {
		return base
	}
	return NewOpenTelemetryTracerWith(tel.Tracer())
}

// Module decorates the no-op recorder and tracer of the core metrics module
// with the backends enabled in the configuration.
var Module = fx.Options(
	fx.Provide(NewTelemetryWithLifecycle, NewPrometheusRecorderWithLifecycle),
	fx.Decorate(selectRecorder, selectTracer),
)
