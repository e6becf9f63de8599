package tasklet

import (
	"database/sql"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener"
)

// Options configure a Step.
type Options struct {
	Listeners *listener.Registry
	Recorder  metrics.MetricRecorder
	Tracer    metrics.Tracer
	TxOptions *sql.TxOptions
	// MaxIterations caps the calls of a continuable tasklet. Zero means no cap.
	MaxIterations int
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Listeners: listener.NewRegistry(),
		Recorder:  metrics.NewNoOpMetricRecorder(),
		Tracer:    metrics.NewNoOpTracer(),
	}
}

// WithListeners registers step listeners.
func WithListeners(ls ...any) Option {
	return func(o *Options) {
		for _, l := range ls {
			if err := o.Listeners.Register(l); err != nil {
				panic(err)
			}
		}
	}
}

// WithListenerRegistry replaces the listener registry.
func WithListenerRegistry(r *listener.Registry) Option {
	return func(o *Options) {
		if r != nil {
			o.Listeners = r
		}
	}
}

// WithMetricRecorder sets the metric recorder.
func WithMetricRecorder(r metrics.MetricRecorder) Option {
	return func(o *Options) {
		if r != nil {
			o.Recorder = r
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t metrics.Tracer) Option {
	return func(o *Options) {
		if t != nil {
			o.Tracer = t
		}
	}
}

// WithTxOptions sets the options of the step transaction.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(o *Options) { o.TxOptions = opts }
}

// WithMaxIterations fails the step when the tasklet is still continuable
// after n calls.
func WithMaxIterations(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxIterations = n
		}
	}
}
