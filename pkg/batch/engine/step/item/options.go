package item

import (
	"database/sql"
	"strings"
	"time"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/fault"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener"
)

// DefaultChunkSize is used when no chunk size is configured.
const DefaultChunkSize = 10

// Options configure a ChunkStep.
type Options struct {
	ChunkSize int
	// ChunkTimeout bounds the processing of one chunk. Zero disables it.
	ChunkTimeout time.Duration
	Policy       fault.Policy
	Listeners    *listener.Registry
	Recorder     metrics.MetricRecorder
	Tracer       metrics.Tracer
	TxOptions    *sql.TxOptions
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		ChunkSize: DefaultChunkSize,
		Listeners: listener.NewRegistry(),
		Recorder:  metrics.NewNoOpMetricRecorder(),
		Tracer:    metrics.NewNoOpTracer(),
	}
}

// WithChunkSize sets the number of items per chunk.
func WithChunkSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.ChunkSize = n
		}
	}
}

// WithChunkTimeout bounds each chunk by d.
func WithChunkTimeout(d time.Duration) Option {
	return func(o *Options) { o.ChunkTimeout = d }
}

// WithFaultPolicy sets the skip and retry policy.
func WithFaultPolicy(p fault.Policy) Option {
	return func(o *Options) { o.Policy = p }
}

// WithListeners registers step, chunk, skip and retry listeners.
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

// WithIsolationLevel sets the isolation level of chunk transactions, e.g. "READ_COMMITTED".
func WithIsolationLevel(level string) Option {
	return func(o *Options) {
		o.TxOptions = &sql.TxOptions{Isolation: ParseIsolationLevel(level)}
	}
}

// OptionsFromConfig returns the options that apply the batch defaults of cfg.
// Options passed after them override the defaults.
func OptionsFromConfig(cfg config.BatchConfig) ([]Option, error) {
	policy, err := fault.PolicyFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithChunkSize(cfg.ChunkSize),
		WithChunkTimeout(cfg.ChunkTimeout),
		WithFaultPolicy(policy),
	}
	if cfg.IsolationLevel != "" {
		opts = append(opts, WithIsolationLevel(cfg.IsolationLevel))
	}
	return opts, nil
}

// ParseIsolationLevel converts a configuration string to sql.IsolationLevel.
func ParseIsolationLevel(level string) sql.IsolationLevel {
	switch strings.ToUpper(strings.ReplaceAll(level, " ", "_")) {
	case "READ_UNCOMMITTED":
		return sql.LevelReadUncommitted
	case "READ_COMMITTED":
		return sql.LevelReadCommitted
	case "WRITE_COMMITTED":
		return sql.LevelWriteCommitted
	case "REPEATABLE_READ":
		return sql.LevelRepeatableRead
	case "SNAPSHOT":
		return sql.LevelSnapshot
	case "SERIALIZABLE":
		return sql.LevelSerializable
	case "LINEARIZABLE":
		return sql.LevelLinearizable
	default:
		return sql.LevelDefault
	}
}
