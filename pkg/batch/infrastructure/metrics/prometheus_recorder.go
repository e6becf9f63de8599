// Package metrics provides the Prometheus and OpenTelemetry backends of
// metrics.MetricRecorder and metrics.Tracer, and the OTLP exporter setup.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
)

// PrometheusRecorder is a metrics.MetricRecorder backed by a Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	jobDuration  *prometheus.HistogramVec
	jobStatus    *prometheus.CounterVec
	jobsRunning  *prometheus.GaugeVec
	stepDuration *prometheus.HistogramVec
	stepStatus   *prometheus.CounterVec

	itemRead   *prometheus.CounterVec
	itemWrite  *prometheus.CounterVec
	itemFilter *prometheus.CounterVec
	itemSkip   *prometheus.CounterVec
	itemRetry  *prometheus.CounterVec

	chunkCommit   *prometheus.CounterVec
	chunkRollback *prometheus.CounterVec
	operation     *prometheus.HistogramVec
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder creates a recorder with its own registry, which also
// carries the Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunkbatch_job_duration_seconds",
			Help:    "Duration of job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status", "exit_status"}),
		jobStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkbatch_job_executions_total",
			Help: "Finished job executions by final status.",
		}, []string{"job_name", "status"}),
		jobsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chunkbatch_job_running",
			Help: "Job executions currently running.",
		}, []string{"job_name"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunkbatch_step_duration_seconds",
			Help:    "Duration of step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name", "status", "exit_status"}),
		stepStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkbatch_step_executions_total",
			Help: "Finished step executions by final status.",
		}, []string{"job_name", "step_name", "status"}),
		itemRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkbatch_items_read_total",
			Help: "Items read in committed chunks.",
		}, []string{"job_name", "step_name"}),
		itemWrite: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkbatch_items_written_total",
			Help: "Items written in committed chunks.",
		}, []string{"job_name", "step_name"}),
		itemFilter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkbatch_items_filtered_total",
			Help: "Items filtered by processors in committed chunks.",
		}, []string{"job_name", "step_name"}),
		itemSkip: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkbatch_items_skipped_total",
			Help: "Skipped items by phase and failure kind.",
		}, []string{"job_name", "step_name", "phase", "reason"}),
		itemRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkbatch_retries_total",
			Help: "Retried operations by phase and failure kind.",
		}, []string{"job_name", "step_name", "phase", "reason"}),
		chunkCommit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkbatch_chunk_commits_total",
			Help: "Committed chunks.",
		}, []string{"job_name", "step_name"}),
		chunkRollback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkbatch_chunk_rollbacks_total",
			Help: "Rolled back chunks.",
		}, []string{"job_name", "step_name"}),
		operation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunkbatch_operation_duration_seconds",
			Help:    "Duration of named operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "job_name"}),
	}
	registry.MustRegister(
		r.jobDuration, r.jobStatus, r.jobsRunning,
		r.stepDuration, r.stepStatus,
		r.itemRead, r.itemWrite, r.itemFilter, r.itemSkip, r.itemRetry,
		r.chunkCommit, r.chunkRollback, r.operation,
	)
	return r
}

// Registry returns the registry the recorder's collectors are registered with.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *PrometheusRecorder) RecordJobStart(_ context.Context, execution *model.JobExecution) {
	r.jobsRunning.WithLabelValues(execution.JobName).Inc()
}

func (r *PrometheusRecorder) RecordJobEnd(_ context.Context, execution *model.JobExecution) {
	r.jobsRunning.WithLabelValues(execution.JobName).Dec()
	r.jobStatus.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	if execution.EndTime != nil && !execution.StartTime.IsZero() {
		r.jobDuration.WithLabelValues(execution.JobName, execution.Status.String(), execution.ExitStatus.String()).
			Observe(execution.EndTime.Sub(execution.StartTime).Seconds())
	}
}

func (r *PrometheusRecorder) RecordStepStart(context.Context, *model.StepExecution) {}

func (r *PrometheusRecorder) RecordStepEnd(_ context.Context, execution *model.StepExecution) {
	job := jobNameOf(execution)
	r.stepStatus.WithLabelValues(job, execution.StepName, execution.Status.String()).Inc()
	if execution.EndTime != nil && !execution.StartTime.IsZero() {
		r.stepDuration.WithLabelValues(job, execution.StepName, execution.Status.String(), execution.ExitStatus.String()).
			Observe(execution.EndTime.Sub(execution.StartTime).Seconds())
	}
}

func (r *PrometheusRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	r.itemRead.WithLabelValues(jobNameFrom(ctx), stepName).Add(float64(count))
}

func (r *PrometheusRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.itemWrite.WithLabelValues(jobNameFrom(ctx), stepName).Add(float64(count))
}

func (r *PrometheusRecorder) RecordItemFilter(ctx context.Context, stepName string, count int) {
	r.itemFilter.WithLabelValues(jobNameFrom(ctx), stepName).Add(float64(count))
}

func (r *PrometheusRecorder) RecordItemSkip(ctx context.Context, stepName, phase, reason string) {
	r.itemSkip.WithLabelValues(jobNameFrom(ctx), stepName, phase, reasonLabel(reason)).Inc()
}

func (r *PrometheusRecorder) RecordItemRetry(ctx context.Context, stepName, phase, reason string) {
	r.itemRetry.WithLabelValues(jobNameFrom(ctx), stepName, phase, reasonLabel(reason)).Inc()
}

func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, stepName string, _ int) {
	r.chunkCommit.WithLabelValues(jobNameFrom(ctx), stepName).Inc()
}

func (r *PrometheusRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.chunkRollback.WithLabelValues(jobNameFrom(ctx), stepName).Inc()
}

func (r *PrometheusRecorder) RecordDuration(_ context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operation.WithLabelValues(name, tags["job_name"]).Observe(duration.Seconds())
}

func jobNameOf(se *model.StepExecution) string {
	if se != nil && se.JobExecution != nil {
		return se.JobExecution.JobName
	}
	return ""
}

// jobNameFrom finds the job name through the step or job execution in ctx.
func jobNameFrom(ctx context.Context) string {
	if se := port.StepExecutionFromContext(ctx); se != nil && se.JobExecution != nil {
		return se.JobExecution.JobName
	}
	if je := port.JobExecutionFromContext(ctx); je != nil {
		return je.JobName
	}
	return ""
}

func reasonLabel(reason string) string {
	if reason == "" {
		return "unclassified"
	}
	return reason
}
