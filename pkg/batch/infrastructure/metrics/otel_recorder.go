package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
)

// OpenTelemetryRecorder is a metrics.MetricRecorder on OTel instruments.
// Instrument creation errors fall back to the no-op instruments the API returns.
type OpenTelemetryRecorder struct {
	jobDuration  metric.Float64Histogram
	jobs         metric.Int64Counter
	stepDuration metric.Float64Histogram
	items        metric.Int64Counter
	skips        metric.Int64Counter
	retries      metric.Int64Counter
	chunks       metric.Int64Counter
	operation    metric.Float64Histogram
}

var _ metrics.MetricRecorder = (*OpenTelemetryRecorder)(nil)

// NewOpenTelemetryRecorder uses the global MeterProvider.
func NewOpenTelemetryRecorder() *OpenTelemetryRecorder {
	return NewOpenTelemetryRecorderWith(otel.Meter(InstrumentationName))
}

// NewOpenTelemetryRecorderWith creates the instruments on meter.
func NewOpenTelemetryRecorderWith(meter metric.Meter) *OpenTelemetryRecorder {
	r := &OpenTelemetryRecorder{}
	r.jobDuration, _ = meter.Float64Histogram("chunkbatch.job.duration",
		metric.WithDescription("Duration of job executions in seconds"), metric.WithUnit("s"))
	r.jobs, _ = meter.Int64Counter("chunkbatch.job.executions",
		metric.WithDescription("Finished job executions"), metric.WithUnit("{execution}"))
	r.stepDuration, _ = meter.Float64Histogram("chunkbatch.step.duration",
		metric.WithDescription("Duration of step executions in seconds"), metric.WithUnit("s"))
	r.items, _ = meter.Int64Counter("chunkbatch.items",
		metric.WithDescription("Items handled in committed chunks, by outcome"), metric.WithUnit("{item}"))
	r.skips, _ = meter.Int64Counter("chunkbatch.skips",
		metric.WithDescription("Skipped items"), metric.WithUnit("{item}"))
	r.retries, _ = meter.Int64Counter("chunkbatch.retries",
		metric.WithDescription("Retried operations"), metric.WithUnit("{retry}"))
	r.chunks, _ = meter.Int64Counter("chunkbatch.chunks",
		metric.WithDescription("Finished chunks, by outcome"), metric.WithUnit("{chunk}"))
	r.operation, _ = meter.Float64Histogram("chunkbatch.operation.duration",
		metric.WithDescription("Duration of named operations in seconds"), metric.WithUnit("s"))
	return r
}

func (r *OpenTelemetryRecorder) RecordJobStart(context.Context, *model.JobExecution) {}

func (r *OpenTelemetryRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	attrs := metric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", execution.Status.String()),
	)
	r.jobs.Add(ctx, 1, attrs)
	if execution.EndTime != nil && !execution.StartTime.IsZero() {
		r.jobDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

func (r *OpenTelemetryRecorder) RecordStepStart(context.Context, *model.StepExecution) {}

func (r *OpenTelemetryRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	if execution.EndTime == nil || execution.StartTime.IsZero() {
		return
	}
	r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), metric.WithAttributes(
		attribute.String("job_name", jobNameOf(execution)),
		attribute.String("step_name", execution.StepName),
		attribute.String("status", execution.Status.String()),
	))
}

func (r *OpenTelemetryRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	r.addItems(ctx, stepName, "read", count)
}

func (r *OpenTelemetryRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.addItems(ctx, stepName, "written", count)
}

func (r *OpenTelemetryRecorder) RecordItemFilter(ctx context.Context, stepName string, count int) {
	r.addItems(ctx, stepName, "filtered", count)
}

func (r *OpenTelemetryRecorder) addItems(ctx context.Context, stepName, outcome string, count int) {
	if count == 0 {
		return
	}
	r.items.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("job_name", jobNameFrom(ctx)),
		attribute.String("step_name", stepName),
		attribute.String("outcome", outcome),
	))
}

func (r *OpenTelemetryRecorder) RecordItemSkip(ctx context.Context, stepName, phase, reason string) {
	r.skips.Add(ctx, 1, phaseAttributes(ctx, stepName, phase, reason))
}

func (r *OpenTelemetryRecorder) RecordItemRetry(ctx context.Context, stepName, phase, reason string) {
	r.retries.Add(ctx, 1, phaseAttributes(ctx, stepName, phase, reason))
}

func (r *OpenTelemetryRecorder) RecordChunkCommit(ctx context.Context, stepName string, _ int) {
	r.chunks.Add(ctx, 1, chunkAttributes(ctx, stepName, "committed"))
}

func (r *OpenTelemetryRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.chunks.Add(ctx, 1, chunkAttributes(ctx, stepName, "rolled_back"))
}

func (r *OpenTelemetryRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operation.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func phaseAttributes(ctx context.Context, stepName, phase, reason string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_name", jobNameFrom(ctx)),
		attribute.String("step_name", stepName),
		attribute.String("phase", phase),
		attribute.String("reason", reasonLabel(reason)),
	)
}

func chunkAttributes(ctx context.Context, stepName, outcome string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_name", jobNameFrom(ctx)),
		attribute.String("step_name", stepName),
		attribute.String("outcome", outcome),
	)
}
