package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
)

// InstrumentationName is the scope name of spans and instruments created here.
const InstrumentationName = "github.com/tigerroll/chunkbatch"

// OpenTelemetryTracer is a metrics.Tracer creating one span per job, step and chunk.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)

// NewOpenTelemetryTracer uses the global TracerProvider.
func NewOpenTelemetryTracer() *OpenTelemetryTracer {
	return NewOpenTelemetryTracerWith(otel.Tracer(InstrumentationName))
}

// NewOpenTelemetryTracerWith uses tracer, e.g. one from a dedicated provider.
func NewOpenTelemetryTracerWith(tracer trace.Tracer) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: tracer}
}

func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "chunkbatch.job",
		trace.WithAttributes(
			attribute.String("chunkbatch.job.name", execution.JobName),
			attribute.String("chunkbatch.job.instance_id", execution.JobInstanceID),
			attribute.String("chunkbatch.job.execution_id", execution.ID),
			attribute.Int("chunkbatch.job.restart_count", execution.RestartCount),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func() {
		span.SetAttributes(
			attribute.String("chunkbatch.status", execution.Status.String()),
			attribute.String("chunkbatch.exit_status", execution.ExitStatus.String()),
		)
		setOutcome(span, execution.Status, execution.ExitDescription)
		span.End()
	}
}

func (t *OpenTelemetryTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "chunkbatch.step",
		trace.WithAttributes(
			attribute.String("chunkbatch.job.name", jobNameOf(execution)),
			attribute.String("chunkbatch.step.name", execution.StepName),
			attribute.String("chunkbatch.step.execution_id", execution.ID),
		),
	)
	return ctx, func() {
		span.SetAttributes(
			attribute.String("chunkbatch.status", execution.Status.String()),
			attribute.String("chunkbatch.exit_status", execution.ExitStatus.String()),
			attribute.Int("chunkbatch.step.read_count", execution.ReadCount),
			attribute.Int("chunkbatch.step.write_count", execution.WriteCount),
			attribute.Int("chunkbatch.step.commit_count", execution.CommitCount),
			attribute.Int("chunkbatch.step.rollback_count", execution.RollbackCount),
			attribute.Int("chunkbatch.step.skip_count", execution.SkipCount()),
		)
		setOutcome(span, execution.Status, execution.ExitDescription)
		span.End()
	}
}

func (t *OpenTelemetryTracer) StartChunkSpan(ctx context.Context, execution *model.StepExecution, chunk int) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("chunkbatch.chunk %s", execution.StepName),
		trace.WithAttributes(
			attribute.String("chunkbatch.step.name", execution.StepName),
			attribute.Int("chunkbatch.chunk.index", chunk),
		),
	)
	return ctx, func() { span.End() }
}

func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("chunkbatch.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func setOutcome(span trace.Span, status model.BatchStatus, description string) {
	switch status {
	case model.BatchStatusFailed:
		span.SetStatus(codes.Error, description)
	case model.BatchStatusCompleted:
		span.SetStatus(codes.Ok, "")
	}
}

func toAttributes(m map[string]interface{}) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return out
}
