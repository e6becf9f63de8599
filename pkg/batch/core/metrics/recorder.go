// Package metrics defines the observability abstractions used by the engine.
// Backends (Prometheus, OpenTelemetry) live in the infrastructure layer.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// MetricRecorder records metrics about batch execution.
//
// Implementations must be safe for concurrent use; distinct runs record
// through the same recorder.
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)
	// RecordJobEnd records the end of a JobExecution, with its final status.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)
	// RecordStepStart records the start of a StepExecution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)
	// RecordStepEnd records the end of a StepExecution.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordItemRead records items read by a step.
	RecordItemRead(ctx context.Context, stepName string, count int)
	// RecordItemWrite records items written by a step.
	RecordItemWrite(ctx context.Context, stepName string, count int)
	// RecordItemFilter records items filtered by a processor.
	RecordItemFilter(ctx context.Context, stepName string, count int)
	// RecordItemSkip records a skipped item.
	//
	// phase: "read", "process" or "write".
	// reason: The kind of the failure that caused the skip.
	RecordItemSkip(ctx context.Context, stepName, phase, reason string)
	// RecordItemRetry records a retried operation.
	RecordItemRetry(ctx context.Context, stepName, phase, reason string)

	// RecordChunkCommit records a committed chunk and the number of items it wrote.
	RecordChunkCommit(ctx context.Context, stepName string, count int)
	// RecordChunkRollback records a rolled back chunk.
	RecordChunkRollback(ctx context.Context, stepName string)

	// RecordDuration records the duration of an arbitrary operation.
	//
	// tags: Additional attributes, e.g. `{"job_name": "exportJob"}`.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
