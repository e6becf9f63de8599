package metrics

import (
	"context"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// Tracer opens spans around jobs, steps and chunks.
type Tracer interface {
	// StartJobSpan starts a span for a JobExecution.
	//
	// Returns a context carrying the span and a function that ends it.
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())
	// StartStepSpan starts a span for a StepExecution, usually as a child of the job span.
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())
	// StartChunkSpan starts a span for one chunk of a step.
	StartChunkSpan(ctx context.Context, execution *model.StepExecution, chunk int) (context.Context, func())
	// RecordError records err on the current span.
	//
	// module: The component where the error occurred, e.g. "reader" or "writer".
	RecordError(ctx context.Context, module string, err error)
	// RecordEvent adds an event to the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
