package port

import (
	"context"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

type contextKey string

const (
	jobExecutionKey  contextKey = "jobExecution"
	stepExecutionKey contextKey = "stepExecution"
)

// WithJobExecution stores a JobExecution in ctx.
func WithJobExecution(ctx context.Context, je *model.JobExecution) context.Context {
	return context.WithValue(ctx, jobExecutionKey, je)
}

// JobExecutionFromContext returns the JobExecution stored in ctx, or nil.
func JobExecutionFromContext(ctx context.Context) *model.JobExecution {
	if je, ok := ctx.Value(jobExecutionKey).(*model.JobExecution); ok {
		return je
	}
	return nil
}

// WithStepExecution stores a StepExecution in ctx.
func WithStepExecution(ctx context.Context, se *model.StepExecution) context.Context {
	return context.WithValue(ctx, stepExecutionKey, se)
}

// StepExecutionFromContext returns the StepExecution stored in ctx, or nil.
// Item components use it to reach the step's ExecutionContext and parameters.
func StepExecutionFromContext(ctx context.Context) *model.StepExecution {
	if se, ok := ctx.Value(stepExecutionKey).(*model.StepExecution); ok {
		return se
	}
	return nil
}
