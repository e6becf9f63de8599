package port

import (
	"context"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// JobExecutionListener receives job lifecycle callbacks.
// An error from BeforeJob fails the job without running any step;
// an error from AfterJob fails the job.
type JobExecutionListener interface {
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution) error
	AfterJob(ctx context.Context, jobExecution *model.JobExecution) error
}

// StepExecutionListener receives step lifecycle callbacks.
// An error from either hook fails the step.
type StepExecutionListener interface {
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution) error
	AfterStep(ctx context.Context, stepExecution *model.StepExecution) error
}

// ChunkListener receives chunk callbacks.
type ChunkListener interface {
	// BeforeChunk is called after the chunk transaction begins.
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution) error
	// AfterChunk is called after the chunk commits.
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution) error
	// AfterChunkError is called after the chunk rolls back.
	AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error)
}

// SkipListener is notified of skipped items. item is nil for read skips.
type SkipListener interface {
	OnSkipInRead(ctx context.Context, err error)
	OnSkipInProcess(ctx context.Context, item any, err error)
	OnSkipInWrite(ctx context.Context, item any, err error)
}

// RetryListener is notified before a failed operation is retried.
type RetryListener interface {
	OnRetryRead(ctx context.Context, err error)
	OnRetryProcess(ctx context.Context, item any, err error)
	OnRetryWrite(ctx context.Context, items []any, err error)
}

// Notifier publishes the outcome of finished runs to an external system.
type Notifier interface {
	NotifyJobCompletion(ctx context.Context, execution *model.JobExecution) error
	NotifyStepCompletion(ctx context.Context, execution *model.StepExecution) error
}
