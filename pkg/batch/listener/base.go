package listener

import (
	"context"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// Base implements every listener interface with no-op methods.
// Embed it and override only the callbacks you need.
type Base struct{}

func (Base) BeforeJob(context.Context, *model.JobExecution) error         { return nil }
func (Base) AfterJob(context.Context, *model.JobExecution) error          { return nil }
func (Base) BeforeStep(context.Context, *model.StepExecution) error       { return nil }
func (Base) AfterStep(context.Context, *model.StepExecution) error        { return nil }
func (Base) BeforeChunk(context.Context, *model.StepExecution) error      { return nil }
func (Base) AfterChunk(context.Context, *model.StepExecution) error       { return nil }
func (Base) AfterChunkError(context.Context, *model.StepExecution, error) {}
func (Base) OnSkipInRead(context.Context, error)                          {}
func (Base) OnSkipInProcess(context.Context, any, error)                  {}
func (Base) OnSkipInWrite(context.Context, any, error)                    {}
func (Base) OnRetryRead(context.Context, error)                           {}
func (Base) OnRetryProcess(context.Context, any, error)                   {}
func (Base) OnRetryWrite(context.Context, []any, error)                   {}

var (
	_ port.JobExecutionListener  = Base{}
	_ port.StepExecutionListener = Base{}
	_ port.ChunkListener         = Base{}
	_ port.SkipListener          = Base{}
	_ port.RetryListener         = Base{}
)

// JobListenerFuncs adapts functions to a JobExecutionListener. Nil functions are skipped.
type JobListenerFuncs struct {
	Before func(ctx context.Context, je *model.JobExecution) error
	After  func(ctx context.Context, je *model.JobExecution) error
}

func (f JobListenerFuncs) BeforeJob(ctx context.Context, je *model.JobExecution) error {
	if f.Before == nil {
		return nil
	}
	return f.Before(ctx, je)
}

func (f JobListenerFuncs) AfterJob(ctx context.Context, je *model.JobExecution) error {
	if f.After == nil {
		return nil
	}
	return f.After(ctx, je)
}

// StepListenerFuncs adapts functions to a StepExecutionListener. Nil functions are skipped.
type StepListenerFuncs struct {
	Before func(ctx context.Context, se *model.StepExecution) error
	After  func(ctx context.Context, se *model.StepExecution) error
}

func (f StepListenerFuncs) BeforeStep(ctx context.Context, se *model.StepExecution) error {
	if f.Before == nil {
		return nil
	}
	return f.Before(ctx, se)
}

func (f StepListenerFuncs) AfterStep(ctx context.Context, se *model.StepExecution) error {
	if f.After == nil {
		return nil
	}
	return f.After(ctx, se)
}
