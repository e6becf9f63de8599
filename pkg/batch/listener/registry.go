// Package listener holds the registration list of execution callbacks and the
// stock listeners shipped with the engine.
package listener

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Registry is an ordered list of listeners sorted by capability.
// Callbacks run synchronously in registration order. A nil *Registry is empty.
type Registry struct {
	job   []port.JobExecutionListener
	step  []port.StepExecutionListener
	chunk []port.ChunkListener
	skip  []port.SkipListener
	retry []port.RetryListener
}

// NewRegistry creates a Registry and registers every listener in ls.
// It panics if one of them implements no listener interface.
func NewRegistry(ls ...any) *Registry {
	r := &Registry{}
	for _, l := range ls {
		if err := r.Register(l); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds l to every capability list it implements.
func (r *Registry) Register(l any) error {
	if !r.TryRegister(l) {
		return fmt.Errorf("listener %T implements no listener interface", l)
	}
	return nil
}

// TryRegister adds l to every capability list it implements and reports whether it matched any.
func (r *Registry) TryRegister(l any) bool {
	if l == nil {
		return false
	}
	matched := false
	if v, ok := l.(port.JobExecutionListener); ok {
		r.job = append(r.job, v)
		matched = true
	}
	if v, ok := l.(port.StepExecutionListener); ok {
		r.step = append(r.step, v)
		matched = true
	}
	if v, ok := l.(port.ChunkListener); ok {
		r.chunk = append(r.chunk, v)
		matched = true
	}
	if v, ok := l.(port.SkipListener); ok {
		r.skip = append(r.skip, v)
		matched = true
	}
	if v, ok := l.(port.RetryListener); ok {
		r.retry = append(r.retry, v)
		matched = true
	}
	return matched
}

// Clone returns a copy that can be extended without changing r.
func (r *Registry) Clone() *Registry {
	if r == nil {
		return &Registry{}
	}
	return &Registry{
		job:   append([]port.JobExecutionListener(nil), r.job...),
		step:  append([]port.StepExecutionListener(nil), r.step...),
		chunk: append([]port.ChunkListener(nil), r.chunk...),
		skip:  append([]port.SkipListener(nil), r.skip...),
		retry: append([]port.RetryListener(nil), r.retry...),
	}
}

// Len returns the number of registrations across all capabilities.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.job) + len(r.step) + len(r.chunk) + len(r.skip) + len(r.retry)
}

// BeforeJob calls every JobExecutionListener and stops at the first error.
func (r *Registry) BeforeJob(ctx context.Context, je *model.JobExecution) error {
	if r == nil {
		return nil
	}
	for _, l := range r.job {
		if err := l.BeforeJob(ctx, je); err != nil {
			return fmt.Errorf("BeforeJob listener %T: %w", l, err)
		}
	}
	return nil
}

// AfterJob calls every JobExecutionListener and aggregates their errors.
func (r *Registry) AfterJob(ctx context.Context, je *model.JobExecution) error {
	if r == nil {
		return nil
	}
	var result *multierror.Error
	for _, l := range r.job {
		if err := l.AfterJob(ctx, je); err != nil {
			result = multierror.Append(result, fmt.Errorf("AfterJob listener %T: %w", l, err))
		}
	}
	return result.ErrorOrNil()
}

// BeforeStep calls every StepExecutionListener and stops at the first error.
func (r *Registry) BeforeStep(ctx context.Context, se *model.StepExecution) error {
	if r == nil {
		return nil
	}
	for _, l := range r.step {
		if err := l.BeforeStep(ctx, se); err != nil {
			return fmt.Errorf("BeforeStep listener %T: %w", l, err)
		}
	}
	return nil
}

// AfterStep calls every StepExecutionListener and aggregates their errors.
func (r *Registry) AfterStep(ctx context.Context, se *model.StepExecution) error {
	if r == nil {
		return nil
	}
	var result *multierror.Error
	for _, l := range r.step {
		if err := l.AfterStep(ctx, se); err != nil {
			result = multierror.Append(result, fmt.Errorf("AfterStep listener %T: %w", l, err))
		}
	}
	return result.ErrorOrNil()
}

// BeforeChunk calls every ChunkListener and stops at the first error.
func (r *Registry) BeforeChunk(ctx context.Context, se *model.StepExecution) error {
	if r == nil {
		return nil
	}
	for _, l := range r.chunk {
		if err := l.BeforeChunk(ctx, se); err != nil {
			return fmt.Errorf("BeforeChunk listener %T: %w", l, err)
		}
	}
	return nil
}

// AfterChunk calls every ChunkListener and aggregates their errors.
func (r *Registry) AfterChunk(ctx context.Context, se *model.StepExecution) error {
	if r == nil {
		return nil
	}
	var result *multierror.Error
	for _, l := range r.chunk {
		if err := l.AfterChunk(ctx, se); err != nil {
			result = multierror.Append(result, fmt.Errorf("AfterChunk listener %T: %w", l, err))
		}
	}
	return result.ErrorOrNil()
}

// AfterChunkError notifies every ChunkListener of a rolled back chunk.
func (r *Registry) AfterChunkError(ctx context.Context, se *model.StepExecution, cause error) {
	if r == nil {
		return
	}
	for _, l := range r.chunk {
		l.AfterChunkError(ctx, se, cause)
	}
}

// OnSkipInRead notifies every SkipListener.
func (r *Registry) OnSkipInRead(ctx context.Context, err error) {
	if r == nil {
		return
	}
	for _, l := range r.skip {
		l.OnSkipInRead(ctx, err)
	}
}

// OnSkipInProcess notifies every SkipListener.
func (r *Registry) OnSkipInProcess(ctx context.Context, item any, err error) {
	if r == nil {
		return
	}
	for _, l := range r.skip {
		l.OnSkipInProcess(ctx, item, err)
	}
}

// OnSkipInWrite notifies every SkipListener.
func (r *Registry) OnSkipInWrite(ctx context.Context, item any, err error) {
	if r == nil {
		return
	}
	for _, l := range r.skip {
		l.OnSkipInWrite(ctx, item, err)
	}
}

// OnRetryRead notifies every RetryListener.
func (r *Registry) OnRetryRead(ctx context.Context, err error) {
	if r == nil {
		return
	}
	for _, l := range r.retry {
		l.OnRetryRead(ctx, err)
	}
}

// OnRetryProcess notifies every RetryListener.
func (r *Registry) OnRetryProcess(ctx context.Context, item any, err error) {
	if r == nil {
		return
	}
	for _, l := range r.retry {
		l.OnRetryProcess(ctx, item, err)
	}
}

// OnRetryWrite notifies every RetryListener.
func (r *Registry) OnRetryWrite(ctx context.Context, items []any, err error) {
	if r == nil {
		return
	}
	for _, l := range r.retry {
		l.OnRetryWrite(ctx, items, err)
	}
}

// Describe logs the registrations of r on behalf of owner at DEBUG level.
func (r *Registry) Describe(owner string) {
	if r == nil {
		return
	}
	logger.Debugf("%s: %d job, %d step, %d chunk, %d skip, %d retry listener(s) registered.",
		owner, len(r.job), len(r.step), len(r.chunk), len(r.skip), len(r.retry))
}
