// Package scope manages collaborators whose lifetime is one step execution.
package scope

import (
	"context"
	"fmt"
	"io"
	"reflect"

	"github.com/hashicorp/go-multierror"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Provider creates a step-scoped value when the step begins.
type Provider[T any] func(ctx context.Context, se *model.StepExecution) (T, error)

// Value returns a Provider that always yields v.
func Value[T any](v T) Provider[T] {
	return func(context.Context, *model.StepExecution) (T, error) { return v, nil }
}

type contextCloser interface {
	Close(ctx context.Context) error
}

// StepScope tracks the resources acquired for one step execution.
// Release closes them in reverse order of acquisition.
type StepScope struct {
	stepExecution *model.StepExecution
	releasers     []releaser
	released      bool
}

type releaser struct {
	key     any
	release func(ctx context.Context) error
}

// New creates a StepScope for se.
func New(se *model.StepExecution) *StepScope {
	return &StepScope{stepExecution: se}
}

// Acquire calls p and registers the value for release if it can be closed.
// Values implementing Close(context.Context) error or io.Closer are closed once,
// even when acquired several times.
func Acquire[T any](ctx context.Context, s *StepScope, p Provider[T]) (T, error) {
	var zero T
	if p == nil {
		return zero, nil
	}
	v, err := p(ctx, s.stepExecution)
	if err != nil {
		return zero, fmt.Errorf("acquire step-scoped %s: %w", reflect.TypeOf((*T)(nil)).Elem(), err)
	}
	s.track(v)
	return v, nil
}

func (s *StepScope) track(v any) {
	if v == nil {
		return
	}
	var fn func(ctx context.Context) error
	switch c := v.(type) {
	case contextCloser:
		fn = c.Close
	case io.Closer:
		fn = func(context.Context) error { return c.Close() }
	default:
		return
	}
	var key any
	if reflect.TypeOf(v).Comparable() {
		key = v
		for _, r := range s.releasers {
			if r.key != nil && r.key == key {
				return
			}
		}
	}
	s.releasers = append(s.releasers, releaser{key: key, release: fn})
}

// OnRelease registers fn to run on Release.
func (s *StepScope) OnRelease(fn func(ctx context.Context) error) {
	s.releasers = append(s.releasers, releaser{release: fn})
}

// Release closes every tracked resource, last acquired first, and returns the
// aggregated errors. Calling it again does nothing.
func (s *StepScope) Release(ctx context.Context) error {
	if s.released {
		return nil
	}
	s.released = true
	var result *multierror.Error
	for i := len(s.releasers) - 1; i >= 0; i-- {
		if err := s.releasers[i].release(ctx); err != nil {
			logger.Warnf("Step '%s': failed to release step-scoped resource: %v", s.stepName(), err)
			result = multierror.Append(result, err)
		}
	}
	s.releasers = nil
	return result.ErrorOrNil()
}

func (s *StepScope) stepName() string {
	if s.stepExecution == nil {
		return ""
	}
	return s.stepExecution.StepName
}
