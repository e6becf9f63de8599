package listener

import (
	"context"
	"sync"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// JobCompletionSignaler closes Done after the first AfterJob callback.
type JobCompletionSignaler struct {
	done chan struct{}
	once sync.Once
	last *model.JobExecution
}

var _ port.JobExecutionListener = (*JobCompletionSignaler)(nil)

func NewJobCompletionSignaler() *JobCompletionSignaler {
	return &JobCompletionSignaler{done: make(chan struct{})}
}

// Done is closed once a job has finished.
func (s *JobCompletionSignaler) Done() <-chan struct{} {
	return s.done
}

// Execution returns the finished execution, or nil before Done is closed.
func (s *JobCompletionSignaler) Execution() *model.JobExecution {
	select {
	case <-s.done:
		return s.last
	default:
		return nil
	}
}

func (s *JobCompletionSignaler) BeforeJob(context.Context, *model.JobExecution) error { return nil }

func (s *JobCompletionSignaler) AfterJob(_ context.Context, je *model.JobExecution) error {
	s.once.Do(func() {
		s.last = je
		close(s.done)
	})
	return nil
}
