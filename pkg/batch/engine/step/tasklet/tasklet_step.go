// Package tasklet implements steps whose body is a single Tasklet.
package tasklet

import (
	"context"
	"errors"
	"fmt"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/scope"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ErrMaxIterationsExceeded is returned when a tasklet stays continuable past
// the cap set with WithMaxIterations.
var ErrMaxIterationsExceeded = errors.New("tasklet iteration cap exceeded")

// Step runs a Tasklet inside one transaction, calling it again for as long as
// it returns model.RepeatStatusContinuable. Any failure is fatal.
type Step struct {
	name      string
	tasklet   scope.Provider[port.Tasklet]
	repo      repository.JobRepository
	txManager tx.TransactionManager
	opts      Options
}

var _ port.Step = (*Step)(nil)

// NewStep creates a Step running t.
func NewStep(name string, t port.Tasklet, repo repository.JobRepository, txManager tx.TransactionManager, opts ...Option) *Step {
	return NewScopedStep(name, scope.Value(t), repo, txManager, opts...)
}

// NewScopedStep creates a Step whose tasklet is created when the step starts
// and released when it ends.
func NewScopedStep(name string, p scope.Provider[port.Tasklet], repo repository.JobRepository, txManager tx.TransactionManager, opts ...Option) *Step {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Step{name: name, tasklet: p, repo: repo, txManager: txManager, opts: o}
}

// StepName returns the step name.
func (s *Step) StepName() string {
	return s.name
}

// Execute runs the tasklet until it finishes or fails.
func (s *Step) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	ctx = port.WithStepExecution(ctx, stepExecution)
	ctx, endSpan := s.opts.Tracer.StartStepSpan(ctx, stepExecution)
	defer endSpan()

	logger.Infof("TaskletStep '%s' executing.", s.name)
	stepExecution.MarkAsStarted()
	s.opts.Recorder.RecordStepStart(ctx, stepExecution)
	if err := s.repo.UpdateStepExecution(ctx, stepExecution); err != nil {
		err = exception.NewBatchError(s.name, "failed to update StepExecution status to STARTED", err, false, false)
		stepExecution.MarkAsFailed(err)
		s.opts.Recorder.RecordStepEnd(ctx, stepExecution)
		return err
	}
	if stepExecution.ExecutionContext == nil {
		stepExecution.ExecutionContext = model.NewExecutionContext()
	}

	sc := scope.New(stepExecution)
	listeners := s.opts.Listeners.Clone()
	contribution := port.NewStepContribution(stepExecution)

	stopped, err := s.run(ctx, sc, jobExecution, stepExecution, listeners, contribution)
	if rerr := sc.Release(ctx); rerr != nil && err == nil {
		err = exception.NewBatchError(s.name, "failed to release step resources", rerr, false, false)
	}

	switch {
	case err != nil:
		s.opts.Tracer.RecordError(ctx, s.name, err)
		stepExecution.MarkAsFailed(err)
	case stopped:
		stepExecution.MarkAsStopped()
	default:
		stepExecution.MarkAsCompleted()
		if contribution.ExitStatus != "" {
			stepExecution.ExitStatus = contribution.ExitStatus
		}
	}

	if lerr := listeners.AfterStep(ctx, stepExecution); lerr != nil {
		logger.Errorf("TaskletStep '%s': AfterStep listener failed: %v", s.name, lerr)
		stepExecution.Status = model.BatchStatusFailed
		stepExecution.ExitStatus = model.ExitStatusFailed
		stepExecution.AddFailure(lerr)
		if err == nil {
			err = lerr
		}
	}

	if uerr := s.repo.UpdateStepExecution(ctx, stepExecution); uerr != nil {
		logger.Errorf("TaskletStep '%s': failed to update final StepExecution state: %v", s.name, uerr)
		if err == nil {
			err = uerr
		}
	}
	s.opts.Recorder.RecordStepEnd(ctx, stepExecution)
	logger.Infof("TaskletStep '%s' finished. ExitStatus: %s", s.name, stepExecution.ExitStatus)
	return err
}

func (s *Step) run(
	ctx context.Context,
	sc *scope.StepScope,
	je *model.JobExecution,
	se *model.StepExecution,
	listeners *listener.Registry,
	contribution *port.StepContribution,
) (stopped bool, err error) {
	t, err := scope.Acquire(ctx, sc, s.tasklet)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, exception.NewBatchErrorf(s.name, "no Tasklet configured")
	}
	listeners.TryRegister(t)
	stream, _ := t.(port.ItemStream)

	if err := listeners.BeforeStep(ctx, se); err != nil {
		return false, err
	}
	if stream != nil {
		if err := stream.Open(ctx, se.ExecutionContext); err != nil {
			return false, exception.NewBatchError(s.name, fmt.Sprintf("failed to open %T", t), err, false, false)
		}
	}
	if je != nil && je.IsStopRequested() {
		return true, nil
	}

	transaction, err := s.txManager.Begin(ctx, s.opts.TxOptions)
	if err != nil {
		return false, exception.NewBatchError(s.name, "failed to begin step transaction", err, false, false)
	}
	txCtx := tx.WithTx(ctx, transaction)
	version, ec := se.Version, se.ExecutionContext.Copy()

	rollback := func(cause error) error {
		if rerr := s.txManager.Rollback(transaction); rerr != nil {
			logger.Errorf("TaskletStep '%s': rollback failed: %v", s.name, rerr)
		}
		se.Version, se.ExecutionContext = version, ec
		se.RollbackCount++
		return cause
	}

	for iteration := 1; ; iteration++ {
		status, err := t.Execute(txCtx, contribution)
		if err != nil {
			return false, rollback(err)
		}
		if status == model.RepeatStatusFinished {
			break
		}
		if err := ctx.Err(); err != nil {
			return false, rollback(exception.NewBatchError(s.name, "step interrupted", err, false, false))
		}
		if limit := s.opts.MaxIterations; limit > 0 && iteration >= limit {
			return false, rollback(fmt.Errorf("%w: step '%s' still continuable after %d call(s)", ErrMaxIterationsExceeded, s.name, limit))
		}
		if je != nil && je.IsStopRequested() {
			logger.Infof("TaskletStep '%s': stop requested after %d iteration(s), rolling back.", s.name, iteration)
			rollback(nil)
			return true, nil
		}
		logger.Debugf("TaskletStep '%s': iteration %d continuable.", s.name, iteration)
	}

	counters := *contribution
	contribution.Apply()
	se.CommitCount++
	if stream != nil {
		if err := stream.Update(txCtx, se.ExecutionContext); err != nil {
			s.undo(se, counters)
			return false, rollback(exception.NewBatchError(s.name, fmt.Sprintf("failed to update state of %T", t), err, false, false))
		}
	}
	if err := s.repo.UpdateStepExecution(txCtx, se); err != nil {
		s.undo(se, counters)
		return false, rollback(exception.NewBatchError(s.name, "failed to persist StepExecution", err, false, false))
	}
	if err := s.txManager.Commit(transaction); err != nil {
		s.undo(se, counters)
		se.Version, se.ExecutionContext = version, ec
		se.RollbackCount++
		return false, exception.NewBatchError(s.name, "failed to commit step transaction", err, false, false)
	}
	s.opts.Recorder.RecordItemRead(ctx, s.name, counters.ReadCount)
	s.opts.Recorder.RecordItemWrite(ctx, s.name, counters.WriteCount)
	s.opts.Recorder.RecordChunkCommit(ctx, s.name, counters.WriteCount)
	return false, nil
}

// undo reverts counters applied from a contribution whose transaction did not commit.
func (s *Step) undo(se *model.StepExecution, c port.StepContribution) {
	se.ReadCount -= c.ReadCount
	se.WriteCount -= c.WriteCount
	se.FilterCount -= c.FilterCount
	se.CommitCount--
}
