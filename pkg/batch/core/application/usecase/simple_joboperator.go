package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// SimpleJobOperator controls the runs started by a SimpleJobLauncher.
type SimpleJobOperator struct {
	jobRepository repository.JobRepository
	jobLauncher   *SimpleJobLauncher
}

var _ JobOperator = (*SimpleJobOperator)(nil)

// NewSimpleJobOperator creates a SimpleJobOperator.
func NewSimpleJobOperator(repo repository.JobRepository, launcher *SimpleJobLauncher) *SimpleJobOperator {
	return &SimpleJobOperator{jobRepository: repo, jobLauncher: launcher}
}

// Stop implements JobOperator. The run finishes its current chunk and ends as STOPPED.
func (o *SimpleJobOperator) Stop(ctx context.Context, runID string) error {
	logger.Infof("JobOperator: stop requested for JobExecution (ID: %s).", runID)
	if run, ok := o.jobLauncher.lookup(runID); ok {
		run.execution.RequestStop()
		return nil
	}
	je, err := o.load(ctx, runID)
	if err != nil {
		return err
	}
	if je.Status.IsTerminal() {
		return fmt.Errorf("%w: JobExecution (ID: %s) already ended as %s", ErrRunNotActive, runID, je.Status)
	}
	return fmt.Errorf("%w: JobExecution (ID: %s) is %s but not running in this process", ErrRunNotActive, runID, je.Status)
}

// Restart implements JobOperator.
func (o *SimpleJobOperator) Restart(ctx context.Context, runID string) (string, error) {
	logger.Infof("JobOperator: restart requested for JobExecution (ID: %s).", runID)
	prev, err := o.load(ctx, runID)
	if err != nil {
		return "", err
	}
	if !prev.Status.IsRestartable() {
		return "", fmt.Errorf("%w: JobExecution (ID: %s) is %s", ErrNotRestartable, runID, prev.Status)
	}
	job, err := o.jobLauncher.jobRegistry.Get(prev.JobName)
	if err != nil {
		return "", err
	}
	newID, err := o.jobLauncher.launch(ctx, job, prev.Parameters, false)
	if err != nil {
		return "", err
	}
	logger.Infof("Restart of Job '%s' (Execution ID: %s) accepted. New execution ID: %s", prev.JobName, runID, newID)
	return newID, nil
}

// Abandon implements JobOperator. A run left unfinished by another process may
// also be abandoned, so it no longer blocks launches with ErrRunAlreadyRunning.
// The abandoned instance itself cannot be launched again.
func (o *SimpleJobOperator) Abandon(ctx context.Context, runID string) error {
	logger.Infof("JobOperator: abandon requested for JobExecution (ID: %s).", runID)
	if _, ok := o.jobLauncher.lookup(runID); ok {
		return fmt.Errorf("%w: JobExecution (ID: %s) cannot be abandoned while it runs", ErrRunAlreadyRunning, runID)
	}
	je, err := o.load(ctx, runID)
	if err != nil {
		return err
	}
	switch je.Status {
	case model.BatchStatusAbandoned:
		return nil
	case model.BatchStatusCompleted:
		return exception.NewBatchErrorf("job_operator", "JobExecution (ID: %s) is COMPLETED and cannot be abandoned", runID)
	}
	je.MarkAsAbandoned()
	if err := o.jobRepository.UpdateJobExecution(ctx, je); err != nil {
		return exception.NewBatchError("job_operator", fmt.Sprintf("failed to abandon JobExecution (ID: %s)", runID), err, false, false)
	}
	logger.Infof("JobExecution (ID: %s) abandoned.", runID)
	return nil
}

// Wait implements JobOperator.
func (o *SimpleJobOperator) Wait(ctx context.Context, runID string) (*model.JobExecution, error) {
	if run, ok := o.jobLauncher.lookup(runID); ok {
		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.load(ctx, runID)
}

func (o *SimpleJobOperator) load(ctx context.Context, runID string) (*model.JobExecution, error) {
	je, err := o.jobRepository.FindJobExecutionByID(ctx, runID)
	if err != nil {
		return nil, exception.NewBatchError("job_operator", fmt.Sprintf("failed to load JobExecution (ID: %s)", runID), err, false, false)
	}
	return je, nil
}
