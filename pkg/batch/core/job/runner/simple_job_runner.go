package runner

import (
	"context"
	"fmt"
	"time"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// SimpleJobRunner is a port.JobRunner that calls Job.Run and persists the
// final state of the execution, whatever the job left behind.
type SimpleJobRunner struct {
	jobRepository repository.JobRepository
}

var _ port.JobRunner = (*SimpleJobRunner)(nil)

// NewSimpleJobRunner creates a SimpleJobRunner.
func NewSimpleJobRunner(repo repository.JobRepository) *SimpleJobRunner {
	return &SimpleJobRunner{jobRepository: repo}
}

// Run executes job on jobExecution. Panics raised by the job are recovered and
// recorded as failures.
func (r *SimpleJobRunner) Run(ctx context.Context, job port.Job, jobExecution *model.JobExecution) {
	err := r.runJob(ctx, job, jobExecution)

	switch {
	case err != nil && !jobExecution.Status.IsTerminal():
		jobExecution.MarkAsFailed(err)
	case err != nil:
		jobExecution.AddFailure(err)
	case !jobExecution.Status.IsTerminal():
		logger.Warnf("JobRunner: Job '%s' returned without a final status (%s); marking it COMPLETED.", job.JobName(), jobExecution.Status)
		jobExecution.MarkAsCompleted(model.ExitStatusCompleted)
	}
	if jobExecution.EndTime == nil {
		now := time.Now()
		jobExecution.EndTime = &now
	}

	// The job may have been cancelled; the final state is still persisted.
	if updateErr := r.jobRepository.UpdateJobExecution(context.WithoutCancel(ctx), jobExecution); updateErr != nil {
		logger.Errorf("JobRunner: Failed to update final JobExecution (ID: %s) state: %v", jobExecution.ID, updateErr)
	}
}

func (r *SimpleJobRunner) runJob(ctx context.Context, job port.Job, je *model.JobExecution) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job '%s' panicked: %v", job.JobName(), rec)
			logger.Errorf("JobRunner: %v", err)
		}
	}()
	return job.Run(ctx, je)
}
