package port

import (
	"context"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// Job is an executable batch job.
type Job interface {
	// JobName returns the logical name of the job.
	JobName() string
	// Run executes the job flow and leaves the final status on jobExecution.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   jobExecution: The JobExecution to run and update.
	//
	// Returns:
	//   error: The failure that ended the job, or nil.
	Run(ctx context.Context, jobExecution *model.JobExecution) error
}

// JobParametersValidator is implemented by jobs that check parameters before a launch.
type JobParametersValidator interface {
	ValidateParameters(params model.JobParameters) error
}

// JobParametersIncrementer derives the parameters of the next instance of a job.
type JobParametersIncrementer interface {
	// GetNext returns the parameters to launch with, given the requested ones.
	GetNext(params model.JobParameters) model.JobParameters
}

// IncrementerAware is implemented by jobs that carry a JobParametersIncrementer.
type IncrementerAware interface {
	Incrementer() JobParametersIncrementer
}

// JobRunner drives a Job through a JobExecution. The launcher calls it on a
// separate goroutine for each accepted run.
type JobRunner interface {
	Run(ctx context.Context, job Job, jobExecution *model.JobExecution)
}
