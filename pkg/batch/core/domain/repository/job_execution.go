package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// ErrJobExecutionNotFound is returned when a JobExecution is not found.
var ErrJobExecutionNotFound = errors.New("job execution not found")

func init() {
	exception.RegisterErrorType("ErrJobExecutionNotFound", ErrJobExecutionNotFound)
}

// JobExecution stores runs.
type JobExecution interface {
	// SaveJobExecution persists a new run.
	SaveJobExecution(ctx context.Context, execution *model.JobExecution) error
	// UpdateJobExecution persists the state of an existing run, checking its Version.
	UpdateJobExecution(ctx context.Context, execution *model.JobExecution) error
	// FindJobExecutionByID loads a run and its step executions.
	FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error)
	// FindLatestJobExecution returns the most recently created run of jobName.
	FindLatestJobExecution(ctx context.Context, jobName string) (*model.JobExecution, error)
	// FindJobExecutionsByJobInstance returns all runs of an instance, newest first.
	FindJobExecutionsByJobInstance(ctx context.Context, instance *model.JobInstance) ([]*model.JobExecution, error)
}
