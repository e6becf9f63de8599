// Package usecase implements the operations exposed to clients of the engine:
// launching jobs, controlling runs and querying batch metadata.
package usecase

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/registry"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

var (
	// ErrUnknownJob is returned when no job is registered under the requested name.
	ErrUnknownJob = registry.ErrUnknownJob
	// ErrDuplicateRun is returned when the instance identified by the parameters
	// already completed or was abandoned.
	ErrDuplicateRun = errors.New("job instance already complete")
	// ErrRunAlreadyRunning is returned when the instance has a run in flight.
	ErrRunAlreadyRunning = errors.New("job instance already running")
	// ErrNotRestartable is returned when a run cannot be restarted.
	ErrNotRestartable = errors.New("job execution not restartable")
	// ErrRunNotActive is returned when an operation needs a run in flight.
	ErrRunNotActive = errors.New("job execution not running")
	// ErrInvalidParameters wraps a validator failure.
	ErrInvalidParameters = errors.New("invalid job parameters")
)

func init() {
	exception.RegisterErrorType("ErrDuplicateRun", ErrDuplicateRun)
	exception.RegisterErrorType("ErrRunAlreadyRunning", ErrRunAlreadyRunning)
	exception.RegisterErrorType("ErrNotRestartable", ErrNotRestartable)
	exception.RegisterErrorType("ErrRunNotActive", ErrRunNotActive)
	exception.RegisterErrorType("ErrInvalidParameters", ErrInvalidParameters)
}

// JobLauncher starts jobs.
type JobLauncher interface {
	// Launch accepts a run of jobName and returns its run identifier. The run
	// executes asynchronously; the error only reports whether it was accepted.
	// If the latest run of the same instance FAILED or STOPPED, the run is a
	// restart that resumes from the committed checkpoints.
	Launch(ctx context.Context, jobName string, params model.JobParameters) (string, error)
}

// JobOperator controls runs.
type JobOperator interface {
	// Stop asks a run to stop at its next chunk boundary.
	Stop(ctx context.Context, runID string) error
	// Restart launches a new run of the instance of a FAILED or STOPPED run.
	Restart(ctx context.Context, runID string) (string, error)
	// Abandon marks a FAILED or STOPPED run as never to be restarted.
	Abandon(ctx context.Context, runID string) error
	// Wait blocks until the run ends or ctx is done, and returns its last known state.
	Wait(ctx context.Context, runID string) (*model.JobExecution, error)
}

// JobExplorer queries batch metadata.
type JobExplorer interface {
	GetJobExecution(ctx context.Context, runID string) (*model.JobExecution, error)
	GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error)
	FindLatestJobExecution(ctx context.Context, jobName string) (*model.JobExecution, error)
	GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error)
	GetStepExecutions(ctx context.Context, runID string) ([]*model.StepExecution, error)
	GetJobNames(ctx context.Context) ([]string, error)
}
