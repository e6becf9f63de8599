package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// SimpleJobExplorer answers metadata queries from a JobRepository.
type SimpleJobExplorer struct {
	jobRepository repository.JobRepository
}

var _ JobExplorer = (*SimpleJobExplorer)(nil)

// NewSimpleJobExplorer creates a SimpleJobExplorer.
func NewSimpleJobExplorer(repo repository.JobRepository) *SimpleJobExplorer {
	return &SimpleJobExplorer{jobRepository: repo}
}

// GetJobExecution returns a run with its step executions.
func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, runID string) (*model.JobExecution, error) {
	je, err := e.jobRepository.FindJobExecutionByID(ctx, runID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to retrieve JobExecution (ID: %s)", runID), err, false, false)
	}
	return je, nil
}

// GetJobExecutions returns every run of an instance, newest first.
func (e *SimpleJobExplorer) GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error) {
	ji, err := e.GetJobInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	runs, err := e.jobRepository.FindJobExecutionsByJobInstance(ctx, ji)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to retrieve the runs of JobInstance (ID: %s)", instanceID), err, false, false)
	}
	logger.Debugf("JobExplorer: %d run(s) for JobInstance (ID: %s).", len(runs), instanceID)
	return runs, nil
}

// FindLatestJobExecution returns the most recent run of jobName.
func (e *SimpleJobExplorer) FindLatestJobExecution(ctx context.Context, jobName string) (*model.JobExecution, error) {
	je, err := e.jobRepository.FindLatestJobExecution(ctx, jobName)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to retrieve the latest run of Job '%s'", jobName), err, false, false)
	}
	return je, nil
}

// GetJobInstance returns an instance by ID.
func (e *SimpleJobExplorer) GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error) {
	ji, err := e.jobRepository.FindJobInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to retrieve JobInstance (ID: %s)", instanceID), err, false, false)
	}
	return ji, nil
}

// GetStepExecutions returns the step runs of a run in creation order.
func (e *SimpleJobExplorer) GetStepExecutions(ctx context.Context, runID string) ([]*model.StepExecution, error) {
	steps, err := e.jobRepository.FindStepExecutionsByJobExecutionID(ctx, runID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("failed to retrieve the steps of JobExecution (ID: %s)", runID), err, false, false)
	}
	return steps, nil
}

// GetJobNames returns the names of all jobs with stored instances.
func (e *SimpleJobExplorer) GetJobNames(ctx context.Context) ([]string, error) {
	names, err := e.jobRepository.GetJobNames(ctx)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", "failed to retrieve job names", err, false, false)
	}
	return names, nil
}
