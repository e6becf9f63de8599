package inmemory

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
)

// SaveStepExecution stores a new StepExecution.
func (r *JobRepository) SaveStepExecution(ctx context.Context, execution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stepExecutions[execution.ID]; exists {
		return fmt.Errorf("StepExecution with ID %s already exists", execution.ID)
	}
	if execution.JobExecutionID == "" && execution.JobExecution != nil {
		execution.JobExecutionID = execution.JobExecution.ID
	}
	r.stepExecutions[execution.ID] = copyStepExecution(execution)
	r.nextSeq(execution.ID)
	return nil
}

// UpdateStepExecution stores the current state of execution, checking its Version.
// With a transaction in ctx the update is applied when the transaction commits.
func (r *JobRepository) UpdateStepExecution(ctx context.Context, execution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.stepExecutions[execution.ID]
	if !ok {
		return repository.ErrStepExecutionNotFound
	}
	w := r.stage(ctx)
	if w != nil {
		if pending, ok := w.stepExecutions[execution.ID]; ok {
			stored = pending
		}
	}
	if stored.Version != execution.Version {
		return optimisticLockFailure("StepExecution", execution.ID, execution.Version, stored.Version)
	}
	execution.Version++
	c := copyStepExecution(execution)
	if w != nil {
		w.stepExecutions[execution.ID] = c
		return nil
	}
	r.stepExecutions[execution.ID] = c
	return nil
}

// FindStepExecutionByID returns the StepExecution with the given ID.
func (r *JobRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	se, ok := r.stepExecutions[executionID]
	if !ok {
		return nil, repository.ErrStepExecutionNotFound
	}
	return copyStepExecution(se), nil
}

// FindStepExecutionsByJobExecutionID returns the step runs of a run in creation order.
func (r *JobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := r.stepsOf(jobExecutionID)
	out := make([]*model.StepExecution, len(steps))
	for i, se := range steps {
		out[i] = copyStepExecution(se)
	}
	return out, nil
}
