package sql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// SaveStepExecution implements repository.StepExecution.
func (r *JobRepository) SaveStepExecution(ctx context.Context, execution *model.StepExecution) error {
	const op = "SQLJobRepository.SaveStepExecution"
	entity := fromDomainStepExecution(execution, time.Now())
	execution.JobExecutionID = entity.JobExecutionID
	err := r.write(ctx, op, func(db *gorm.DB) error {
		return db.Create(entity).Error
	})
	if err != nil {
		return writeError(op, fmt.Sprintf("failed to save StepExecution (ID: %s)", execution.ID), err)
	}
	return nil
}

// UpdateStepExecution implements repository.StepExecution.
func (r *JobRepository) UpdateStepExecution(ctx context.Context, execution *model.StepExecution) error {
	const op = "SQLJobRepository.UpdateStepExecution"
	expected := execution.Version
	execution.Version++
	entity := fromDomainStepExecution(execution, time.Time{})
	err := r.write(ctx, op, func(db *gorm.DB) error {
		return versionedUpdate(db, entity, "StepExecution", execution.ID, expected, "create_time")
	})
	if err != nil {
		execution.Version = expected
		return writeError(op, fmt.Sprintf("failed to update StepExecution (ID: %s)", execution.ID), err)
	}
	return nil
}

// FindStepExecutionByID implements repository.StepExecution.
func (r *JobRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error) {
	const op = "SQLJobRepository.FindStepExecutionByID"
	var entity StepExecutionEntity
	if err := r.read(ctx).Where("id = ?", executionID).Take(&entity).Error; err != nil {
		return nil, queryError(op, "StepExecution", err)
	}
	return toDomainStepExecution(&entity), nil
}

// FindStepExecutionsByJobExecutionID implements repository.StepExecution.
func (r *JobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	const op = "SQLJobRepository.FindStepExecutionsByJobExecutionID"
	var entities []StepExecutionEntity
	err := r.read(ctx).
		Where("job_execution_id = ?", jobExecutionID).
		Order("create_time").Order("id").
		Find(&entities).Error
	if err != nil {
		if gormadaptor.IsTableNotExistError(err) {
			return nil, nil
		}
		return nil, queryError(op, "StepExecution", err)
	}
	out := make([]*model.StepExecution, len(entities))
	for i := range entities {
		out[i] = toDomainStepExecution(&entities[i])
	}
	return out, nil
}
