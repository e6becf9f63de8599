package sql

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// SaveJobExecution implements repository.JobExecution.
func (r *JobRepository) SaveJobExecution(ctx context.Context, execution *model.JobExecution) error {
	const op = "SQLJobRepository.SaveJobExecution"
	entity := fromDomainJobExecution(execution)
	err := r.write(ctx, op, func(db *gorm.DB) error {
		return db.Create(entity).Error
	})
	if err != nil {
		return writeError(op, fmt.Sprintf("failed to save JobExecution (ID: %s)", execution.ID), err)
	}
	return nil
}

// UpdateJobExecution implements repository.JobExecution.
func (r *JobRepository) UpdateJobExecution(ctx context.Context, execution *model.JobExecution) error {
	const op = "SQLJobRepository.UpdateJobExecution"
	expected := execution.Version
	execution.Version++
	entity := fromDomainJobExecution(execution)
	err := r.write(ctx, op, func(db *gorm.DB) error {
		return versionedUpdate(db, entity, "JobExecution", execution.ID, expected, "create_time")
	})
	if err != nil {
		execution.Version = expected
		return writeError(op, fmt.Sprintf("failed to update JobExecution (ID: %s)", execution.ID), err)
	}
	return nil
}

// FindJobExecutionByID implements repository.JobExecution.
func (r *JobRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error) {
	const op = "SQLJobRepository.FindJobExecutionByID"
	var entity JobExecutionEntity
	if err := r.read(ctx).Where("id = ?", executionID).Take(&entity).Error; err != nil {
		return nil, queryError(op, "JobExecution", err)
	}
	return r.withSteps(ctx, &entity)
}

// FindLatestJobExecution implements repository.JobExecution.
func (r *JobRepository) FindLatestJobExecution(ctx context.Context, jobName string) (*model.JobExecution, error) {
	const op = "SQLJobRepository.FindLatestJobExecution"
	var entity JobExecutionEntity
	err := r.read(ctx).
		Where("job_name = ?", jobName).
		Order("create_time DESC").Order("id DESC").
		Take(&entity).Error
	if err != nil {
		return nil, queryError(op, "JobExecution", err)
	}
	return r.withSteps(ctx, &entity)
}

// FindJobExecutionsByJobInstance implements repository.JobExecution.
func (r *JobRepository) FindJobExecutionsByJobInstance(ctx context.Context, instance *model.JobInstance) ([]*model.JobExecution, error) {
	const op = "SQLJobRepository.FindJobExecutionsByJobInstance"
	var entities []JobExecutionEntity
	err := r.read(ctx).
		Where("job_instance_id = ?", instance.ID).
		Order("create_time DESC").Order("id DESC").
		Find(&entities).Error
	if err != nil {
		if gormadaptor.IsTableNotExistError(err) {
			return nil, nil
		}
		return nil, queryError(op, "JobExecution", err)
	}
	out := make([]*model.JobExecution, 0, len(entities))
	for i := range entities {
		je, err := r.withSteps(ctx, &entities[i])
		if err != nil {
			return nil, err
		}
		out = append(out, je)
	}
	return out, nil
}

// withSteps converts e and attaches its step executions.
func (r *JobRepository) withSteps(ctx context.Context, e *JobExecutionEntity) (*model.JobExecution, error) {
	je := toDomainJobExecution(e)
	steps, err := r.FindStepExecutionsByJobExecutionID(ctx, je.ID)
	if err != nil {
		return nil, err
	}
	for _, se := range steps {
		je.AddStepExecution(se)
	}
	return je, nil
}
