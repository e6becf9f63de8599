package sql

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// SaveJobInstance implements repository.JobInstance.
func (r *JobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	const op = "SQLJobRepository.SaveJobInstance"
	if instance.ParametersHash == "" {
		instance.ParametersHash = instance.Parameters.Identity()
	}
	entity := fromDomainJobInstance(instance)
	err := r.write(ctx, op, func(db *gorm.DB) error {
		return db.Create(entity).Error
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: JobInstance (ID: %s) of Job '%s'", repository.ErrJobInstanceExists, instance.ID, instance.JobName)
	}
	if err != nil {
		return writeError(op, fmt.Sprintf("failed to save JobInstance (ID: %s)", instance.ID), err)
	}
	return nil
}

// FindJobInstanceByID implements repository.JobInstance.
func (r *JobRepository) FindJobInstanceByID(ctx context.Context, instanceID string) (*model.JobInstance, error) {
	const op = "SQLJobRepository.FindJobInstanceByID"
	var entity JobInstanceEntity
	if err := r.read(ctx).Where("id = ?", instanceID).Take(&entity).Error; err != nil {
		return nil, queryError(op, "JobInstance", err)
	}
	return toDomainJobInstance(&entity), nil
}

// FindJobInstanceByJobNameAndParameters implements repository.JobInstance.
// Rows are found by the digest of the identifying parameters and confirmed
// against the full identity.
func (r *JobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	const op = "SQLJobRepository.FindJobInstanceByJobNameAndParameters"
	identity := params.Identity()
	var entities []JobInstanceEntity
	err := r.read(ctx).
		Where("job_name = ? AND parameters_key = ?", jobName, paramsKey(identity)).
		Order("create_time").
		Find(&entities).Error
	if err != nil {
		return nil, queryError(op, "JobInstance", err)
	}
	for i := range entities {
		if entities[i].Identity == identity {
			return toDomainJobInstance(&entities[i]), nil
		}
		logger.Warnf("%s: JobInstance (ID: %s) digest matched but parameters differ.", op, entities[i].ID)
	}
	return nil, repository.ErrJobInstanceNotFound
}

// GetJobNames implements repository.JobInstance.
func (r *JobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	const op = "SQLJobRepository.GetJobNames"
	names := make([]string, 0)
	err := r.read(ctx).Model(&JobInstanceEntity{}).
		Distinct("job_name").
		Order("job_name").
		Pluck("job_name", &names).Error
	if err != nil {
		if gormadaptor.IsTableNotExistError(err) {
			return names, nil
		}
		return nil, queryError(op, "JobInstance", err)
	}
	return names, nil
}
