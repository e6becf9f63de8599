package sql

import (
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// JobInstanceEntity is the row of batch_job_instance.
type JobInstanceEntity struct {
	ID         string              `gorm:"primaryKey;size:36"`
	JobName    string              `gorm:"size:100;not null;uniqueIndex:idx_job_instance_key,priority:1"`
	ParamsKey  string              `gorm:"column:parameters_key;size:64;not null;uniqueIndex:idx_job_instance_key,priority:2"`
	Parameters model.JobParameters `gorm:"type:text"`
	Identity   string              `gorm:"column:parameters_identity;type:text"`
	CreateTime time.Time           `gorm:"not null"`
	Version    int                 `gorm:"not null"`
}

// TableName implements gorm's Tabler.
func (JobInstanceEntity) TableName() string {
	return "batch_job_instance"
}

// JobExecutionEntity is the row of batch_job_execution.
type JobExecutionEntity struct {
	ID               string                 `gorm:"primaryKey;size:36"`
	JobInstanceID    string                 `gorm:"size:36;not null;index"`
	JobName          string                 `gorm:"size:100;not null;index:idx_job_execution_name_time,priority:1"`
	Parameters       model.JobParameters    `gorm:"type:text"`
	Status           string                 `gorm:"size:20;not null"`
	ExitStatus       string                 `gorm:"size:100"`
	ExitDescription  string                 `gorm:"type:text"`
	StartTime        *time.Time             ``
	EndTime          *time.Time             ``
	CreateTime       time.Time              `gorm:"not null;index:idx_job_execution_name_time,priority:2"`
	LastUpdated      time.Time              ``
	Failures         model.FailureList      `gorm:"type:text"`
	ExecutionContext model.ExecutionContext `gorm:"type:text"`
	CurrentStepName  string                 `gorm:"size:100"`
	RestartCount     int                    ``
	Version          int                    `gorm:"not null"`
}

// TableName implements gorm's Tabler.
func (JobExecutionEntity) TableName() string {
	return "batch_job_execution"
}

// StepExecutionEntity is the row of batch_step_execution.
type StepExecutionEntity struct {
	ID               string                 `gorm:"primaryKey;size:36"`
	JobExecutionID   string                 `gorm:"size:36;not null;index"`
	StepName         string                 `gorm:"size:100;not null"`
	Status           string                 `gorm:"size:20;not null"`
	ExitStatus       string                 `gorm:"size:100"`
	ExitDescription  string                 `gorm:"type:text"`
	StartTime        *time.Time             ``
	EndTime          *time.Time             ``
	CreateTime       time.Time              `gorm:"not null"`
	LastUpdated      time.Time              ``
	ReadCount        int                    ``
	WriteCount       int                    ``
	FilterCount      int                    ``
	CommitCount      int                    ``
	RollbackCount    int                    ``
	ReadSkipCount    int                    ``
	ProcessSkipCount int                    ``
	WriteSkipCount   int                    ``
	RetryCount       int                    ``
	Failures         model.FailureList      `gorm:"type:text"`
	ExecutionContext model.ExecutionContext `gorm:"type:text"`
	Version          int                    `gorm:"not null"`
}

// TableName implements gorm's Tabler.
func (StepExecutionEntity) TableName() string {
	return "batch_step_execution"
}

// CheckpointDataEntity is the row of batch_checkpoint_data.
type CheckpointDataEntity struct {
	JobInstanceID    string                 `gorm:"primaryKey;size:36"`
	StepName         string                 `gorm:"primaryKey;size:100"`
	StepExecutionID  string                 `gorm:"size:36"`
	ExecutionContext model.ExecutionContext `gorm:"type:text"`
	LastUpdated      time.Time              ``
}

// TableName implements gorm's Tabler.
func (CheckpointDataEntity) TableName() string {
	return "batch_checkpoint_data"
}

// Entities lists the metadata tables, in creation order.
func Entities() []interface{} {
	return []interface{}{
		&JobInstanceEntity{},
		&JobExecutionEntity{},
		&StepExecutionEntity{},
		&CheckpointDataEntity{},
	}
}
