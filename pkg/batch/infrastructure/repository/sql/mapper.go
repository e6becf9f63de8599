package sql

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// paramsKey is the indexed digest of the identifying parameters.
func paramsKey(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}

func fromDomainJobInstance(ji *model.JobInstance) *JobInstanceEntity {
	identity := ji.ParametersHash
	if identity == "" {
		identity = ji.Parameters.Identity()
	}
	return &JobInstanceEntity{
		ID:         ji.ID,
		JobName:    ji.JobName,
		ParamsKey:  paramsKey(identity),
		Parameters: ji.Parameters,
		Identity:   identity,
		CreateTime: ji.CreateTime,
		Version:    ji.Version,
	}
}

func toDomainJobInstance(e *JobInstanceEntity) *model.JobInstance {
	return &model.JobInstance{
		ID:             e.ID,
		JobName:        e.JobName,
		Parameters:     e.Parameters,
		ParametersHash: e.Identity,
		CreateTime:     e.CreateTime,
		Version:        e.Version,
	}
}

func fromDomainJobExecution(je *model.JobExecution) *JobExecutionEntity {
	return &JobExecutionEntity{
		ID:               je.ID,
		JobInstanceID:    je.JobInstanceID,
		JobName:          je.JobName,
		Parameters:       je.Parameters,
		Status:           string(je.Status),
		ExitStatus:       string(je.ExitStatus),
		ExitDescription:  je.ExitDescription,
		StartTime:        timePtr(je.StartTime),
		EndTime:          je.EndTime,
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
		Failures:         nonNilFailures(je.Failures),
		ExecutionContext: je.ExecutionContext,
		CurrentStepName:  je.CurrentStepName,
		RestartCount:     je.RestartCount,
		Version:          je.Version,
	}
}

func toDomainJobExecution(e *JobExecutionEntity) *model.JobExecution {
	je := &model.JobExecution{
		ID:               e.ID,
		JobInstanceID:    e.JobInstanceID,
		JobName:          e.JobName,
		Parameters:       e.Parameters,
		Status:           model.BatchStatus(e.Status),
		ExitStatus:       model.ExitStatus(e.ExitStatus),
		ExitDescription:  e.ExitDescription,
		EndTime:          e.EndTime,
		CreateTime:       e.CreateTime,
		LastUpdated:      e.LastUpdated,
		Failures:         nonNilFailures(e.Failures),
		ExecutionContext: nonNilContext(e.ExecutionContext),
		CurrentStepName:  e.CurrentStepName,
		RestartCount:     e.RestartCount,
		Version:          e.Version,
	}
	if e.StartTime != nil {
		je.StartTime = *e.StartTime
	}
	return je
}

func fromDomainStepExecution(se *model.StepExecution, created time.Time) *StepExecutionEntity {
	jobExecutionID := se.JobExecutionID
	if jobExecutionID == "" && se.JobExecution != nil {
		jobExecutionID = se.JobExecution.ID
	}
	return &StepExecutionEntity{
		ID:               se.ID,
		JobExecutionID:   jobExecutionID,
		StepName:         se.StepName,
		Status:           string(se.Status),
		ExitStatus:       string(se.ExitStatus),
		ExitDescription:  se.ExitDescription,
		StartTime:        timePtr(se.StartTime),
		EndTime:          se.EndTime,
		CreateTime:       created,
		LastUpdated:      se.LastUpdated,
		ReadCount:        se.ReadCount,
		WriteCount:       se.WriteCount,
		FilterCount:      se.FilterCount,
		CommitCount:      se.CommitCount,
		RollbackCount:    se.RollbackCount,
		ReadSkipCount:    se.ReadSkipCount,
		ProcessSkipCount: se.ProcessSkipCount,
		WriteSkipCount:   se.WriteSkipCount,
		RetryCount:       se.RetryCount,
		Failures:         nonNilFailures(se.Failures),
		ExecutionContext: se.ExecutionContext,
		Version:          se.Version,
	}
}

func toDomainStepExecution(e *StepExecutionEntity) *model.StepExecution {
	se := &model.StepExecution{
		ID:               e.ID,
		StepName:         e.StepName,
		JobExecutionID:   e.JobExecutionID,
		Status:           model.BatchStatus(e.Status),
		ExitStatus:       model.ExitStatus(e.ExitStatus),
		ExitDescription:  e.ExitDescription,
		EndTime:          e.EndTime,
		LastUpdated:      e.LastUpdated,
		ReadCount:        e.ReadCount,
		WriteCount:       e.WriteCount,
		FilterCount:      e.FilterCount,
		CommitCount:      e.CommitCount,
		RollbackCount:    e.RollbackCount,
		ReadSkipCount:    e.ReadSkipCount,
		ProcessSkipCount: e.ProcessSkipCount,
		WriteSkipCount:   e.WriteSkipCount,
		RetryCount:       e.RetryCount,
		Failures:         nonNilFailures(e.Failures),
		ExecutionContext: nonNilContext(e.ExecutionContext),
		Version:          e.Version,
	}
	if e.StartTime != nil {
		se.StartTime = *e.StartTime
	}
	return se
}

func fromDomainCheckpointData(cp *model.CheckpointData) *CheckpointDataEntity {
	return &CheckpointDataEntity{
		JobInstanceID:    cp.JobInstanceID,
		StepName:         cp.StepName,
		StepExecutionID:  cp.StepExecutionID,
		ExecutionContext: cp.ExecutionContext,
		LastUpdated:      cp.LastUpdated,
	}
}

func toDomainCheckpointData(e *CheckpointDataEntity) *model.CheckpointData {
	return &model.CheckpointData{
		JobInstanceID:    e.JobInstanceID,
		StepName:         e.StepName,
		StepExecutionID:  e.StepExecutionID,
		ExecutionContext: nonNilContext(e.ExecutionContext),
		LastUpdated:      e.LastUpdated,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNilFailures(f model.FailureList) model.FailureList {
	if f == nil {
		return model.FailureList{}
	}
	return f
}

func nonNilContext(ec model.ExecutionContext) model.ExecutionContext {
	if ec == nil {
		return model.NewExecutionContext()
	}
	return ec
}
