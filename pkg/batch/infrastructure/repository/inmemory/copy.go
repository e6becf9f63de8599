package inmemory

import (
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

func copyJobInstance(ji *model.JobInstance) *model.JobInstance {
	c := *ji
	return &c
}

// copyJobExecution copies je without its step executions.
func copyJobExecution(je *model.JobExecution) *model.JobExecution {
	c := *je
	c.StepExecutions = nil
	c.ExecutionContext = je.ExecutionContext.Copy()
	c.Failures = append(model.FailureList{}, je.Failures...)
	if je.EndTime != nil {
		end := *je.EndTime
		c.EndTime = &end
	}
	return &c
}

func copyStepExecution(se *model.StepExecution) *model.StepExecution {
	c := *se
	c.JobExecution = nil
	c.ExecutionContext = se.ExecutionContext.Copy()
	c.Failures = append(model.FailureList{}, se.Failures...)
	if se.EndTime != nil {
		end := *se.EndTime
		c.EndTime = &end
	}
	return &c
}

func copyCheckpointData(cp *model.CheckpointData) *model.CheckpointData {
	c := *cp
	c.ExecutionContext = cp.ExecutionContext.Copy()
	return &c
}
