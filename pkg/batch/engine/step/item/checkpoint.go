package item

import (
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// Keys written to the step ExecutionContext at every commit.
const (
	// KeyReadPosition is the number of reader positions consumed (items read plus read skips).
	KeyReadPosition = "item.read.count"

	keyReadCount        = "step.read.count"
	keyWriteCount       = "step.write.count"
	keyFilterCount      = "step.filter.count"
	keyCommitCount      = "step.commit.count"
	keyReadSkipCount    = "step.read.skip.count"
	keyProcessSkipCount = "step.process.skip.count"
	keyWriteSkipCount   = "step.write.skip.count"
	keyRetryCount       = "step.retry.count"
)

func saveStepCounters(ec model.ExecutionContext, se *model.StepExecution) {
	ec.Put(keyReadCount, se.ReadCount)
	ec.Put(keyWriteCount, se.WriteCount)
	ec.Put(keyFilterCount, se.FilterCount)
	ec.Put(keyCommitCount, se.CommitCount)
	ec.Put(keyReadSkipCount, se.ReadSkipCount)
	ec.Put(keyProcessSkipCount, se.ProcessSkipCount)
	ec.Put(keyWriteSkipCount, se.WriteSkipCount)
	ec.Put(keyRetryCount, se.RetryCount)
}

// restoreStepCounters loads counters saved by a previous run of the step.
func restoreStepCounters(ec model.ExecutionContext, se *model.StepExecution) {
	for key, dst := range map[string]*int{
		keyReadCount:        &se.ReadCount,
		keyWriteCount:       &se.WriteCount,
		keyFilterCount:      &se.FilterCount,
		keyCommitCount:      &se.CommitCount,
		keyReadSkipCount:    &se.ReadSkipCount,
		keyProcessSkipCount: &se.ProcessSkipCount,
		keyWriteSkipCount:   &se.WriteSkipCount,
		keyRetryCount:       &se.RetryCount,
	} {
		if v, ok := ec.GetInt(key); ok {
			*dst = v
		}
	}
}

// stepState is the part of a StepExecution a rolled back chunk must undo.
type stepState struct {
	readCount, writeCount, filterCount, commitCount int
	readSkips, processSkips, writeSkips, retries    int
	version                                         int
	ec                                              model.ExecutionContext
}

func captureStep(se *model.StepExecution) stepState {
	return stepState{
		readCount:    se.ReadCount,
		writeCount:   se.WriteCount,
		filterCount:  se.FilterCount,
		commitCount:  se.CommitCount,
		readSkips:    se.ReadSkipCount,
		processSkips: se.ProcessSkipCount,
		writeSkips:   se.WriteSkipCount,
		retries:      se.RetryCount,
		version:      se.Version,
		ec:           se.ExecutionContext.Copy(),
	}
}

func (s stepState) restore(se *model.StepExecution) {
	se.ReadCount = s.readCount
	se.WriteCount = s.writeCount
	se.FilterCount = s.filterCount
	se.CommitCount = s.commitCount
	se.ReadSkipCount = s.readSkips
	se.ProcessSkipCount = s.processSkips
	se.WriteSkipCount = s.writeSkips
	se.RetryCount = s.retries
	se.Version = s.version
	se.ExecutionContext = s.ec
}
