// Package logging provides a listener that logs every execution callback.
package logging

import (
	"context"
	"time"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Listener logs job and step boundaries at INFO, chunks at DEBUG and skips
// and retries at WARN.
type Listener struct{}

var (
	_ port.JobExecutionListener  = (*Listener)(nil)
	_ port.StepExecutionListener = (*Listener)(nil)
	_ port.ChunkListener         = (*Listener)(nil)
	_ port.SkipListener          = (*Listener)(nil)
	_ port.RetryListener         = (*Listener)(nil)
)

func NewListener() *Listener {
	return &Listener{}
}

func (l *Listener) BeforeJob(_ context.Context, je *model.JobExecution) error {
	logger.With("job", je.JobName, "run", je.ID).Info("Job started", "parameters", je.Parameters.String(), "restart", je.RestartCount)
	return nil
}

func (l *Listener) AfterJob(_ context.Context, je *model.JobExecution) error {
	log := logger.With("job", je.JobName, "run", je.ID)
	attrs := []any{"status", je.Status, "exit", je.ExitStatus, "duration", elapsed(je.StartTime, je.EndTime)}
	if je.Status == model.BatchStatusCompleted {
		log.Info("Job finished", attrs...)
	} else {
		log.Warn("Job finished", append(attrs, "failures", len(je.Failures))...)
	}
	return nil
}

func (l *Listener) BeforeStep(_ context.Context, se *model.StepExecution) error {
	logger.With("step", se.StepName, "step_execution", se.ID).Info("Step started")
	return nil
}

func (l *Listener) AfterStep(_ context.Context, se *model.StepExecution) error {
	logger.With("step", se.StepName, "step_execution", se.ID).Info("Step finished",
		"status", se.Status, "exit", se.ExitStatus,
		"read", se.ReadCount, "write", se.WriteCount, "filter", se.FilterCount,
		"skip", se.SkipCount(), "commit", se.CommitCount, "rollback", se.RollbackCount,
		"duration", elapsed(se.StartTime, se.EndTime))
	return nil
}

func (l *Listener) BeforeChunk(_ context.Context, se *model.StepExecution) error {
	logger.Debugf("Chunk %d of step '%s' begins.", se.CommitCount+1, se.StepName)
	return nil
}

func (l *Listener) AfterChunk(_ context.Context, se *model.StepExecution) error {
	logger.Debugf("Chunk of step '%s' committed (read %d, written %d).", se.StepName, se.ReadCount, se.WriteCount)
	return nil
}

func (l *Listener) AfterChunkError(_ context.Context, se *model.StepExecution, err error) {
	logger.Warnf("Chunk of step '%s' rolled back: %v", se.StepName, err)
}

func (l *Listener) OnSkipInRead(_ context.Context, err error) {
	logger.Warnf("Skipped a record in read: %v", err)
}

func (l *Listener) OnSkipInProcess(_ context.Context, item any, err error) {
	logger.Warnf("Skipped item %+v in process: %v", item, err)
}

func (l *Listener) OnSkipInWrite(_ context.Context, item any, err error) {
	logger.Warnf("Skipped item %+v in write: %v", item, err)
}

func (l *Listener) OnRetryRead(_ context.Context, err error) {
	logger.Warnf("Retrying read: %v", err)
}

func (l *Listener) OnRetryProcess(_ context.Context, item any, err error) {
	logger.Warnf("Retrying process of item %+v: %v", item, err)
}

func (l *Listener) OnRetryWrite(_ context.Context, items []any, err error) {
	logger.Warnf("Retrying write of %d item(s): %v", len(items), err)
}

func elapsed(start time.Time, end *time.Time) time.Duration {
	if end == nil || start.IsZero() {
		return 0
	}
	return end.Sub(start).Round(time.Millisecond)
}
