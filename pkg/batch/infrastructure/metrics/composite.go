package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
)

// CompositeRecorder forwards every call to each of its recorders in order.
type CompositeRecorder []metrics.MetricRecorder

var _ metrics.MetricRecorder = CompositeRecorder(nil)

func (c CompositeRecorder) RecordJobStart(ctx context.Context, e *model.JobExecution) {
	for _, r := range c {
		r.RecordJobStart(ctx, e)
	}
}

func (c CompositeRecorder) RecordJobEnd(ctx context.Context, e *model.JobExecution) {
	for _, r := range c {
		r.RecordJobEnd(ctx, e)
	}
}

func (c CompositeRecorder) RecordStepStart(ctx context.Context, e *model.StepExecution) {
	for _, r := range c {
		r.RecordStepStart(ctx, e)
	}
}

func (c CompositeRecorder) RecordStepEnd(ctx context.Context, e *model.StepExecution) {
	for _, r := range c {
		r.RecordStepEnd(ctx, e)
	}
}

func (c CompositeRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	for _, r := range c {
		r.RecordItemRead(ctx, stepName, count)
	}
}

func (c CompositeRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	for _, r := range c {
		r.RecordItemWrite(ctx, stepName, count)
	}
}

func (c CompositeRecorder) RecordItemFilter(ctx context.Context, stepName string, count int) {
	for _, r := range c {
		r.RecordItemFilter(ctx, stepName, count)
	}
}

func (c CompositeRecorder) RecordItemSkip(ctx context.Context, stepName, phase, reason string) {
	for _, r := range c {
		r.RecordItemSkip(ctx, stepName, phase, reason)
	}
}

func (c CompositeRecorder) RecordItemRetry(ctx context.Context, stepName, phase, reason string) {
	for _, r := range c {
		r.RecordItemRetry(ctx, stepName, phase, reason)
	}
}

func (c CompositeRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	for _, r := range c {
		r.RecordChunkCommit(ctx, stepName, count)
	}
}

func (c CompositeRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	for _, r := range c {
		r.RecordChunkRollback(ctx, stepName)
	}
}

func (c CompositeRecorder) RecordDuration(ctx context.Context, name string, d time.Duration, tags map[string]string) {
	for _, r := range c {
		r.RecordDuration(ctx, name, d, tags)
	}
}
