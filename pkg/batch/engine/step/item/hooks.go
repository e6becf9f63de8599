package item

import (
	"context"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/fault"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Hooks are the observers the chunk provider and processor report to.
// Any field may be nil.
type Hooks struct {
	StepName  string
	Listeners *listener.Registry
	Recorder  metrics.MetricRecorder
	Tracer    metrics.Tracer
}

func (h *Hooks) retry(ctx context.Context, phase fault.Phase, kind string, attempt int, item any, items []any, err error) {
	if h == nil {
		return
	}
	logger.Warnf("Step '%s': %s failed (retry %d): %v", h.StepName, phase, attempt, err)
	if h.Recorder != nil {
		h.Recorder.RecordItemRetry(ctx, h.StepName, string(phase), kind)
	}
	if h.Tracer != nil {
		h.Tracer.RecordError(ctx, string(phase), err)
	}
	switch phase {
	case fault.PhaseRead:
		h.Listeners.OnRetryRead(ctx, err)
	case fault.PhaseProcess:
		h.Listeners.OnRetryProcess(ctx, item, err)
	case fault.PhaseWrite:
		h.Listeners.OnRetryWrite(ctx, items, err)
	}
}

func (h *Hooks) skipped(ctx context.Context, phase fault.Phase, skips, limit int, err error) {
	if h == nil {
		return
	}
	logger.Warnf("Step '%s': %s skipped (skip count %d/%d): %v", h.StepName, phase, skips, limit, err)
	if h.Tracer != nil {
		h.Tracer.RecordError(ctx, string(phase), err)
	}
}

func toAnySlice[T any](items []T) []any {
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}
