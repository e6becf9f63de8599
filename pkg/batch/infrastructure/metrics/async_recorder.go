package metrics

import (
	"context"
	"sync"
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// AsyncRecorder queues recordings and applies them to a wrapped recorder on
// one worker goroutine. Events are dropped with a warning when the queue is full.
type AsyncRecorder struct {
	next   metrics.MetricRecorder
	queue  chan func()
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	closed chan struct{}
}

var _ metrics.MetricRecorder = (*AsyncRecorder)(nil)

// DefaultAsyncBufferSize is used when the configured buffer size is not positive.
const DefaultAsyncBufferSize = 100

// NewAsyncRecorder starts the worker. Close drains the queue and stops it.
func NewAsyncRecorder(next metrics.MetricRecorder, bufferSize int) *AsyncRecorder {
	if bufferSize <= 0 {
		bufferSize = DefaultAsyncBufferSize
	}
	r := &AsyncRecorder{
		next:   next,
		queue:  make(chan func(), bufferSize),
		stop:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *AsyncRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case fn := <-r.queue:
			fn()
		case <-r.stop:
			for {
				select {
				case fn := <-r.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Close records everything queued so far and stops the worker.
// Recordings made after Close are dropped.
func (r *AsyncRecorder) Close() {
	r.once.Do(func() {
		close(r.closed)
		close(r.stop)
		r.wg.Wait()
	})
}

// enqueue detaches ctx from cancellation so values such as the step execution
// stay readable when the event is applied.
func (r *AsyncRecorder) enqueue(kind string, fn func()) {
	select {
	case <-r.closed:
		return
	default:
	}
	select {
	case r.queue <- fn:
	default:
		logger.Warnf("AsyncRecorder: queue full, dropping %s event.", kind)
	}
}

func (r *AsyncRecorder) RecordJobStart(ctx context.Context, e *model.JobExecution) {
	ctx = context.WithoutCancel(ctx)
	r.enqueue("job_start", func() { r.next.RecordJobStart(ctx, e) })
}

func (r *AsyncRecorder) RecordJobEnd(ctx context.Context, e *model.JobExecution) {
	ctx = context.WithoutCancel(ctx)
	r.enqueue("job_end", func() { r.next.RecordJobEnd(ctx, e) })
}

func (r *AsyncRecorder) RecordStepStart(ctx context.Context, e *model.StepExecution) {
	ctx = context.WithoutCancel(ctx)
	r.enqueue("step_start", func() { r.next.RecordStepStart(ctx, e) })
}

func (r *AsyncRecorder) RecordStepEnd(ctx context.Context, e *model.StepExecution) {
	ctx = context.WithoutCancel(ctx)
	r.enqueue("step_end", func() { r.next.RecordStepEnd(ctx, e) })
}

func (r *AsyncRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	ctx = context.WithoutCancel(ctx)
	r.enqueue("item_read", func() { r.next.RecordItemRead(ctx, stepName, count) })
}

func (r *AsyncRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	ctx = context.WithoutCancel(ctx)
	r.enqueue("item_write", func() { r.next.RecordItemWrite(ctx, stepName, count) })
}

func (r *AsyncRecorder) RecordItemFilter(ctx context.Context, stepName string, count int) {
	ctx = context.WithoutCancel(ctx)
	r.enqueue("item_filter", func() { r.next.RecordItemFilter(ctx, stepName, count) })
}

func (r *AsyncRecorder) RecordItemSkip(ctx context.Context, stepName, phase, reason string) {
	ctx = context.WithoutCancel(ctx)
	r.enqueue("item_skip", func() { r.next.RecordItemSkip(ctx, stepName, phase, reason) })
}

func (r *AsyncRecorder) RecordItemRetry(ctx context.Context, stepName, phase, reason string) {
	ctx = context.WithoutCancel(ctx)
	r.enqueue("item_retry", func() { r.next.RecordItemRetry(ctx, stepName, phase, reason) })
}

func (r *AsyncRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	ctx = context.WithoutCancel(ctx)
	r.enqueue("chunk_commit", func() { r.next.RecordChunkCommit(ctx, stepName, count) })
}

func (r *AsyncRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	ctx = context.WithoutCancel(ctx)
	r.enqueue("chunk_rollback", func() { r.next.RecordChunkRollback(ctx, stepName) })
}

func (r *AsyncRecorder) RecordDuration(ctx context.Context, name string, d time.Duration, tags map[string]string) {
	ctx = context.WithoutCancel(ctx)
	r.enqueue("duration", func() { r.next.RecordDuration(ctx, name, d, tags) })
}
