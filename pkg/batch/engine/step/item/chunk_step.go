package item

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/fault"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/scope"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ChunkStep is a port.Step that reads, processes and writes items in chunks.
// Each chunk, together with the step's progress, is committed in one transaction.
type ChunkStep[I, O any] struct {
	name string

	reader    scope.Provider[port.ItemReader[I]]
	processor scope.Provider[port.ItemProcessor[I, O]]
	writer    scope.Provider[port.ItemWriter[O]]

	repo      repository.JobRepository
	txManager tx.TransactionManager
	opts      Options
}

var _ port.Step = (*ChunkStep[any, any])(nil)

// NewChunkStep creates a ChunkStep over fixed components. processor may be nil
// when I and O are the same type. The step owns the components: they are opened
// and closed around every execution.
func NewChunkStep[I, O any](
	name string,
	reader port.ItemReader[I],
	processor port.ItemProcessor[I, O],
	writer port.ItemWriter[O],
	repo repository.JobRepository,
	txManager tx.TransactionManager,
	opts ...Option,
) *ChunkStep[I, O] {
	var pp scope.Provider[port.ItemProcessor[I, O]]
	if processor != nil {
		pp = scope.Value(processor)
	}
	return NewScopedChunkStep(name, scope.Value(reader), pp, scope.Value(writer), repo, txManager, opts...)
}

// NewScopedChunkStep creates a ChunkStep whose components are created by the
// given providers when the step starts and released when it ends.
func NewScopedChunkStep[I, O any](
	name string,
	reader scope.Provider[port.ItemReader[I]],
	processor scope.Provider[port.ItemProcessor[I, O]],
	writer scope.Provider[port.ItemWriter[O]],
	repo repository.JobRepository,
	txManager tx.TransactionManager,
	opts ...Option,
) *ChunkStep[I, O] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &ChunkStep[I, O]{
		name:      name,
		reader:    reader,
		processor: processor,
		writer:    writer,
		repo:      repo,
		txManager: txManager,
		opts:      o,
	}
}

// StepName returns the step name.
func (s *ChunkStep[I, O]) StepName() string {
	return s.name
}

// ChunkSize returns the configured number of items per chunk.
func (s *ChunkStep[I, O]) ChunkSize() int {
	return s.opts.ChunkSize
}

// chunkRun is the state of one execution of the step.
type chunkRun[I, O any] struct {
	je        *model.JobExecution
	se        *model.StepExecution
	provider  *Provider[I]
	processor *Processor[I, O]
	streams   []port.ItemStream
	listeners *listener.Registry
	hooks     *Hooks
	counters  *fault.Counters
	positions int
	chunks    int
}

// Execute runs the step until the reader is exhausted, a fatal failure occurs
// or a stop is requested.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	ctx = port.WithStepExecution(ctx, stepExecution)
	ctx, endSpan := s.opts.Tracer.StartStepSpan(ctx, stepExecution)
	defer endSpan()

	logger.Infof("ChunkStep '%s' executing (chunk size %d).", s.name, s.opts.ChunkSize)
	stepExecution.MarkAsStarted()
	s.opts.Recorder.RecordStepStart(ctx, stepExecution)
	if err := s.repo.UpdateStepExecution(ctx, stepExecution); err != nil {
		err = exception.NewBatchError(s.name, "failed to update StepExecution status to STARTED", err, false, false)
		stepExecution.MarkAsFailed(err)
		s.opts.Recorder.RecordStepEnd(ctx, stepExecution)
		return err
	}

	sc := scope.New(stepExecution)
	run := &chunkRun[I, O]{
		je:        jobExecution,
		se:        stepExecution,
		listeners: s.opts.Listeners.Clone(),
		counters:  &fault.Counters{},
	}

	stopped, stepErr := s.run(ctx, sc, run)
	if err := sc.Release(ctx); err != nil && stepErr == nil {
		stepErr = exception.NewBatchError(s.name, "failed to release step resources", err, false, false)
	}

	switch {
	case stepErr != nil:
		s.opts.Tracer.RecordError(ctx, s.name, stepErr)
		stepExecution.MarkAsFailed(stepErr)
	case stopped:
		stepExecution.MarkAsStopped()
	default:
		stepExecution.MarkAsCompleted()
		s.clearCheckpoint(ctx, run)
	}

	if err := run.listeners.AfterStep(ctx, stepExecution); err != nil {
		logger.Errorf("ChunkStep '%s': AfterStep listener failed: %v", s.name, err)
		failStep(stepExecution, err)
		if stepErr == nil {
			stepErr = err
		}
	}

	if err := s.repo.UpdateStepExecution(ctx, stepExecution); err != nil {
		logger.Errorf("ChunkStep '%s': failed to update final StepExecution state: %v", s.name, err)
		if stepErr == nil {
			stepErr = err
		}
	}
	s.opts.Recorder.RecordStepEnd(ctx, stepExecution)
	logger.Infof("ChunkStep '%s' finished. %s", s.name, stepExecution)
	return stepErr
}

// run acquires the components, restores progress and loops over chunks.
func (s *ChunkStep[I, O]) run(ctx context.Context, sc *scope.StepScope, run *chunkRun[I, O]) (stopped bool, err error) {
	reader, err := scope.Acquire(ctx, sc, s.reader)
	if err != nil {
		return false, err
	}
	processor, err := scope.Acquire(ctx, sc, s.processor)
	if err != nil {
		return false, err
	}
	writer, err := scope.Acquire(ctx, sc, s.writer)
	if err != nil {
		return false, err
	}
	if reader == nil {
		return false, exception.NewBatchErrorf(s.name, "no ItemReader configured")
	}

	for _, c := range []any{reader, processor, writer} {
		if c == nil {
			continue
		}
		run.listeners.TryRegister(c)
		if st, ok := c.(port.ItemStream); ok && !containsStream(run.streams, st) {
			run.streams = append(run.streams, st)
		}
	}

	run.hooks = &Hooks{StepName: s.name, Listeners: run.listeners, Recorder: s.opts.Recorder, Tracer: s.opts.Tracer}
	run.provider = NewProvider(reader, s.opts.ChunkSize, s.opts.Policy, run.hooks)
	run.processor = NewProcessor(processor, writer, s.opts.Policy, run.hooks)

	if err := run.listeners.BeforeStep(ctx, run.se); err != nil {
		return false, err
	}

	if err := s.restore(ctx, run); err != nil {
		return false, err
	}
	for _, st := range run.streams {
		if err := st.Open(ctx, run.se.ExecutionContext); err != nil {
			return false, exception.NewBatchError(s.name, fmt.Sprintf("failed to open %T", st), err, false, false)
		}
	}
	if _, isStream := reader.(port.ItemStream); !isStream && run.positions > 0 {
		if err := s.fastForward(ctx, reader, run.positions); err != nil {
			return false, err
		}
	}

	for {
		if run.je != nil && run.je.IsStopRequested() {
			logger.Infof("ChunkStep '%s': stop requested, stopping after %d chunk(s).", s.name, run.chunks)
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, exception.NewBatchError(s.name, "step interrupted", err, false, false)
		}
		eos, err := s.runChunk(ctx, run)
		if err != nil {
			return false, err
		}
		if eos {
			return false, nil
		}
	}
}

// restore loads the last committed progress of the step, either carried over
// by a restart or found in the checkpoint store.
func (s *ChunkStep[I, O]) restore(ctx context.Context, run *chunkRun[I, O]) error {
	se := run.se
	if se.ExecutionContext == nil {
		se.ExecutionContext = model.NewExecutionContext()
	}
	if _, ok := se.ExecutionContext.Get(KeyReadPosition); !ok && run.je != nil {
		cp, err := s.repo.FindCheckpointData(ctx, run.je.JobInstanceID, s.name)
		switch {
		case errors.Is(err, repository.ErrCheckpointDataNotFound):
		case err != nil:
			return exception.NewBatchError(s.name, "failed to load checkpoint data", err, false, false)
		default:
			for k, v := range cp.ExecutionContext {
				se.ExecutionContext.Put(k, v)
			}
		}
	}
	if pos, ok := se.ExecutionContext.GetInt(KeyReadPosition); ok && pos > 0 {
		run.positions = pos
		restoreStepCounters(se.ExecutionContext, se)
		run.counters.Skips = se.SkipCount()
		run.counters.Retries = se.RetryCount
		logger.Infof("ChunkStep '%s': resuming after %d consumed item(s), %d commit(s).", s.name, pos, se.CommitCount)
	}
	return nil
}

// fastForward skips positions already consumed by a previous run of a reader
// that cannot restore its own position.
func (s *ChunkStep[I, O]) fastForward(ctx context.Context, reader port.ItemReader[I], positions int) error {
	for i := 0; i < positions; i++ {
		_, err := reader.Read(ctx)
		if errors.Is(err, port.ErrNoMoreItems) {
			logger.Warnf("ChunkStep '%s': source ended after %d of %d committed position(s).", s.name, i, positions)
			return nil
		}
		if err != nil && ctx.Err() != nil {
			return err
		}
	}
	logger.Debugf("ChunkStep '%s': skipped %d committed position(s).", s.name, positions)
	return nil
}

func (s *ChunkStep[I, O]) chunkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.ChunkTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.ChunkTimeout)
	}
	return context.WithCancel(ctx)
}

// runChunk processes one chunk in its own transaction. A chunk that exceeds its
// timeout is rolled back and, when the policy allows a retry, processed again
// from the buffered input items.
func (s *ChunkStep[I, O]) runChunk(ctx context.Context, run *chunkRun[I, O]) (eos bool, err error) {
	run.chunks++
	ctx, endSpan := s.opts.Tracer.StartChunkSpan(ctx, run.se, run.chunks)
	defer endSpan()

	base := run.counters.Snapshot()
	var inputs *Chunk[I]
	for attempt := 0; ; attempt++ {
		t, err := s.txManager.Begin(ctx, s.opts.TxOptions)
		if err != nil {
			return false, exception.NewBatchError(s.name, "failed to begin chunk transaction", err, false, false)
		}
		saved := captureStep(run.se)

		chunkCtx, cancel := s.chunkContext(ctx)
		txCtx := tx.WithTx(chunkCtx, t)

		var cerr error
		if inputs == nil {
			inputs, cerr = run.provider.Provide(txCtx, run.counters)
		} else if !inputs.complete {
			cerr = run.provider.Fill(txCtx, run.counters, inputs)
		}
		if cerr == nil && inputs.Len() == 0 && inputs.EndOfSource {
			cancel()
			if rerr := s.txManager.Rollback(t); rerr != nil {
				logger.Warnf("ChunkStep '%s': failed to release empty chunk transaction: %v", s.name, rerr)
			}
			run.chunks--
			s.foldTrailingSkips(ctx, run, inputs)
			return true, nil
		}

		var outputs *Chunk[O]
		if cerr == nil {
			cerr = run.listeners.BeforeChunk(txCtx, run.se)
		}
		if cerr == nil {
			outputs, cerr = run.processor.Process(txCtx, run.counters, inputs)
		}
		if cerr == nil {
			cerr = run.processor.Write(txCtx, run.counters, outputs)
		}
		if cerr == nil && chunkCtx.Err() != nil {
			cerr = chunkCtx.Err()
		}
		timedOut := chunkCtx.Err() != nil && ctx.Err() == nil
		cancel()

		var positions int
		if cerr == nil {
			positions, cerr = s.persist(tx.WithTx(ctx, t), run, inputs, outputs)
		}
		if cerr == nil {
			if err := s.txManager.Commit(t); err != nil {
				saved.restore(run.se)
				run.se.RollbackCount++
				s.opts.Recorder.RecordChunkRollback(ctx, s.name)
				run.listeners.AfterChunkError(ctx, run.se, err)
				return false, exception.NewBatchError(s.name, "failed to commit chunk transaction", err, false, false)
			}
			run.positions = positions
			s.afterCommit(ctx, run, inputs, outputs)
			if err := run.listeners.AfterChunk(ctx, run.se); err != nil {
				return false, err
			}
			return inputs.EndOfSource, nil
		}

		if rerr := s.txManager.Rollback(t); rerr != nil {
			logger.Errorf("ChunkStep '%s': rollback failed: %v", s.name, rerr)
		}
		saved.restore(run.se)
		run.se.RollbackCount++
		s.opts.Recorder.RecordChunkRollback(ctx, s.name)
		run.listeners.AfterChunkError(ctx, run.se, cerr)
		logger.Warnf("ChunkStep '%s': chunk %d rolled back: %v", s.name, run.chunks, cerr)

		if !timedOut {
			return false, cerr
		}

		timeoutErr := fmt.Errorf("chunk %d exceeded its timeout of %s: %w", run.chunks, s.opts.ChunkTimeout, context.DeadlineExceeded)
		run.counters.Restore(base)
		run.counters.Skips += inputs.SkipCount(fault.PhaseRead)
		run.counters.Retries += inputs.Retries
		if s.opts.Policy.Classify(timeoutErr, attempt, run.counters) != fault.Retryable {
			return false, fault.NewNonSkippableError(fault.PhaseChunk, timeoutErr, s.opts.Policy, attempt, run.counters)
		}
		run.counters.RecordRetry()
		inputs.Retries++
		run.hooks.retry(ctx, fault.PhaseChunk, s.opts.Policy.Kind(timeoutErr), attempt+1, nil, toAnySlice(inputs.Items), timeoutErr)
		if err := retry.Wait(ctx, s.opts.Policy.Backoff, attempt+1); err != nil {
			return false, exception.NewBatchError(s.name, "step interrupted", err, false, false)
		}
	}
}

// persist applies the chunk's counters to the StepExecution and saves the
// step's progress inside the chunk transaction carried by ctx. It returns the
// reader position to adopt once the transaction commits.
func (s *ChunkStep[I, O]) persist(ctx context.Context, run *chunkRun[I, O], inputs *Chunk[I], outputs *Chunk[O]) (int, error) {
	se := run.se
	se.ReadCount += inputs.Len()
	se.ReadSkipCount += inputs.SkipCount(fault.PhaseRead)
	se.FilterCount += outputs.Filtered
	se.ProcessSkipCount += outputs.SkipCount(fault.PhaseProcess)
	se.WriteSkipCount += outputs.SkipCount(fault.PhaseWrite)
	se.WriteCount += outputs.Written
	se.RetryCount += inputs.Retries + outputs.Retries
	se.CommitCount++

	positions := run.positions + inputs.Consumed()
	ec := se.ExecutionContext
	ec.Put(KeyReadPosition, positions)
	saveStepCounters(ec, se)
	for _, st := range run.streams {
		if err := st.Update(ctx, ec); err != nil {
			return 0, exception.NewBatchError(s.name, fmt.Sprintf("failed to update state of %T", st), err, false, false)
		}
	}

	for _, sk := range inputs.Skips {
		run.listeners.OnSkipInRead(ctx, sk.Err)
	}
	for _, sk := range outputs.Skips {
		if sk.Phase == fault.PhaseProcess {
			run.listeners.OnSkipInProcess(ctx, sk.Item, sk.Err)
		} else {
			run.listeners.OnSkipInWrite(ctx, sk.Item, sk.Err)
		}
	}

	if err := s.repo.UpdateStepExecution(ctx, se); err != nil {
		return 0, exception.NewBatchError(s.name, "failed to persist StepExecution", err, false, false)
	}
	cp := &model.CheckpointData{
		StepExecutionID:  se.ID,
		StepName:         s.name,
		ExecutionContext: ec.Copy(),
		LastUpdated:      time.Now(),
	}
	if run.je != nil {
		cp.JobInstanceID = run.je.JobInstanceID
	}
	if err := s.repo.SaveCheckpointData(ctx, cp); err != nil {
		return 0, exception.NewBatchError(s.name, "failed to save checkpoint data", err, false, false)
	}
	return positions, nil
}

// foldTrailingSkips applies the read skips of a final chunk that produced no
// items. Nothing is committed for it; the step's final update persists the counts.
func (s *ChunkStep[I, O]) foldTrailingSkips(ctx context.Context, run *chunkRun[I, O], inputs *Chunk[I]) {
	if len(inputs.Skips) == 0 && inputs.Retries == 0 {
		return
	}
	se := run.se
	se.ReadSkipCount += inputs.SkipCount(fault.PhaseRead)
	se.RetryCount += inputs.Retries
	run.positions += inputs.Consumed()
	se.ExecutionContext.Put(KeyReadPosition, run.positions)
	saveStepCounters(se.ExecutionContext, se)
	for _, sk := range inputs.Skips {
		run.listeners.OnSkipInRead(ctx, sk.Err)
		s.opts.Recorder.RecordItemSkip(ctx, s.name, string(sk.Phase), s.opts.Policy.Kind(sk.Err))
	}
	logger.Debugf("ChunkStep '%s': %d read skip(s) after the last item.", s.name, len(inputs.Skips))
}

func (s *ChunkStep[I, O]) afterCommit(ctx context.Context, run *chunkRun[I, O], inputs *Chunk[I], outputs *Chunk[O]) {
	r := s.opts.Recorder
	r.RecordItemRead(ctx, s.name, inputs.Len())
	r.RecordItemWrite(ctx, s.name, outputs.Written)
	if outputs.Filtered > 0 {
		r.RecordItemFilter(ctx, s.name, outputs.Filtered)
	}
	for _, sk := range append(append([]SkipRecord(nil), inputs.Skips...), outputs.Skips...) {
		r.RecordItemSkip(ctx, s.name, string(sk.Phase), s.opts.Policy.Kind(sk.Err))
	}
	r.RecordChunkCommit(ctx, s.name, outputs.Written)
	logger.Debugf("ChunkStep '%s': chunk %d committed (read %d, written %d, filtered %d, skipped %d).",
		s.name, run.chunks, inputs.Len(), outputs.Written, outputs.Filtered, len(inputs.Skips)+len(outputs.Skips))
}

// clearCheckpoint resets the stored progress of a completed step so a later
// visit of the same step within the job instance starts from the beginning.
func (s *ChunkStep[I, O]) clearCheckpoint(ctx context.Context, run *chunkRun[I, O]) {
	if run.je == nil || run.positions == 0 {
		return
	}
	cp := &model.CheckpointData{
		JobInstanceID:    run.je.JobInstanceID,
		StepName:         s.name,
		StepExecutionID:  run.se.ID,
		ExecutionContext: model.NewExecutionContext(),
		LastUpdated:      time.Now(),
	}
	if err := s.repo.SaveCheckpointData(ctx, cp); err != nil {
		logger.Warnf("ChunkStep '%s': failed to clear checkpoint: %v", s.name, err)
	}
}

func containsStream(streams []port.ItemStream, st port.ItemStream) bool {
	if !reflect.TypeOf(st).Comparable() {
		return false
	}
	for _, existing := range streams {
		if reflect.TypeOf(existing).Comparable() && any(existing) == any(st) {
			return true
		}
	}
	return false
}

// failStep turns a finished step into a failed one.
func failStep(se *model.StepExecution, err error) {
	se.Status = model.BatchStatusFailed
	se.ExitStatus = model.ExitStatusFailed
	se.AddFailure(err)
}
