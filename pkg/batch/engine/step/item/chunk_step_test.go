package item_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/fault"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

var (
	errBadRecord = errors.New("bad record")
	errPoison    = errors.New("poison record")
	errTransient = errors.New("transient failure")
)

func init() {
	exception.RegisterErrorType("item_test.BadRecord", errBadRecord)
	exception.RegisterErrorType("item_test.Poison", errPoison)
	exception.RegisterErrorType("item_test.Transient", errTransient)
}

// listReader returns 1..n. A read at a position listed in fail consumes that
// position and returns the mapped error.
type listReader struct {
	n    int
	pos  int
	fail map[int]error
}

func (r *listReader) Read(ctx context.Context) (int, error) {
	if r.pos >= r.n {
		return 0, port.ErrNoMoreItems
	}
	r.pos++
	if err, ok := r.fail[r.pos]; ok {
		return 0, fmt.Errorf("position %d: %w", r.pos, err)
	}
	return r.pos, nil
}

// streamReader is a listReader that saves its own position.
type streamReader struct {
	listReader
	opened, closed bool
}

const streamReaderKey = "list.reader.pos"

func (r *streamReader) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.opened = true
	if pos, ok := ec.GetInt(streamReaderKey); ok {
		r.pos = pos
	}
	return nil
}

func (r *streamReader) Update(ctx context.Context, ec model.ExecutionContext) error {
	ec.Put(streamReaderKey, r.pos)
	return nil
}

func (r *streamReader) Close(ctx context.Context) error {
	r.closed = true
	return nil
}

// recordingWriter records every accepted call. fail decides whether a call fails.
type recordingWriter struct {
	mu       sync.Mutex
	calls    int
	accepted [][]int
	fail     func(call int, items []int) error
}

func (w *recordingWriter) Write(ctx context.Context, items []int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.fail != nil {
		if err := w.fail(w.calls, items); err != nil {
			return err
		}
	}
	w.accepted = append(w.accepted, append([]int(nil), items...))
	return nil
}

func (w *recordingWriter) items() []int {
	var out []int
	for _, c := range w.accepted {
		out = append(out, c...)
	}
	return out
}

func (w *recordingWriter) sizes() []int {
	out := make([]int, 0, len(w.accepted))
	for _, c := range w.accepted {
		out = append(out, len(c))
	}
	return out
}

type fixture struct {
	repo *inmemory.JobRepository
	txm  *tx.ResourcelessTransactionManager
	ji   *model.JobInstance
	je   *model.JobExecution
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := inmemory.NewJobRepository()
	params := model.NewJobParametersBuilder().AddString("input", "numbers").ToJobParameters()
	ji := model.NewJobInstance("numbersJob", params)
	require.NoError(t, repo.SaveJobInstance(ctx, ji))
	f := &fixture{repo: repo, txm: tx.NewResourcelessTransactionManager(), ji: ji}
	f.newRun(t)
	return f
}

// newRun starts a new JobExecution of the fixture's instance.
func (f *fixture) newRun(t *testing.T) {
	t.Helper()
	f.je = model.NewJobExecution(f.ji, f.ji.Parameters)
	require.NoError(t, f.repo.SaveJobExecution(context.Background(), f.je))
}

func (f *fixture) newStepExecution(t *testing.T, name string) *model.StepExecution {
	t.Helper()
	se := model.NewStepExecution(name, f.je)
	require.NoError(t, f.repo.SaveStepExecution(context.Background(), se))
	return se
}

func (f *fixture) commits() int64 {
	_, committed, _ := f.txm.Stats()
	return committed
}

func (f *fixture) run(t *testing.T, reader port.ItemReader[int], writer port.ItemWriter[int], opts ...item.Option) (*model.StepExecution, error) {
	t.Helper()
	step := item.NewChunkStep[int, int]("numbers", reader, nil, writer, f.repo, f.txm, opts...)
	se := f.newStepExecution(t, step.StepName())
	err := step.Execute(context.Background(), f.je, se)
	return se, err
}

func TestChunkStep_CommitsEveryChunk(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{}

	se, err := f.run(t, &listReader{n: 9}, w, item.WithChunkSize(2))

	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, model.ExitStatusCompleted, se.ExitStatus)
	assert.Equal(t, []int{2, 2, 2, 2, 1}, w.sizes())
	assert.Equal(t, 5, se.CommitCount)
	assert.EqualValues(t, 5, f.commits())
	assert.Equal(t, 9, se.ReadCount)
	assert.Equal(t, 9, se.WriteCount)
	assert.Equal(t, 0, se.RollbackCount)

	stored, err := f.repo.FindStepExecutionByID(context.Background(), se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.Equal(t, 9, stored.WriteCount)
}

func TestChunkStep_CommitCountMatchesChunking(t *testing.T) {
	for n := 1; n <= 7; n++ {
		for l := 0; l <= 23; l++ {
			t.Run(fmt.Sprintf("N=%d/L=%d", n, l), func(t *testing.T) {
				f := newFixture(t)
				w := &recordingWriter{}

				se, err := f.run(t, &listReader{n: l}, w, item.WithChunkSize(n))

				require.NoError(t, err)
				want := (l + n - 1) / n
				assert.Equal(t, want, se.CommitCount)
				assert.EqualValues(t, want, f.commits())
				assert.Equal(t, l, len(w.items()))
				assert.Equal(t, model.BatchStatusCompleted, se.Status)
			})
		}
	}
}

func TestChunkStep_CommitCountIgnoresSkippedPositions(t *testing.T) {
	policy := fault.Policy{SkipLimit: 100, SkippableKinds: []string{"item_test.BadRecord"}}
	for n := 1; n <= 5; n++ {
		for l := 0; l <= 17; l++ {
			t.Run(fmt.Sprintf("N=%d/L=%d", n, l), func(t *testing.T) {
				f := newFixture(t)
				w := &recordingWriter{}
				fail := map[int]error{}
				for pos := 3; pos <= l; pos += 3 {
					fail[pos] = errBadRecord
				}

				se, err := f.run(t, &listReader{n: l, fail: fail}, w, item.WithChunkSize(n), item.WithFaultPolicy(policy))

				require.NoError(t, err)
				read := l - len(fail)
				want := (read + n - 1) / n
				assert.Equal(t, want, se.CommitCount)
				assert.EqualValues(t, want, f.commits())
				assert.Equal(t, read, len(w.items()))
				assert.Equal(t, len(fail), se.ReadSkipCount)
				assert.Equal(t, model.BatchStatusCompleted, se.Status)

				stored, err := f.repo.FindStepExecutionByID(context.Background(), se.ID)
				require.NoError(t, err)
				assert.Equal(t, len(fail), stored.ReadSkipCount)
			})
		}
	}
}

func TestChunkStep_SkipsUnreadableItems(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{}
	policy := fault.Policy{SkipLimit: 2, SkippableKinds: []string{"item_test.BadRecord"}}
	reader := &listReader{n: 10, fail: map[int]error{2: errBadRecord, 5: errBadRecord}}

	se, err := f.run(t, reader, w, item.WithChunkSize(5), item.WithFaultPolicy(policy))

	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	if diff := cmp.Diff([]int{1, 3, 4, 6, 7, 8, 9, 10}, w.items()); diff != "" {
		t.Errorf("written items mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, se.ReadSkipCount)
	assert.Equal(t, 8, se.ReadCount)
	assert.Equal(t, 2, se.CommitCount)
}

func TestChunkStep_NeverSkipFailsWithoutWriting(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{}
	policy := fault.Policy{
		SkipLimit:      1,
		SkippableKinds: []string{"item_test.BadRecord", "item_test.Poison"},
		NoSkipKinds:    []string{"item_test.Poison"},
	}
	reader := &listReader{n: 4, fail: map[int]error{2: errPoison}}

	se, err := f.run(t, reader, w, item.WithChunkSize(5), item.WithFaultPolicy(policy))

	require.Error(t, err)
	assert.True(t, fault.IsNonSkippable(err))
	assert.ErrorIs(t, err, errPoison)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, 0, w.calls)
	assert.Equal(t, 0, se.CommitCount)
	assert.Equal(t, 1, se.RollbackCount)
	assert.NotEmpty(t, se.Failures)
}

func TestChunkStep_SkipLimitEscalates(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{}
	policy := fault.Policy{SkipLimit: 2, SkippableKinds: []string{"item_test.BadRecord"}}
	reader := &listReader{n: 6, fail: map[int]error{2: errBadRecord, 3: errBadRecord, 4: errBadRecord}}

	se, err := f.run(t, reader, w, item.WithChunkSize(3), item.WithFaultPolicy(policy))

	require.Error(t, err)
	var nse *fault.NonSkippableError
	require.ErrorAs(t, err, &nse)
	assert.Equal(t, fault.ReasonSkipLimitExceeded, nse.Reason)
	assert.Equal(t, fault.PhaseRead, nse.Phase)
	assert.Equal(t, 0, w.calls)
	assert.Equal(t, 0, se.ReadSkipCount, "skips of the rolled back chunk are not kept")
	assert.LessOrEqual(t, se.SkipCount(), policy.SkipLimit)
}

func TestChunkStep_WriteFailureIsolatesBadItems(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{fail: func(_ int, items []int) error {
		for _, v := range items {
			if v == 3 {
				return errBadRecord
			}
		}
		return nil
	}}
	policy := fault.Policy{SkipLimit: 5, SkippableKinds: []string{"item_test.BadRecord"}}

	se, err := f.run(t, &listReader{n: 5}, w, item.WithChunkSize(5), item.WithFaultPolicy(policy))

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4, 5}, w.items())
	assert.Equal(t, []int{1, 1, 1, 1}, w.sizes())
	assert.Equal(t, 1, se.WriteSkipCount)
	assert.Equal(t, 4, se.WriteCount)
	assert.Equal(t, 1, se.CommitCount)
}

func TestChunkStep_RetriesWholeChunkWrite(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{fail: func(call int, _ []int) error {
		if call <= 2 {
			return errTransient
		}
		return nil
	}}
	retries := &retryCounter{}
	policy := fault.Policy{RetryLimit: 3, RetryableKinds: []string{"item_test.Transient"}}

	se, err := f.run(t, &listReader{n: 4}, w,
		item.WithChunkSize(4), item.WithFaultPolicy(policy), item.WithListeners(retries))

	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2, 3, 4}}, w.accepted)
	assert.Equal(t, 2, se.RetryCount)
	assert.Equal(t, 2, retries.writes)
	assert.Equal(t, 1, se.CommitCount)
}

func TestChunkStep_ExhaustedRetryFallsBackToSkip(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{fail: func(_ int, items []int) error {
		for _, v := range items {
			if v == 2 {
				return errTransient
			}
		}
		return nil
	}}
	policy := fault.Policy{
		RetryLimit:     2,
		RetryableKinds: []string{"item_test.Transient"},
		SkipLimit:      1,
		SkippableKinds: []string{"item_test.Transient"},
	}

	se, err := f.run(t, &listReader{n: 3}, w, item.WithChunkSize(3), item.WithFaultPolicy(policy))

	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, w.items())
	assert.Equal(t, 2, se.RetryCount)
	assert.Equal(t, 1, se.WriteSkipCount)
	assert.Equal(t, 6, w.calls, "3 chunk writes, then 3 single-item writes")
}

func TestChunkStep_ProcessorFiltersAndSkips(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{}
	processor := port.ItemProcessorFunc[int, int](func(ctx context.Context, v int) (int, error) {
		switch {
		case v == 5:
			return 0, errBadRecord
		case v%2 == 0:
			return 0, port.ErrFilterItem
		default:
			return v * 10, nil
		}
	})
	policy := fault.Policy{SkipLimit: 1, SkippableKinds: []string{"item_test.BadRecord"}}
	skips := &skipRecorder{}

	step := item.NewChunkStep[int, int]("numbers", &listReader{n: 7}, processor, w, f.repo, f.txm,
		item.WithChunkSize(3), item.WithFaultPolicy(policy), item.WithListeners(skips))
	se := f.newStepExecution(t, "numbers")
	require.NoError(t, step.Execute(context.Background(), f.je, se))

	assert.Equal(t, []int{10, 30, 70}, w.items())
	assert.Equal(t, 3, se.FilterCount)
	assert.Equal(t, 1, se.ProcessSkipCount)
	assert.Equal(t, 7, se.ReadCount)
	assert.Equal(t, []any{5}, skips.processed)
}

func TestChunkStep_StopsAtChunkBoundary(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{}
	chunkStopper := &stopAfterChunk{je: f.je}

	se, err := f.run(t, &listReader{n: 10}, w, item.WithChunkSize(3), item.WithListeners(chunkStopper))

	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, model.ExitStatusStopped, se.ExitStatus)
	assert.Equal(t, [][]int{{1, 2, 3}}, w.accepted)
	assert.Equal(t, 1, se.CommitCount)
}

func TestChunkStep_RestartResumesAfterLastCommit(t *testing.T) {
	f := newFixture(t)
	failing := &recordingWriter{fail: func(_ int, items []int) error {
		for _, v := range items {
			if v == 5 {
				return errPoison
			}
		}
		return nil
	}}

	first, err := f.run(t, &listReader{n: 8}, failing, item.WithChunkSize(2))
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, first.Status)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}}, failing.accepted)
	assert.Equal(t, 2, first.CommitCount)
	assert.Equal(t, 1, first.RollbackCount)

	cp, err := f.repo.FindCheckpointData(context.Background(), f.ji.ID, "numbers")
	require.NoError(t, err)
	pos, _ := cp.ExecutionContext.GetInt(item.KeyReadPosition)
	assert.Equal(t, 4, pos)

	f.newRun(t)
	w := &recordingWriter{}
	second, err := f.run(t, &listReader{n: 8}, w, item.WithChunkSize(2))

	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.Equal(t, [][]int{{5, 6}, {7, 8}}, w.accepted)
	assert.Equal(t, 8, second.ReadCount)
	assert.Equal(t, 8, second.WriteCount)
	assert.Equal(t, 4, second.CommitCount)

	cp, err = f.repo.FindCheckpointData(context.Background(), f.ji.ID, "numbers")
	require.NoError(t, err)
	_, ok := cp.ExecutionContext.Get(item.KeyReadPosition)
	assert.False(t, ok, "a completed step leaves no position behind")
}

func TestChunkStep_RestartRestoresItemStream(t *testing.T) {
	f := newFixture(t)
	failing := &recordingWriter{fail: func(_ int, items []int) error {
		if items[0] == 4 {
			return errPoison
		}
		return nil
	}}
	first, err := f.run(t, &streamReader{listReader: listReader{n: 6}}, failing, item.WithChunkSize(3))
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, first.Status)

	f.newRun(t)
	restarted := first.CopyForRestart(f.je)
	require.NoError(t, f.repo.SaveStepExecution(context.Background(), restarted))

	reader := &streamReader{listReader: listReader{n: 6}}
	w := &recordingWriter{}
	step := item.NewChunkStep[int, int]("numbers", reader, nil, w, f.repo, f.txm, item.WithChunkSize(3))
	require.NoError(t, step.Execute(context.Background(), f.je, restarted))

	assert.True(t, reader.opened)
	assert.True(t, reader.closed)
	assert.Equal(t, [][]int{{4, 5, 6}}, w.accepted)
	assert.Equal(t, 6, restarted.ReadCount)
}

func TestChunkStep_ChunkTimeoutIsRetried(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{fail: func(call int, _ []int) error {
		if call == 1 {
			time.Sleep(80 * time.Millisecond)
			return context.DeadlineExceeded
		}
		return nil
	}}
	policy := fault.Policy{RetryLimit: 1, RetryableKinds: []string{"context.DeadlineExceeded"}}

	se, err := f.run(t, &listReader{n: 3}, w,
		item.WithChunkSize(3), item.WithChunkTimeout(30*time.Millisecond), item.WithFaultPolicy(policy))

	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2, 3}}, w.accepted)
	assert.Equal(t, 1, se.RollbackCount)
	assert.Equal(t, 1, se.RetryCount)
	assert.Equal(t, 1, se.CommitCount)
	assert.Equal(t, 3, se.ReadCount)
}

func TestChunkStep_ChunkTimeoutWithoutRetryFails(t *testing.T) {
	f := newFixture(t)
	w := &recordingWriter{fail: func(int, []int) error {
		time.Sleep(60 * time.Millisecond)
		return nil
	}}

	se, err := f.run(t, &listReader{n: 3}, w, item.WithChunkSize(3), item.WithChunkTimeout(20*time.Millisecond))

	require.Error(t, err)
	var nse *fault.NonSkippableError
	require.ErrorAs(t, err, &nse)
	assert.Equal(t, fault.PhaseChunk, nse.Phase)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, 0, se.CommitCount)
}

func TestChunkStep_ListenerOrder(t *testing.T) {
	f := newFixture(t)
	events := &eventLog{}
	w := &listeningWriter{recordingWriter: &recordingWriter{}, events: events}

	se, err := f.run(t, &listReader{n: 3}, w, item.WithChunkSize(2), item.WithListeners(&chunkEvents{events: events}))

	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, []string{
		"beforeStep", "writer.beforeStep",
		"beforeChunk", "write", "afterChunk",
		"beforeChunk", "write", "afterChunk",
		"afterStep",
	}, events.list)
}

func TestChunkStep_AfterStepErrorFailsStep(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("report upload failed")
	after := listener.StepListenerFuncs{After: func(context.Context, *model.StepExecution) error { return boom }}

	se, err := f.run(t, &listReader{n: 2}, &recordingWriter{}, item.WithListeners(after))

	require.ErrorIs(t, err, boom)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, model.ExitStatusFailed, se.ExitStatus)
	assert.Equal(t, 1, se.CommitCount)
}

func TestChunkStep_EmptySource(t *testing.T) {
	f := newFixture(t)
	events := &eventLog{}

	se, err := f.run(t, &listReader{}, &recordingWriter{}, item.WithListeners(&chunkEvents{events: events}))

	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 0, se.CommitCount)
	assert.Equal(t, 0, se.RollbackCount)
	assert.Equal(t, []string{"beforeStep", "afterStep"}, events.list)
	_, err = f.repo.FindCheckpointData(context.Background(), f.ji.ID, "numbers")
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)
}

type retryCounter struct {
	listener.Base
	writes int
}

func (r *retryCounter) OnRetryWrite(context.Context, []any, error) { r.writes++ }

type skipRecorder struct {
	listener.Base
	processed []any
}

func (s *skipRecorder) OnSkipInProcess(_ context.Context, item any, _ error) {
	s.processed = append(s.processed, item)
}

type stopAfterChunk struct {
	listener.Base
	je *model.JobExecution
}

func (s *stopAfterChunk) AfterChunk(context.Context, *model.StepExecution) error {
	s.je.RequestStop()
	return nil
}

type eventLog struct{ list []string }

func (e *eventLog) add(ev string) { e.list = append(e.list, ev) }

type chunkEvents struct {
	listener.Base
	events *eventLog
}

func (c *chunkEvents) BeforeStep(context.Context, *model.StepExecution) error {
	c.events.add("beforeStep")
	return nil
}

func (c *chunkEvents) AfterStep(context.Context, *model.StepExecution) error {
	c.events.add("afterStep")
	return nil
}

func (c *chunkEvents) BeforeChunk(context.Context, *model.StepExecution) error {
	c.events.add("beforeChunk")
	return nil
}

func (c *chunkEvents) AfterChunk(context.Context, *model.StepExecution) error {
	c.events.add("afterChunk")
	return nil
}

// listeningWriter is a writer that also listens to its step. The step
// registers it without an explicit WithListeners.
type listeningWriter struct {
	*recordingWriter
	events *eventLog
}

func (w *listeningWriter) BeforeStep(context.Context, *model.StepExecution) error {
	w.events.add("writer.beforeStep")
	return nil
}

func (w *listeningWriter) AfterStep(context.Context, *model.StepExecution) error {
	return nil
}

func (w *listeningWriter) Write(ctx context.Context, items []int) error {
	w.events.add("write")
	return w.recordingWriter.Write(ctx, items)
}
