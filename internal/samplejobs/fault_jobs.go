package samplejobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/tigerroll/chunkbatch/pkg/batch/component/item"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/fault"
	chunkstep "github.com/tigerroll/chunkbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/scope"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Failure kinds used by the fault-tolerance jobs.
const (
	KindIllegalArgument = "IllegalArgument"
	KindSQL             = "SQL"
)

var (
	// ErrIllegalArgument marks an item that cannot be handled.
	ErrIllegalArgument = errors.New("illegal argument")
	// ErrSQL marks a failure of the data store.
	ErrSQL = errors.New("sql failure")
)

func init() {
	exception.RegisterErrorType(KindIllegalArgument, ErrIllegalArgument)
	exception.RegisterErrorType(KindSQL, ErrSQL)
}

// sampleItemCount is the number of items the fault-tolerance jobs read.
const sampleItemCount = 20

func numbers(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i + 1)
	}
	return out
}

func skipPolicy() fault.Policy {
	return fault.Policy{
		SkipLimit:      2,
		SkippableKinds: []string{KindIllegalArgument},
		NoSkipKinds:    []string{KindSQL},
	}
}

// skipWriterPolicy tolerates data store failures as well, so a failed write
// is isolated and skipped.
func skipWriterPolicy() fault.Policy {
	return fault.Policy{
		SkipLimit:      2,
		SkippableKinds: []string{KindIllegalArgument, KindSQL},
	}
}

// failingReader reads a list and fails on the listed items instead of returning them.
type failingReader struct {
	*item.ListReader[string]
	fail map[string]error
}

func newFailingReader(name string, items []string, fail map[string]error) *failingReader {
	return &failingReader{ListReader: item.NewListReader(name, items), fail: fail}
}

func (r *failingReader) Read(ctx context.Context) (string, error) {
	s, err := r.ListReader.Read(ctx)
	if err != nil {
		return s, err
	}
	if ferr, ok := r.fail[s]; ok {
		return "", fmt.Errorf("read item %s: %w", s, ferr)
	}
	return s, nil
}

func logWriter(step string) port.ItemWriter[string] {
	return port.ItemWriterFunc[string](func(_ context.Context, items []string) error {
		logger.Infof("%s: wrote %v", step, items)
		return nil
	})
}

func (d Deps) faultJob(name, stepName string, chunkSize int, policy fault.Policy,
	reader scope.Provider[port.ItemReader[string]],
	processor scope.Provider[port.ItemProcessor[string, string]],
	writer scope.Provider[port.ItemWriter[string]],
) (*runner.FlowJob, error) {
	opts, err := d.chunkOptions(chunkstep.WithChunkSize(chunkSize), chunkstep.WithFaultPolicy(policy))
	if err != nil {
		return nil, err
	}
	step := chunkstep.NewScopedChunkStep(stepName, reader, processor, writer, d.Repository, d.TxManager, opts...)
	return d.newJob(name).Start(step).Build()
}

// NewSkipReaderJob reads 20 items of which two fail to read; both are skipped.
func NewSkipReaderJob(d Deps) (*runner.FlowJob, error) {
	reader := func(context.Context, *model.StepExecution) (port.ItemReader[string], error) {
		return newFailingReader("numbers", numbers(sampleItemCount), map[string]error{
			"3":  ErrIllegalArgument,
			"13": ErrIllegalArgument,
		}), nil
	}
	return d.faultJob("skipReaderJob", "skipReaderStep", 10, skipPolicy(),
		reader, nil, scope.Value[port.ItemWriter[string]](item.NoOpWriter[string]{Name: "skipReaderStep"}))
}

// NewSkipProcessorJob fails to process two items; both are skipped.
func NewSkipProcessorJob(d Deps) (*runner.FlowJob, error) {
	reader := func(context.Context, *model.StepExecution) (port.ItemReader[string], error) {
		return item.NewListReader("numbers", numbers(sampleItemCount)), nil
	}
	processor := port.ItemProcessorFunc[string, string](func(_ context.Context, s string) (string, error) {
		if s == "7" || s == "14" {
			return "", fmt.Errorf("process item %s: %w", s, ErrIllegalArgument)
		}
		return s, nil
	})
	return d.faultJob("skipProcessorJob", "skipProcessorStep", 10, skipPolicy(),
		reader, scope.Value[port.ItemProcessor[string, string]](processor), scope.Value(logWriter("skipProcessorStep")))
}

// NewSkipWriterJob fails to read item "2" and fails every write containing
// item "4". The failed chunk is rolled back and its items are written one at a
// time, so "2" and "4" are the only skips.
func NewSkipWriterJob(d Deps) (*runner.FlowJob, error) {
	reader := func(context.Context, *model.StepExecution) (port.ItemReader[string], error) {
		return newFailingReader("numbers", numbers(sampleItemCount), map[string]error{
			"2": ErrIllegalArgument,
		}), nil
	}
	writer := port.ItemWriterFunc[string](func(_ context.Context, items []string) error {
		for _, s := range items {
			if s == "4" {
				return fmt.Errorf("write item %s: %w", s, ErrSQL)
			}
		}
		logger.Infof("skipWriterStep: wrote %v", items)
		return nil
	})
	return d.faultJob("skipWriterJob", "skipWriterStep", 5, skipWriterPolicy(),
		reader, nil, scope.Value[port.ItemWriter[string]](writer))
}

// NewRetryJob fails to process item "4". Without a "failures" job parameter
// every attempt fails and the job fails once the two allowed retries are
// spent. With failures set, the item fails that many times and then succeeds,
// so values of 2 or less complete.
func NewRetryJob(d Deps) (*runner.FlowJob, error) {
	reader := func(context.Context, *model.StepExecution) (port.ItemReader[string], error) {
		return item.NewListReader("numbers", numbers(sampleItemCount)), nil
	}
	processor := func(_ context.Context, se *model.StepExecution) (port.ItemProcessor[string, string], error) {
		failures := int64(alwaysFail)
		if se.JobExecution != nil {
			if n, ok := se.JobExecution.Parameters.GetLong("failures"); ok {
				failures = n
			}
		}
		return newFlakyProcessor("4", failures), nil
	}
	policy := fault.Policy{RetryLimit: 2, RetryableKinds: []string{KindSQL}}
	return d.faultJob("retryJob", "retryStep", 5, policy,
		reader, processor, scope.Value(logWriter("retryStep")))
}

// alwaysFail makes a flakyProcessor fail on every attempt.
const alwaysFail = -1

// flakyProcessor fails on one item a fixed number of times, then succeeds.
type flakyProcessor struct {
	target string

	mu        sync.Mutex
	remaining int64
}

func newFlakyProcessor(target string, failures int64) *flakyProcessor {
	return &flakyProcessor{target: target, remaining: failures}
}

func (p *flakyProcessor) Process(_ context.Context, s string) (string, error) {
	if s != p.target {
		return s, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remaining != 0 {
		if p.remaining > 0 {
			p.remaining--
		}
		return "", fmt.Errorf("process item %s: %w", s, ErrSQL)
	}
	return s, nil
}
