package item

import (
	"context"
	"errors"
	"fmt"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/fault"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const chunkSavepoint = "chunk_write"

// Processor transforms an input chunk and writes the result, applying the
// process and write sides of the fault-tolerance policy.
type Processor[I, O any] struct {
	processor port.ItemProcessor[I, O]
	writer    port.ItemWriter[O]
	policy    fault.Policy
	hooks     *Hooks
}

// NewProcessor creates a Processor. A nil processor passes items through
// unchanged, which requires I to be convertible to O.
func NewProcessor[I, O any](processor port.ItemProcessor[I, O], writer port.ItemWriter[O], policy fault.Policy, hooks *Hooks) *Processor[I, O] {
	return &Processor[I, O]{processor: processor, writer: writer, policy: policy, hooks: hooks}
}

func (p *Processor[I, O]) transform(ctx context.Context, item I) (O, error) {
	if p.processor != nil {
		return p.processor.Process(ctx, item)
	}
	out, ok := any(item).(O)
	if !ok {
		var zero O
		return zero, exception.NewBatchErrorf("processor", "no processor configured and %T is not assignable to %T", item, zero)
	}
	return out, nil
}

// Process runs every input item through the ItemProcessor. Failed items are
// retried alone or skipped; a fatal failure aborts the chunk.
func (p *Processor[I, O]) Process(ctx context.Context, counters *fault.Counters, inputs *Chunk[I]) (*Chunk[O], error) {
	out := NewChunk[O](inputs.Len())
	out.EndOfSource = inputs.EndOfSource

	for _, item := range inputs.Items {
		attempts := 0
		for {
			result, err := p.transform(ctx, item)
			if err == nil {
				out.Add(result)
				break
			}
			if errors.Is(err, port.ErrFilterItem) {
				out.Filtered++
				break
			}
			if ctx.Err() != nil {
				return out, err
			}
			cls := p.policy.Classify(err, attempts, counters)
			if cls == fault.Retryable {
				attempts++
				counters.RecordRetry()
				out.Retries++
				p.hooks.retry(ctx, fault.PhaseProcess, p.policy.Kind(err), attempts, item, nil, err)
				if werr := retry.Wait(ctx, p.policy.Backoff, attempts); werr != nil {
					return out, werr
				}
				continue
			}
			if cls == fault.Skippable {
				counters.RecordSkip()
				out.Skip(fault.PhaseProcess, item, err)
				p.hooks.skipped(ctx, fault.PhaseProcess, counters.Skips, p.policy.SkipLimit, err)
				break
			}
			return out, fault.NewNonSkippableError(fault.PhaseProcess, err, p.policy, attempts, counters)
		}
	}
	return out, nil
}

// Write hands all items of outputs to the ItemWriter in one call.
//
// A retryable failure replays the whole chunk after rolling back to a
// savepoint. When retries are exhausted, or the failure is only skippable,
// items are written one at a time and only the failing ones are skipped.
// The transaction is taken from ctx; without one, savepoints are not used.
func (p *Processor[I, O]) Write(ctx context.Context, counters *fault.Counters, outputs *Chunk[O]) error {
	if len(outputs.Items) == 0 || p.writer == nil {
		return nil
	}
	t, _ := tx.FromContext(ctx)
	if err := savepoint(t, chunkSavepoint); err != nil {
		return exception.NewBatchError("writer", "failed to create savepoint", err, false, false)
	}

	attempts := 0
	for {
		err := p.writer.Write(ctx, outputs.Items)
		if err == nil {
			outputs.Written = len(outputs.Items)
			return nil
		}
		if rerr := rollbackTo(t, chunkSavepoint); rerr != nil {
			return exception.NewBatchError("writer", "failed to roll back to savepoint", rerr, false, false)
		}
		if ctx.Err() != nil {
			return err
		}
		switch p.policy.Classify(err, attempts, counters) {
		case fault.Retryable:
			attempts++
			counters.RecordRetry()
			outputs.Retries++
			p.hooks.retry(ctx, fault.PhaseWrite, p.policy.Kind(err), attempts, nil, toAnySlice(outputs.Items), err)
			if werr := retry.Wait(ctx, p.policy.Backoff, attempts); werr != nil {
				return werr
			}
		case fault.Skippable:
			return p.scan(ctx, t, counters, outputs, err)
		default:
			return fault.NewNonSkippableError(fault.PhaseWrite, err, p.policy, attempts, counters)
		}
	}
}

// scan writes the items of outputs one by one, each behind its own savepoint,
// and skips the items whose write fails. Items are not retried in scan mode.
func (p *Processor[I, O]) scan(ctx context.Context, t tx.Tx, counters *fault.Counters, outputs *Chunk[O], cause error) error {
	stepName := ""
	if p.hooks != nil {
		stepName = p.hooks.StepName
	}
	logger.Infof("Step '%s': chunk write failed, writing %d item(s) one at a time: %v", stepName, len(outputs.Items), cause)

	kept := make([]O, 0, len(outputs.Items))
	for i, item := range outputs.Items {
		name := fmt.Sprintf("chunk_scan_%d", i)
		if err := savepoint(t, name); err != nil {
			return exception.NewBatchError("writer", "failed to create savepoint", err, false, false)
		}
		err := p.writer.Write(ctx, []O{item})
		if err == nil {
			kept = append(kept, item)
			continue
		}
		if rerr := rollbackTo(t, name); rerr != nil {
			return exception.NewBatchError("writer", "failed to roll back to savepoint", rerr, false, false)
		}
		if ctx.Err() != nil {
			return err
		}
		if p.policy.Classify(err, p.policy.RetryLimit, counters) != fault.Skippable {
			return fault.NewNonSkippableError(fault.PhaseWrite, err, p.policy, p.policy.RetryLimit, counters)
		}
		counters.RecordSkip()
		outputs.Skip(fault.PhaseWrite, item, err)
		p.hooks.skipped(ctx, fault.PhaseWrite, counters.Skips, p.policy.SkipLimit, err)
	}
	outputs.Items = kept
	outputs.Written = len(kept)
	return nil
}

func savepoint(t tx.Tx, name string) error {
	if t == nil {
		return nil
	}
	return t.Savepoint(name)
}

func rollbackTo(t tx.Tx, name string) error {
	if t == nil {
		return nil
	}
	return t.RollbackToSavepoint(name)
}
