package item

import (
	"context"
	"errors"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/fault"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/retry"
)

// Provider builds input chunks from an ItemReader, applying the read side of
// the fault-tolerance policy.
type Provider[I any] struct {
	reader    port.ItemReader[I]
	chunkSize int
	policy    fault.Policy
	hooks     *Hooks
}

// NewProvider creates a Provider that collects up to chunkSize items per chunk.
func NewProvider[I any](reader port.ItemReader[I], chunkSize int, policy fault.Policy, hooks *Hooks) *Provider[I] {
	if chunkSize < 1 {
		chunkSize = 1
	}
	return &Provider[I]{reader: reader, chunkSize: chunkSize, policy: policy, hooks: hooks}
}

// Provide reads the next chunk. The returned chunk is never nil; on error it
// holds what was collected before the failure.
func (p *Provider[I]) Provide(ctx context.Context, counters *fault.Counters) (*Chunk[I], error) {
	c := NewChunk[I](p.chunkSize)
	return c, p.Fill(ctx, counters, c)
}

// Fill reads into c until it holds chunkSize items or the source is exhausted.
// Read failures are retried, skipped or returned as a *fault.NonSkippableError.
// A failure caused by ctx ending is returned as is.
func (p *Provider[I]) Fill(ctx context.Context, counters *fault.Counters, c *Chunk[I]) error {
	attempts := 0
	for !c.complete {
		if len(c.Items) >= p.chunkSize || c.EndOfSource {
			c.complete = true
			break
		}
		item, eos, err := p.nextItem(ctx)
		switch {
		case err == nil && eos:
			c.EndOfSource = true
		case err == nil:
			c.Add(item)
			attempts = 0
		case ctx.Err() != nil:
			return err
		default:
			switch p.policy.Classify(err, attempts, counters) {
			case fault.Retryable:
				attempts++
				counters.RecordRetry()
				c.Retries++
				p.hooks.retry(ctx, fault.PhaseRead, p.policy.Kind(err), attempts, nil, nil, err)
				if werr := retry.Wait(ctx, p.policy.Backoff, attempts); werr != nil {
					return werr
				}
			case fault.Skippable:
				attempts = 0
				counters.RecordSkip()
				c.Skip(fault.PhaseRead, nil, err)
				p.hooks.skipped(ctx, fault.PhaseRead, counters.Skips, p.policy.SkipLimit, err)
			default:
				return fault.NewNonSkippableError(fault.PhaseRead, err, p.policy, attempts, counters)
			}
		}
	}
	return nil
}

// nextItem calls the reader exactly once.
func (p *Provider[I]) nextItem(ctx context.Context) (item I, eos bool, err error) {
	item, err = p.reader.Read(ctx)
	if errors.Is(err, port.ErrNoMoreItems) {
		var zero I
		return zero, true, nil
	}
	return item, false, err
}
