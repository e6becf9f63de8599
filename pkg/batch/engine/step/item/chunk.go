// Package item implements chunk-oriented steps: items are read, processed and
// written in fixed-size groups, each group committed in its own transaction.
package item

import (
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/fault"
)

// SkipRecord describes one skipped item.
type SkipRecord struct {
	Phase fault.Phase
	// Item is nil for read skips.
	Item any
	Err  error
}

// Chunk is an ordered group of items committed together, with the skips and
// retries that happened while building it.
type Chunk[T any] struct {
	Items []T
	Skips []SkipRecord
	// EndOfSource is set when the reader reported the end of its data.
	EndOfSource bool
	// Retries counts the retries performed for this chunk.
	Retries int
	// Filtered counts items the processor dropped.
	Filtered int
	// Written counts items accepted by the writer.
	Written int

	complete bool
}

// NewChunk creates an empty chunk with room for size items.
func NewChunk[T any](size int) *Chunk[T] {
	if size < 0 {
		size = 0
	}
	return &Chunk[T]{Items: make([]T, 0, size)}
}

// Add appends item.
func (c *Chunk[T]) Add(item T) {
	c.Items = append(c.Items, item)
}

// Len returns the number of items.
func (c *Chunk[T]) Len() int {
	return len(c.Items)
}

// Skip records a skipped item.
func (c *Chunk[T]) Skip(phase fault.Phase, item any, err error) {
	c.Skips = append(c.Skips, SkipRecord{Phase: phase, Item: item, Err: err})
}

// SkipCount returns the number of skips recorded in phase.
func (c *Chunk[T]) SkipCount(phase fault.Phase) int {
	n := 0
	for _, s := range c.Skips {
		if s.Phase == phase {
			n++
		}
	}
	return n
}

// Consumed returns the number of reader positions this chunk used: items read plus read skips.
func (c *Chunk[T]) Consumed() int {
	return len(c.Items) + c.SkipCount(fault.PhaseRead)
}
