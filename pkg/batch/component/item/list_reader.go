package item

import (
	"context"
	"sync"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ListReader reads the items of a slice in order.
type ListReader[T any] struct {
	name  string
	items []T

	mu  sync.Mutex
	pos int
}

var (
	_ port.ItemReader[any] = (*ListReader[any])(nil)
	_ port.ItemStream      = (*ListReader[any])(nil)
)

// NewListReader creates a ListReader over a copy of items.
func NewListReader[T any](name string, items []T) *ListReader[T] {
	return &ListReader[T]{name: name, items: append([]T(nil), items...)}
}

// Open restores the position saved in ec.
func (r *ListReader[T]) Open(_ context.Context, ec model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = min(restoredCount(ec, r.name), len(r.items))
	if r.pos > 0 {
		logger.Debugf("ListReader '%s': resuming at position %d of %d.", r.name, r.pos, len(r.items))
	}
	return nil
}

// Read returns the next item, or port.ErrNoMoreItems.
func (r *ListReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos >= len(r.items) {
		return zero, port.ErrNoMoreItems
	}
	item := r.items[r.pos]
	r.pos++
	return item, nil
}

// Update saves the current position.
func (r *ListReader[T]) Update(_ context.Context, ec model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ec.Put(readCountKey(r.name), r.pos)
	return nil
}

// Close implements port.ItemStream.
func (r *ListReader[T]) Close(context.Context) error { return nil }

// PassThroughProcessor returns every item unchanged.
type PassThroughProcessor[T any] struct{}

// Process returns item.
func (PassThroughProcessor[T]) Process(_ context.Context, item T) (T, error) { return item, nil }

// NoOpWriter discards items. It only logs how many it received.
type NoOpWriter[T any] struct {
	Name string
}

// Write discards items.
func (w NoOpWriter[T]) Write(_ context.Context, items []T) error {
	logger.Debugf("NoOpWriter '%s': discarded %d item(s).", w.Name, len(items))
	return nil
}
