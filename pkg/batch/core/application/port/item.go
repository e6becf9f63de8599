// Package port defines the core interfaces (ports) of the batch engine.
// Steps, jobs, item components and listeners are expressed here so the
// engine, the infrastructure and user code depend only on this package.
package port

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// ErrNoMoreItems is returned by ItemReader.Read at the end of the source.
// It is never treated as a failure.
var ErrNoMoreItems = errors.New("no more items to read")

// ErrFilterItem is returned by ItemProcessor.Process to drop an item from the chunk.
// Filtered items are counted but are not faults.
var ErrFilterItem = errors.New("item filtered")

// ItemReader provides items one at a time.
// T is the type of item to be read.
type ItemReader[T any] interface {
	// Read returns the next item.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//
	// Returns:
	//   T: The next item.
	//   error: ErrNoMoreItems at the end of the source, or another error if reading fails.
	Read(ctx context.Context) (T, error)
}

// ItemProcessor transforms an item.
// I is the type of input item, O is the type of output item.
type ItemProcessor[I, O any] interface {
	// Process transforms item.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   item: The input item.
	//
	// Returns:
	//   O: The transformed item.
	//   error: ErrFilterItem to drop the item, or another error if processing fails.
	Process(ctx context.Context, item I) (O, error)
}

// ItemWriter persists a list of items.
// T is the type of item to be written.
//
// Write is called inside the chunk transaction; the transaction is available
// through tx.FromContext(ctx). A failed call may be replayed, so writers must
// not keep state from a call that returned an error.
type ItemWriter[T any] interface {
	// Write persists items.
	//
	// Parameters:
	//   ctx: The context for the operation, carrying the chunk transaction.
	//   items: The items to be written, in chunk order.
	//
	// Returns:
	//   error: An error if writing fails.
	Write(ctx context.Context, items []T) error
}

// ItemStream is implemented by readers and writers that keep restartable state.
// Open receives the step's ExecutionContext as it was at the last commit;
// Update is called before each commit so the component can save its position.
type ItemStream interface {
	// Open opens resources and restores state from ec.
	Open(ctx context.Context, ec model.ExecutionContext) error
	// Update writes the current state into ec.
	Update(ctx context.Context, ec model.ExecutionContext) error
	// Close releases resources. It is called when the step ends, even if Open
	// failed or was never called.
	Close(ctx context.Context) error
}

// ItemReaderFunc adapts a function to ItemReader.
type ItemReaderFunc[T any] func(ctx context.Context) (T, error)

// Read calls f.
func (f ItemReaderFunc[T]) Read(ctx context.Context) (T, error) { return f(ctx) }

// ItemProcessorFunc adapts a function to ItemProcessor.
type ItemProcessorFunc[I, O any] func(ctx context.Context, item I) (O, error)

// Process calls f.
func (f ItemProcessorFunc[I, O]) Process(ctx context.Context, item I) (O, error) { return f(ctx, item) }

// ItemWriterFunc adapts a function to ItemWriter.
type ItemWriterFunc[T any] func(ctx context.Context, items []T) error

// Write calls f.
func (f ItemWriterFunc[T]) Write(ctx context.Context, items []T) error { return f(ctx, items) }
