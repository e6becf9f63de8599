// Package exception provides the error types and error-kind registry used by the batch engine.
// Failure kinds referenced by fault-tolerance policies are resolved through this registry.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	errorRegistry = make(map[string]error)
	registryMutex sync.RWMutex
)

// RegisterErrorType registers a named failure kind.
// prototype is compared with errors.Is; for struct error types, a pointer to a
// zero value also enables errors.As-style matching by type.
//
// It panics if name is empty or prototype is nil.
func RegisterErrorType(name string, prototype error) {
	if name == "" {
		panic("exception: error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("exception: cannot register nil prototype for %q", name))
	}
	registryMutex.Lock()
	defer registryMutex.Unlock()
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name is a registered failure kind.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// RegisteredErrorTypes returns the names of all registered failure kinds.
func RegisteredErrorTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	names := make([]string, 0, len(errorRegistry))
	for name := range errorRegistry {
		names = append(names, name)
	}
	return names
}

// BatchError is the error type raised by engine components.
// It carries the module where the failure occurred, the wrapped cause,
// and hints about whether the failure may be retried or skipped.
type BatchError struct {
	// Module indicates where the error occurred (e.g. "reader", "processor", "writer", "config").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped cause.
	OriginalErr error

	retryable bool
	skippable bool
}

// NewBatchError creates a new BatchError.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		retryable:   isRetryable,
		skippable:   isSkippable,
	}
}

// NewBatchErrorf creates a non-skippable, non-retryable BatchError with a formatted message.
// If the last argument is an error it becomes the wrapped cause and is not used for formatting.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var cause error
	if n := len(a); n > 0 {
		if err, ok := a[n-1].(error); ok {
			cause = err
			a = a[:n-1]
		}
	}
	return NewBatchError(module, fmt.Sprintf(format, a...), cause, false, false)
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports whether the error was raised as retryable.
func (e *BatchError) IsRetryable() bool {
	return e.retryable
}

// IsSkippable reports whether the error was raised as skippable.
func (e *BatchError) IsSkippable() bool {
	return e.skippable
}

// AsBatchError returns the first BatchError in err's chain.
func AsBatchError(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsErrorOfType reports whether err belongs to the failure kind registered as name.
//
// Matching order: errors.Is against the registered prototype, then a type match
// of the prototype against every error in the chain, then the Go type name of
// every error in the chain (e.g. "*net.OpError").
func IsErrorOfType(err error, name string) bool {
	if err == nil || name == "" {
		return false
	}

	registryMutex.RLock()
	proto, registered := errorRegistry[name]
	registryMutex.RUnlock()

	if registered {
		if errors.Is(err, proto) {
			return true
		}
		if matchesPrototypeType(err, proto) {
			return true
		}
	}

	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		t := reflect.TypeOf(cur)
		if t.String() == name || (t.Kind() == reflect.Ptr && t.Elem().String() == name) {
			return true
		}
		if joined, ok := cur.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if IsErrorOfType(inner, name) {
					return true
				}
			}
			return false
		}
	}
	return false
}

// matchesPrototypeType reports whether some error in the chain has the same
// dynamic type as a struct-typed prototype. Sentinel values created with
// errors.New are excluded; they only match by identity.
func matchesPrototypeType(err error, proto error) bool {
	pt := reflect.TypeOf(proto)
	if pt.Kind() != reflect.Ptr || pt.Elem().Kind() != reflect.Struct || pt == reflect.TypeOf(errors.New("")) {
		return false
	}
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if reflect.TypeOf(cur) == pt {
			return true
		}
	}
	return false
}

// OptimisticLockingFailureException is the kind name of optimistic locking failures.
const OptimisticLockingFailureException = "OptimisticLockingFailureException"

// ErrOptimisticLockingFailure indicates a concurrent update of a versioned record.
var ErrOptimisticLockingFailure = errors.New(OptimisticLockingFailureException)

// NewOptimisticLockingFailureException wraps an optimistic locking failure. It is always fatal.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *BatchError {
	cause := ErrOptimisticLockingFailure
	if originalErr != nil {
		cause = errors.Join(ErrOptimisticLockingFailure, originalErr)
	}
	return NewBatchError(module, message, cause, false, false)
}

// IsOptimisticLockingFailure reports whether err is an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	return err != nil && errors.Is(err, ErrOptimisticLockingFailure)
}

// ExtractErrorMessage returns the Message of a BatchError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if be, ok := err.(*BatchError); ok {
		return be.Message
	}
	return err.Error()
}

func init() {
	RegisterErrorType(OptimisticLockingFailureException, ErrOptimisticLockingFailure)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
	RegisterErrorType("sql.ErrConnDone", sql.ErrConnDone)
	RegisterErrorType("sql.ErrTxDone", sql.ErrTxDone)
}
