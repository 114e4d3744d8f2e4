// Package async holds the completion primitives shared by the router, the
// streams and the frontend: a one-shot callback and a future that resolves
// exactly once.
package async

import (
	"context"
	"fmt"
	"sync"
)

// Callback receives the outcome of an asynchronous operation. Implementations
// are invoked at most once per operation, possibly from another goroutine or
// synchronously on the caller.
type Callback[T any] func(result T, err error)

// Future is a single-resolution result holder. The first Complete wins; later
// calls are ignored.
type Future[T any] struct {
	once   sync.Once
	done   chan struct{}
	result T
	err    error
}

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future that is already complete.
func Resolved[T any](result T, err error) *Future[T] {
	f := NewFuture[T]()
	f.Complete(result, err)
	return f
}

// Complete resolves the future. It reports whether this call performed the
// resolution.
func (f *Future[T]) Complete(result T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.result = result
		f.err = err
		resolved = true
		close(f.done)
	})
	return resolved
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx ends.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Poll returns the outcome without blocking; ok is false while unresolved.
func (f *Future[T]) Poll() (result T, err error, ok bool) {
	select {
	case <-f.done:
		return f.result, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// Settle resolves f and, when that call won the resolution, hands the same
// outcome to cb. A panicking callback is recovered and reported as the
// returned error so the goroutine that settles is never torn down by it.
func Settle[T any](f *Future[T], cb Callback[T], result T, err error) (cbErr error) {
	if !f.Complete(result, err) || cb == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			cbErr = fmt.Errorf("async: callback panic: %v", r)
		}
	}()
	cb(result, err)
	return nil
}
