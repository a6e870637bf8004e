// Package async runs blocking calls in the background and hands their results
// back through continuations, optionally marshalled onto a caller-owned thread.
package async

import (
	"context"
	"sync"
)

// Dispatcher runs fn on the caller's UI thread. A nil Dispatcher runs fn on
// the goroutine that completed the work.
type Dispatcher func(fn func())

// Future is the eventual result of a background call.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error

	mu        sync.Mutex
	callbacks []func(T, error)
}

// Go starts fn on a new goroutine and returns its Future.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		v, err := fn(ctx)
		f.complete(v, err)
	}()
	return f
}

// Resolved returns an already-completed Future.
func Resolved[T any](v T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	f.complete(v, err)
	return f
}

func (f *Future[T]) complete(v T, err error) {
	f.mu.Lock()
	f.value, f.err = v, err
	close(f.done)
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers cb to run once with the result. If the Future has
// already completed cb runs immediately on the calling goroutine.
func (f *Future[T]) OnComplete(cb func(T, error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		cb(f.value, f.err)
		return
	default:
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}

// Then routes the result to onSuccess or onFailure through dispatch.
// Either callback may be nil.
func (f *Future[T]) Then(dispatch Dispatcher, onSuccess func(T), onFailure func(error)) {
	f.OnComplete(func(v T, err error) {
		run := func() {
			if err != nil {
				if onFailure != nil {
					onFailure(err)
				}
				return
			}
			if onSuccess != nil {
				onSuccess(v)
			}
		}
		if dispatch != nil {
			dispatch(run)
			return
		}
		run()
	})
}
