// Package edit implements optimistic inline editing of issue fields. A Field
// mutates the local model first, writes the change to the tracker in the
// background, and restores the previous value if the write fails.
package edit

import (
	"context"
	"errors"
	"sync"

	"github.com/joescharf/sprintpilot/internal/async"
)

// State is where a Field is in its edit cycle.
type State int

const (
	Display State = iota
	Editing
	Committing
)

func (s State) String() string {
	switch s {
	case Display:
		return "display"
	case Editing:
		return "editing"
	case Committing:
		return "committing"
	}
	return "unknown"
}

// ErrBusy is returned when a commit is attempted while a previous one for the
// same field is still in flight.
var ErrBusy = errors.New("edit: commit already in progress")

// Notifier reports a failed write to the user.
type Notifier func(field string, err error)

// Options configures how a Field delivers results.
type Options struct {
	// Dispatch runs render and notify callbacks on the caller's UI thread.
	Dispatch async.Dispatcher

	// Render redraws the field after the local model changed.
	Render func(field string)

	Notify Notifier
}

// Field is the edit controller for one value of a model. Get and Set read and
// write the local model; Remote writes the value to the tracker.
type Field[T any] struct {
	Name   string
	Get    func() T
	Set    func(T)
	Remote func(ctx context.Context, v T) error

	opts Options

	mu       sync.Mutex
	state    State
	rollback T
}

// NewField returns a Field in the Display state.
func NewField[T any](name string, get func() T, set func(T), remote func(context.Context, T) error, opts Options) *Field[T] {
	return &Field[T]{Name: name, Get: get, Set: set, Remote: remote, opts: opts}
}

// State returns the current state.
func (f *Field[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Begin enters Editing and captures the current value as the rollback point.
// It is a no-op while a commit is in flight.
func (f *Field[T]) Begin() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Committing {
		return f.Get()
	}
	f.rollback = f.Get()
	f.state = Editing
	return f.rollback
}

// Cancel leaves Editing without touching the model or the tracker.
func (f *Field[T]) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Editing {
		f.state = Display
	}
}

// Commit applies v locally, renders it, and starts the remote write. On
// failure the rollback value is restored and the notifier called. The
// returned Future completes after the model has settled.
//
// Commit without a preceding Begin uses the current value as rollback point.
func (f *Field[T]) Commit(ctx context.Context, v T) *async.Future[struct{}] {
	f.mu.Lock()
	if f.state == Committing {
		f.mu.Unlock()
		return async.Resolved(struct{}{}, ErrBusy)
	}
	if f.state == Display {
		f.rollback = f.Get()
	}
	prev := f.rollback
	f.state = Committing
	f.Set(v)
	f.mu.Unlock()

	f.render()

	return async.Go(ctx, func(ctx context.Context) (struct{}, error) {
		err := f.Remote(ctx, v)

		f.mu.Lock()
		if err != nil {
			f.Set(prev)
		}
		f.state = Display
		f.mu.Unlock()

		if err != nil {
			f.deliver(func() {
				if f.opts.Render != nil {
					f.opts.Render(f.Name)
				}
				if f.opts.Notify != nil {
					f.opts.Notify(f.Name, err)
				}
			})
		}
		return struct{}{}, err
	})
}

func (f *Field[T]) render() {
	if f.opts.Render == nil {
		return
	}
	f.deliver(func() { f.opts.Render(f.Name) })
}

func (f *Field[T]) deliver(fn func()) {
	if f.opts.Dispatch != nil {
		f.opts.Dispatch(fn)
		return
	}
	fn()
}
