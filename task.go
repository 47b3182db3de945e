package corort

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Task is a lazy, single-shot handle to a suspended computation producing
// a T or an error. A Task's body runs on its own goroutine, and
// "awaiting" a task means blocking the awaiter's goroutine on the task's
// completion channel; the Go scheduler parking and resuming goroutines
// across that block is what stands in for continuation-passing between
// coroutine frames.
//
// A Task is created already suspended: the goroutine is not started
// until Run is called (directly, or implicitly by the first Await,
// SyncWait, WhenAll, or IoScheduler.Spawn).
type Task[T any] struct {
	id uuid.UUID

	body func(ctx context.Context) (T, error)

	startOnce sync.Once
	done      chan struct{}
	doneFlag  atomic.Bool

	value T
	err   error
}

// NewTask wraps fn as a Task[T]. fn receives the context passed to Run
// (or to whichever caller first starts the task) and must return the
// task's result or error.
func NewTask[T any](fn func(ctx context.Context) (T, error)) *Task[T] {
	return &Task[T]{
		id:   uuid.New(),
		body: fn,
		done: make(chan struct{}),
	}
}

// ID returns a stable debug identifier for structured log fields.
func (t *Task[T]) ID() string { return t.id.String() }

// Done reports whether the task has reached final suspension (its body
// has returned or panicked).
func (t *Task[T]) Done() bool { return t.doneFlag.Load() }

// Run starts the task's goroutine if it has not already been started.
// Run does not block; use Await to wait for completion. Calling Run more
// than once is a no-op.
func (t *Task[T]) Run(ctx context.Context) {
	t.startOnce.Do(func() {
		go t.exec(ctx)
	})
}

func (t *Task[T]) exec(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			// A panic inside the task body is captured as the task's
			// error rather than crashing the process.
			t.err = fmt.Errorf("corort: task panicked: %v\n%s", r, debug.Stack())
		}
		// Storing the result happens-before closing done, which
		// happens-before any receive on done returns (Go's channel
		// close establishes that ordering), so every awaiter sees the
		// final value or error, never a partial one.
		t.doneFlag.Store(true)
		close(t.done)
	}()
	t.value, t.err = t.body(ctx)
}

// Await starts the task if necessary and blocks the calling goroutine
// until it completes, then returns its value or error. If ctx is
// cancelled before the task completes, Await returns ctx.Err() and does
// nothing further to the task: there is no structured cancellation of an
// in-flight task body, so the task keeps running and can still be
// Awaited later. When this Await is what started the task, the body was
// given the same ctx and sees its cancellation through it.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	t.Run(ctx)
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// awaitErr blocks until the task completes and returns only its error,
// discarding the value. It exists so a non-generic caller (IoScheduler,
// which cannot be generic over every Task[T] it spawns) can still wait
// for completion and learn whether the task failed.
func (t *Task[T]) awaitErr(ctx context.Context) error {
	_, err := t.Await(ctx)
	return err
}

// Result returns the task's stored value or error without blocking. It
// fails with ErrNotReady if the task has not yet produced a result.
func (t *Task[T]) Result() (T, error) {
	if !t.doneFlag.Load() {
		var zero T
		return zero, ErrNotReady
	}
	return t.value, t.err
}
