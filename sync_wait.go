package corort

import "context"

// SyncWait runs t to completion on its own goroutine and blocks the
// calling goroutine until it finishes, returning t's result or its
// error. There is no separate condition-variable park/notify dance to
// write by hand, because Task's completion channel already is that
// synchronization primitive — SyncWait is Await with the terminal-waiter
// role folded in.
//
// The store of t's result happens-before the close of Task.done, which
// happens-before any receive on it returns, so the value SyncWait
// observes is always the final one the task produced.
func SyncWait[T any](ctx context.Context, t *Task[T]) (T, error) {
	return t.Await(ctx)
}
