package corort

import (
	"context"
	"sync/atomic"
)

// whenAllLatch is a countdown synchronizer initialized to n+1: each of
// the n children decrements it on completion, and the awaiter itself
// performs one more decrement (the "subscribe" step) after starting every
// child. Whichever decrement observes the counter reach zero is the one
// that wakes the awaiter — this avoids the race between "all children
// already finished before the awaiter subscribed" and "subscribe, then a
// child finishes," since both orderings converge on the same final
// decrement.
type whenAllLatch struct {
	n     atomic.Int64
	ready chan struct{}
}

func newWhenAllLatch(children int) *whenAllLatch {
	l := &whenAllLatch{ready: make(chan struct{})}
	l.n.Store(int64(children + 1))
	return l
}

func (l *whenAllLatch) arrive() {
	if l.n.Add(-1) == 0 {
		close(l.ready)
	}
}

// attach starts t (if not already started) and arranges for the latch to
// be decremented exactly once when t completes.
func attach[T any](ctx context.Context, t *Task[T], l *whenAllLatch) {
	t.Run(ctx)
	go func() {
		<-t.done
		l.arrive()
	}()
}

// unit is the canonical value substituted for a Task[void]-shaped slot,
// since Go has no bare `void` type. WhenAll2..4 accept *Task[struct{}]
// for a void-returning child and the tuple position carries unit{}.
type unit = struct{}

// WhenAll2 awaits two tasks of possibly different result types
// concurrently and returns both results positionally, or the first error
// encountered reading positionally (ta before tb), once every child has
// reached final suspension.
func WhenAll2[A, B any](ctx context.Context, ta *Task[A], tb *Task[B]) (A, B, error) {
	l := newWhenAllLatch(2)
	attach(ctx, ta, l)
	attach(ctx, tb, l)
	l.arrive()

	select {
	case <-l.ready:
	case <-ctx.Done():
		var za A
		var zb B
		return za, zb, ctx.Err()
	}

	av, aerr := ta.Result()
	bv, berr := tb.Result()
	if aerr != nil {
		return av, bv, aerr
	}
	if berr != nil {
		return av, bv, berr
	}
	return av, bv, nil
}

// WhenAll3 is WhenAll2 generalized to three tasks.
func WhenAll3[A, B, C any](ctx context.Context, ta *Task[A], tb *Task[B], tc *Task[C]) (A, B, C, error) {
	l := newWhenAllLatch(3)
	attach(ctx, ta, l)
	attach(ctx, tb, l)
	attach(ctx, tc, l)
	l.arrive()

	select {
	case <-l.ready:
	case <-ctx.Done():
		var za A
		var zb B
		var zc C
		return za, zb, zc, ctx.Err()
	}

	av, aerr := ta.Result()
	bv, berr := tb.Result()
	cv, cerr := tc.Result()
	if aerr != nil {
		return av, bv, cv, aerr
	}
	if berr != nil {
		return av, bv, cv, berr
	}
	if cerr != nil {
		return av, bv, cv, cerr
	}
	return av, bv, cv, nil
}

// WhenAll4 is WhenAll2 generalized to four tasks.
func WhenAll4[A, B, C, D any](ctx context.Context, ta *Task[A], tb *Task[B], tc *Task[C], td *Task[D]) (A, B, C, D, error) {
	l := newWhenAllLatch(4)
	attach(ctx, ta, l)
	attach(ctx, tb, l)
	attach(ctx, tc, l)
	attach(ctx, td, l)
	l.arrive()

	select {
	case <-l.ready:
	case <-ctx.Done():
		var za A
		var zb B
		var zc C
		var zd D
		return za, zb, zc, zd, ctx.Err()
	}

	av, aerr := ta.Result()
	bv, berr := tb.Result()
	cv, cerr := tc.Result()
	dv, derr := td.Result()
	if aerr != nil {
		return av, bv, cv, dv, aerr
	}
	if berr != nil {
		return av, bv, cv, dv, berr
	}
	if cerr != nil {
		return av, bv, cv, dv, cerr
	}
	if derr != nil {
		return av, bv, cv, dv, derr
	}
	return av, bv, cv, dv, nil
}

// WhenAllSlice awaits a homogeneous collection of tasks concurrently,
// returning their results in input order. An empty input completes
// synchronously with an empty slice and no error.
func WhenAllSlice[T any](ctx context.Context, tasks []*Task[T]) ([]T, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	l := newWhenAllLatch(len(tasks))
	for _, t := range tasks {
		attach(ctx, t, l)
	}
	l.arrive()

	select {
	case <-l.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	results := make([]T, len(tasks))
	var firstErr error
	for i, t := range tasks {
		v, err := t.Result()
		results[i] = v
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}
