package corort

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func intTask(v int, delay time.Duration) *Task[int] {
	return NewTask(func(ctx context.Context) (int, error) {
		if delay > 0 {
			time.Sleep(delay)
		}
		return v, nil
	})
}

func TestWhenAllHeterogeneous(t *testing.T) {
	ta := NewTask(func(ctx context.Context) (int, error) { return 1, nil })
	tb := NewTask(func(ctx context.Context) (string, error) { return "s", nil })
	tc := NewTask(func(ctx context.Context) (unit, error) { return unit{}, nil })

	a, b, c, err := WhenAll3(context.Background(), ta, tb, tc)
	require.NoError(t, err)
	require.Equal(t, 1, a)
	require.Equal(t, "s", b)
	require.Equal(t, unit{}, c)
	require.True(t, ta.Done())
	require.True(t, tb.Done())
	require.True(t, tc.Done())
}

func TestWhenAll2(t *testing.T) {
	a, b, err := WhenAll2(context.Background(),
		intTask(10, 10*time.Millisecond),
		intTask(20, 0))
	require.NoError(t, err)
	require.Equal(t, 10, a)
	require.Equal(t, 20, b)
}

func TestWhenAll4(t *testing.T) {
	a, b, c, d, err := WhenAll4(context.Background(),
		intTask(1, 0),
		NewTask(func(ctx context.Context) (string, error) { return "x", nil }),
		intTask(3, 5*time.Millisecond),
		NewTask(func(ctx context.Context) (bool, error) { return true, nil }))
	require.NoError(t, err)
	require.Equal(t, 1, a)
	require.Equal(t, "x", b)
	require.Equal(t, 3, c)
	require.True(t, d)
}

func TestWhenAllErrorPolicyPositional(t *testing.T) {
	errB := errors.New("b failed")
	errC := errors.New("c failed")

	ta := intTask(1, 20*time.Millisecond)
	tb := NewTask(func(ctx context.Context) (int, error) { return 0, errB })
	tc := NewTask(func(ctx context.Context) (int, error) { return 0, errC })

	// tc fails before tb chronologically is irrelevant: the error
	// surfaced is the first in positional order, tb's.
	_, _, _, err := WhenAll3(context.Background(), ta, tb, tc)
	require.ErrorIs(t, err, errB)
}

func TestWhenAllSliceOrdering(t *testing.T) {
	// Later tasks finish first; results still land positionally.
	tasks := []*Task[int]{
		intTask(0, 40*time.Millisecond),
		intTask(1, 20*time.Millisecond),
		intTask(2, 0),
	}

	results, err := WhenAllSlice(context.Background(), tasks)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, results)
	for _, task := range tasks {
		require.True(t, task.Done())
	}
}

func TestWhenAllSliceEmpty(t *testing.T) {
	results, err := WhenAllSlice[int](context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestWhenAllSliceFirstErrorPositional(t *testing.T) {
	err1 := errors.New("first")
	err2 := errors.New("second")
	tasks := []*Task[int]{
		intTask(0, 0),
		NewTask(func(ctx context.Context) (int, error) { return 0, err1 }),
		NewTask(func(ctx context.Context) (int, error) { return 0, err2 }),
	}

	_, err := WhenAllSlice(context.Background(), tasks)
	require.ErrorIs(t, err, err1)
}

func TestWhenAllContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	blocked := NewTask(func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := WhenAll2(ctx, intTask(1, 0), blocked)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
