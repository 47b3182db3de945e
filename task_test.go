package corort

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskReturnValue(t *testing.T) {
	task := NewTask(func(ctx context.Context) (int, error) {
		return 500, nil
	})

	got, err := SyncWait(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, 500, got)
	require.True(t, task.Done())
}

func TestTaskErrorPropagation(t *testing.T) {
	task := NewTask(func(ctx context.Context) (int, error) {
		return -1, errors.New("exception occurred")
	})

	_, err := SyncWait(context.Background(), task)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exception occurred")
	require.True(t, task.Done())
}

func TestTaskPanicCapturedAsError(t *testing.T) {
	task := NewTask(func(ctx context.Context) (int, error) {
		panic("exception occurred")
	})

	_, err := SyncWait(context.Background(), task)
	require.Error(t, err)
	require.Contains(t, err.Error(), "task panicked")
	require.Contains(t, err.Error(), "exception occurred")
	require.True(t, task.Done())
}

func TestTaskInner(t *testing.T) {
	inner := NewTask(func(ctx context.Context) (int, error) {
		return 5, nil
	})
	outer := NewTask(func(ctx context.Context) (int, error) {
		return inner.Await(ctx)
	})

	got, err := SyncWait(context.Background(), outer)
	require.NoError(t, err)
	require.Equal(t, 5, got)
	require.True(t, outer.Done())
	require.True(t, inner.Done())

	innerVal, err := inner.Result()
	require.NoError(t, err)
	require.Equal(t, 5, innerVal)
}

func TestTaskResultNotReady(t *testing.T) {
	task := NewTask(func(ctx context.Context) (int, error) {
		return 1, nil
	})

	_, err := task.Result()
	require.ErrorIs(t, err, ErrNotReady)
	require.False(t, task.Done())
}

func TestTaskDoubleAwaitReturnsCachedResult(t *testing.T) {
	calls := 0
	task := NewTask(func(ctx context.Context) (int, error) {
		calls++
		return 7, nil
	})

	ctx := context.Background()
	first, err := task.Await(ctx)
	require.NoError(t, err)
	second, err := task.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls)
}

func TestTaskDoubleRunIsNoOp(t *testing.T) {
	started := make(chan struct{}, 2)
	task := NewTask(func(ctx context.Context) (struct{}, error) {
		started <- struct{}{}
		return struct{}{}, nil
	})

	ctx := context.Background()
	task.Run(ctx)
	task.Run(ctx)

	_, err := task.Await(ctx)
	require.NoError(t, err)
	require.Len(t, started, 1)
}

func TestTaskAwaitRespectsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	task := NewTask(func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := task.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, task.Done())
}

func TestTaskIDStable(t *testing.T) {
	task := NewTask(func(ctx context.Context) (int, error) { return 0, nil })
	require.NotEmpty(t, task.ID())
	require.Equal(t, task.ID(), task.ID())
}
