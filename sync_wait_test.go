package corort

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncWaitReturnsValue(t *testing.T) {
	task := NewTask(func(ctx context.Context) (string, error) {
		return "hello", nil
	})

	got, err := SyncWait(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, "hello", got)
}

func TestSyncWaitSurfacesError(t *testing.T) {
	boom := errors.New("boom")
	task := NewTask(func(ctx context.Context) (string, error) {
		return "", boom
	})

	_, err := SyncWait(context.Background(), task)
	require.ErrorIs(t, err, boom)
}

func TestSyncWaitIdempotentOverResult(t *testing.T) {
	task := NewTask(func(ctx context.Context) (int, error) {
		return 9, nil
	})

	got, err := SyncWait(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, 9, got)

	// The result remains accessible after the wait.
	again, err := task.Result()
	require.NoError(t, err)
	require.Equal(t, 9, again)
}
