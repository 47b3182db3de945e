package corort

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThreadPoolResumeRunsOnWorker(t *testing.T) {
	p := NewThreadPool(1)
	defer p.Shutdown(context.Background())

	callerID := goroutineID()
	var workerID atomic.Uint64
	done := make(chan struct{})
	ok := p.Resume(func() {
		workerID.Store(goroutineID())
		close(done)
	})
	require.True(t, ok)

	<-done
	require.NotZero(t, workerID.Load())
	require.NotEqual(t, callerID, workerID.Load())
}

func TestThreadPoolSchedule(t *testing.T) {
	p := NewThreadPool(1)
	defer p.Shutdown(context.Background())

	require.NoError(t, p.Schedule(context.Background()))
	require.NoError(t, p.Yield(context.Background()))
}

func TestThreadPoolScheduleFromTask(t *testing.T) {
	// Pool of one worker; the task hops onto the pool mid-body and still
	// produces its value.
	p := NewThreadPool(1)
	defer p.Shutdown(context.Background())

	task := NewTask(func(ctx context.Context) (int, error) {
		if err := p.Schedule(ctx); err != nil {
			return 0, err
		}
		return 42, nil
	})

	got, err := SyncWait(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestThreadPoolFIFOOrder(t *testing.T) {
	p := NewThreadPool(1)
	defer p.Shutdown(context.Background())

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		require.True(t, p.Resume(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()

	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestThreadPoolShutdownDrainsQueue(t *testing.T) {
	p := NewThreadPool(2)

	var ran atomic.Int64
	for i := 0; i < 100; i++ {
		require.True(t, p.Resume(func() {
			ran.Add(1)
		}))
	}
	require.NoError(t, p.Shutdown(context.Background()))
	require.EqualValues(t, 100, ran.Load())
	require.Zero(t, p.Size())
}

func TestThreadPoolShutdownIdempotent(t *testing.T) {
	p := NewThreadPool(1)
	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestThreadPoolRejectsAfterShutdown(t *testing.T) {
	p := NewThreadPool(1)
	require.NoError(t, p.Shutdown(context.Background()))

	require.False(t, p.Resume(func() {}))
	require.ErrorIs(t, p.Schedule(context.Background()), ErrShuttingDown)
}

func TestThreadPoolResumeNil(t *testing.T) {
	p := NewThreadPool(1)
	defer p.Shutdown(context.Background())
	require.False(t, p.Resume(nil))
}

func TestThreadPoolSizeDrainsToZero(t *testing.T) {
	p := NewThreadPool(4)
	defer p.Shutdown(context.Background())

	for i := 0; i < 50; i++ {
		require.True(t, p.Resume(func() {}))
	}
	require.Eventually(t, func() bool { return p.Size() == 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestThreadPoolSurvivesPanickingContinuation(t *testing.T) {
	p := NewThreadPool(1)
	defer p.Shutdown(context.Background())

	require.True(t, p.Resume(func() { panic("boom") }))
	// The same single worker must still be alive to run this.
	require.NoError(t, p.Schedule(context.Background()))
}

func TestThreadPoolWorkers(t *testing.T) {
	p := NewThreadPool(3)
	defer p.Shutdown(context.Background())
	require.Equal(t, 3, p.Workers())
}
