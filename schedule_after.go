package corort

import (
	"context"
	"time"
)

// SpawnAfter spawns t on s once at least d has elapsed. It returns
// immediately; t's body does not begin running until the delay passes,
// at which point it starts exactly as Spawn would. If ctx is done before
// the delay elapses, t is never started.
func SpawnAfter[T any](ctx context.Context, s *IoScheduler, t *Task[T], d time.Duration) {
	SpawnAt(ctx, s, t, time.Now().Add(d))
}

// SpawnAt spawns t on s once the absolute time at has passed.
func SpawnAt[T any](ctx context.Context, s *IoScheduler, t *Task[T], at time.Time) {
	go func() {
		if err := s.ScheduleAt(ctx, at); err != nil {
			return
		}
		s.Spawn(ctx, t)
	}()
}
