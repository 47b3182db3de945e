package corort

import (
	"errors"
	"fmt"
)

// Sentinel errors. A task's own error is never wrapped in a dedicated
// type — it's just whatever error the task's body returned or panicked
// with; the sentinels below cover scheduler-level conditions and are
// matched with errors.Is.
var (
	// ErrNotReady is returned by Task.Result when called before the task
	// has produced a value or error.
	ErrNotReady = errors.New("corort: task result not ready")

	// ErrShuttingDown is returned by ThreadPool.Schedule and by
	// IoScheduler.Schedule, ScheduleAt and Poll once shutdown has been
	// initiated. ThreadPool.Resume reports the same condition by
	// returning false.
	ErrShuttingDown = errors.New("corort: shutting down")

	// ErrIoRegistration indicates a descriptor could not be registered
	// with (or removed from) the poller.
	ErrIoRegistration = errors.New("corort: io registration failed")

	// ErrReentrantWait indicates a blocking call (Poll, ScheduleAt, or
	// Shutdown) was made from the IoScheduler's own I/O goroutine, which
	// would deadlock.
	ErrReentrantWait = errors.New("corort: cannot block the io scheduler's own goroutine")
)

// wrapf attaches context to a sentinel via %w in a single place, so
// callers can still errors.Is/As through it.
func wrapf(msg string, cause error) error {
	if cause == nil {
		return errors.New(msg)
	}
	return fmt.Errorf("%s: %w", msg, cause)
}
