package corort

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// schedulerOptions holds resolved configuration for an IoScheduler.
type schedulerOptions struct {
	executionStrategy  ExecutionStrategy
	threadCount        int
	registry           prometheus.Registerer
	metricsEnabled     bool
	pollBatchSize      int
	minTimerResolution time.Duration
}

// SchedulerOption configures an IoScheduler at construction time.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions)
}

type schedulerOptionFunc func(*schedulerOptions)

func (f schedulerOptionFunc) applyScheduler(o *schedulerOptions) { f(o) }

// WithExecutionStrategy selects whether resumed continuations run inline
// on the scheduler's own goroutine (StrategyThreadInline) or are handed
// off to a backing ThreadPool (StrategyThreadPool, the default).
func WithExecutionStrategy(s ExecutionStrategy) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) {
		o.executionStrategy = s
	})
}

// WithThreadCount sets the number of worker goroutines backing the
// scheduler's ThreadPool when StrategyThreadPool is selected. Ignored
// under StrategyThreadInline. Values below 1 are clamped to 1.
func WithThreadCount(n int) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) {
		if n < 1 {
			n = 1
		}
		o.threadCount = n
	})
}

// WithMetrics enables Prometheus instrumentation, registering the
// resulting series against reg. A nil reg uses
// prometheus.DefaultRegisterer.
func WithMetrics(reg prometheus.Registerer) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) {
		o.metricsEnabled = true
		o.registry = reg
	})
}

// WithPollBatchSize sets the maximum number of epoll events read per
// epoll_wait call. The default matches the four fixed descriptors plus
// headroom for a modest number of concurrently polled user fds.
func WithPollBatchSize(n int) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) {
		if n < 1 {
			n = 1
		}
		o.pollBatchSize = n
	})
}

// WithMinTimerResolution overrides the smallest positive duration a
// reprogrammed timer is clamped to.
func WithMinTimerResolution(d time.Duration) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) {
		if d > 0 {
			o.minTimerResolution = d
		}
	})
}

func resolveSchedulerOptions(opts []SchedulerOption) *schedulerOptions {
	cfg := &schedulerOptions{
		executionStrategy:  StrategyThreadPool,
		threadCount:        runtime.NumCPU(),
		pollBatchSize:      256,
		minTimerResolution: time.Nanosecond,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyScheduler(cfg)
	}
	return cfg
}
