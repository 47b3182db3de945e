package corort

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects Prometheus instrumentation for an IoScheduler; a
// ThreadPool records no metrics of its own. Unlike a package-global collector, Metrics
// takes a caller-supplied prometheus.Registerer so a process embedding
// multiple schedulers (or its own registry) controls where these series
// end up.
type Metrics struct {
	tasksSpawned   prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter

	pollWaits   prometheus.Counter
	pollTimeout prometheus.Counter
	pollErrors  prometheus.Counter

	timerFired    prometheus.Counter
	timerPending  prometheus.Gauge
	ioWaitersLive prometheus.Gauge

	scheduleLatency prometheus.Histogram
}

// NewMetrics constructs and registers a Metrics instance against reg. A
// nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		tasksSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corort_tasks_spawned_total",
			Help: "Total number of tasks started via IoScheduler.Spawn.",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corort_tasks_completed_total",
			Help: "Total number of tasks that reached final suspension without returning an error or panicking.",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corort_tasks_failed_total",
			Help: "Total number of tasks whose body returned a non-nil error or panicked.",
		}),
		pollWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corort_poll_waits_total",
			Help: "Total number of epoll_wait calls issued by the io scheduler loop.",
		}),
		pollTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corort_poll_timeouts_total",
			Help: "Total number of epoll_wait calls that returned with no ready events.",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corort_poll_errors_total",
			Help: "Total number of epoll_wait calls that failed with a non-EINTR error.",
		}),
		timerFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corort_timers_fired_total",
			Help: "Total number of timer entries that expired and were dispatched.",
		}),
		timerPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "corort_timers_pending",
			Help: "Current number of entries in the scheduler's timer heap.",
		}),
		ioWaitersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "corort_io_waiters",
			Help: "Current number of goroutines blocked awaiting descriptor readiness.",
		}),
		scheduleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "corort_schedule_latency_seconds",
			Help:    "Time between an IoScheduler.Schedule call and the caller being resumed.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.tasksSpawned,
		m.tasksCompleted,
		m.tasksFailed,
		m.pollWaits,
		m.pollTimeout,
		m.pollErrors,
		m.timerFired,
		m.timerPending,
		m.ioWaitersLive,
		m.scheduleLatency,
	)

	return m
}

func (m *Metrics) recordTaskSpawned() {
	if m == nil {
		return
	}
	m.tasksSpawned.Inc()
}

func (m *Metrics) recordTaskCompleted(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.tasksFailed.Inc()
		return
	}
	m.tasksCompleted.Inc()
}

func (m *Metrics) recordPoll(ready int, err error) {
	if m == nil {
		return
	}
	m.pollWaits.Inc()
	switch {
	case err != nil:
		m.pollErrors.Inc()
	case ready == 0:
		m.pollTimeout.Inc()
	}
}

func (m *Metrics) recordTimerFired(n int) {
	if m == nil || n == 0 {
		return
	}
	m.timerFired.Add(float64(n))
}

func (m *Metrics) setTimerPending(n int) {
	if m == nil {
		return
	}
	m.timerPending.Set(float64(n))
}

func (m *Metrics) incIoWaiters() {
	if m == nil {
		return
	}
	m.ioWaitersLive.Inc()
}

func (m *Metrics) decIoWaiters() {
	if m == nil {
		return
	}
	m.ioWaitersLive.Dec()
}

func (m *Metrics) observeScheduleLatencySeconds(s float64) {
	if m == nil {
		return
	}
	m.scheduleLatency.Observe(s)
}
