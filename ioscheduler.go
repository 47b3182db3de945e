package corort

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// tag identifies which of the scheduler's fixed descriptors (or a
// registered user descriptor) produced a ready event.
type tag int

const (
	tagUser tag = iota
	tagTimer
	tagWake
	tagShutdown
)

// IoScheduler multiplexes readiness waits and timers over a single epoll
// instance, and resumes waiting goroutines either inline on its own
// run-loop goroutine or handed off to a backing ThreadPool, per
// ExecutionStrategy.
//
// It owns four descriptors: the epoll instance itself, a timerfd driving
// the earliest pending deadline, a wakeup eventfd used to break
// epoll_wait out of a blocking call when new work arrives, and a
// shutdown eventfd signaled exactly once to begin draining.
type IoScheduler struct {
	opts *schedulerOptions
	log  zerolog.Logger

	epoll   *poller
	timerFD int
	wakeFD  int
	shutFD  int

	pool *ThreadPool

	mu      sync.Mutex
	waiters map[int]*pollInfo // user fd -> its pollInfo
	timers  timerQueue
	closed  bool

	// ready is the local resume batch: continuations appended by
	// Schedule/Yield (inline strategy) or by the loop's own dispatch,
	// drained by the loop after each event batch. wakePending debounces
	// eventfd writes: a CAS false->true earns the right to write exactly
	// one wakeup; the loop's wakeup handler resets the flag before
	// swapping the buffer, so an enqueue that loses the CAS either
	// preceded the swap or will be seen on the next iteration (an extra
	// spurious wake is tolerated).
	readyMu     sync.Mutex
	ready       []func()
	wakePending atomic.Bool

	// size counts spawned + in-flight + waiting work. The loop exits
	// only once shutdown has been signaled and size has drained to zero.
	size             atomic.Int64
	shutdownSignaled atomic.Bool

	// fdMu serializes wake-up writes with descriptor teardown so a late
	// wake can never hit a closed (and possibly recycled) descriptor.
	fdMu     sync.Mutex
	fdClosed bool

	loopGoroutineID atomic.Uint64
	runDone         chan struct{}
	shutdownOnce    sync.Once

	metrics *Metrics
}

// NewIoScheduler constructs and starts an IoScheduler. The returned
// scheduler's run loop is already running on its own goroutine; callers
// never drive it themselves.
func NewIoScheduler(opts ...SchedulerOption) (*IoScheduler, error) {
	cfg := resolveSchedulerOptions(opts)

	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	timerFD, err := newTimerFD()
	if err != nil {
		p.close()
		return nil, err
	}
	wakeFD, err := newEventFD()
	if err != nil {
		p.close()
		unix.Close(timerFD)
		return nil, err
	}
	shutFD, err := newEventFD()
	if err != nil {
		p.close()
		unix.Close(timerFD)
		unix.Close(wakeFD)
		return nil, err
	}

	s := &IoScheduler{
		opts:    cfg,
		log:     withComponent(Log(), "io_scheduler"),
		epoll:   p,
		timerFD: timerFD,
		wakeFD:  wakeFD,
		shutFD:  shutFD,
		waiters: make(map[int]*pollInfo),
		runDone: make(chan struct{}),
	}

	if cfg.metricsEnabled {
		s.metrics = NewMetrics(cfg.registry)
	}
	if cfg.executionStrategy == StrategyThreadPool {
		s.pool = NewThreadPool(cfg.threadCount)
	}

	if err := s.registerFixed(); err != nil {
		s.closeDescriptors()
		if s.pool != nil {
			s.pool.Shutdown(context.Background())
		}
		return nil, err
	}

	go s.run()

	s.log.Info().
		Stringer("strategy", cfg.executionStrategy).
		Int("threads", cfg.threadCount).
		Msg("io scheduler started")

	return s, nil
}

func (s *IoScheduler) registerFixed() error {
	if err := s.epoll.addFixed(s.timerFD); err != nil {
		return err
	}
	if err := s.epoll.addFixed(s.wakeFD); err != nil {
		return err
	}
	if err := s.epoll.addFixed(s.shutFD); err != nil {
		return err
	}
	return nil
}

func (s *IoScheduler) closeDescriptors() {
	s.epoll.close()
	unix.Close(s.timerFD)
	unix.Close(s.wakeFD)
	unix.Close(s.shutFD)
}

func (s *IoScheduler) resolveTag(fd int) tag {
	switch fd {
	case s.timerFD:
		return tagTimer
	case s.wakeFD:
		return tagWake
	case s.shutFD:
		return tagShutdown
	default:
		return tagUser
	}
}

// run is the scheduler's single run-loop goroutine. Every dispatch of a
// ready pollInfo and every drain of the ready batch happens here. The
// loop owns descriptor teardown: it closes the four fixed descriptors on
// exit, after the final size decrement has been observed, so no
// late signalEventFD can ever write to a recycled descriptor number.
func (s *IoScheduler) run() {
	s.loopGoroutineID.Store(goroutineID())
	defer func() {
		s.fdMu.Lock()
		s.fdClosed = true
		s.closeDescriptors()
		s.fdMu.Unlock()
		close(s.runDone)
	}()

	events := make([]unix.EpollEvent, s.opts.pollBatchSize)
	shuttingDown := false
	for {
		// Termination: shutdown signaled and all outstanding work
		// (spawned + in-flight + waiting) has drained.
		if shuttingDown && s.size.Load() == 0 {
			s.log.Info().Msg("io scheduler loop exiting")
			return
		}

		n, err := s.epoll.wait(events, -1)
		s.metrics.recordPoll(n, err)
		if err != nil {
			s.log.Warn().Err(err).Msg("epoll_wait failed")
			continue
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch s.resolveTag(fd) {
			case tagTimer:
				drainTimerFD(s.timerFD)
				s.dispatchExpiredTimers()
			case tagWake:
				drainEventFD(s.wakeFD)
				s.wakePending.Store(false)
			case tagShutdown:
				drainEventFD(s.shutFD)
				shuttingDown = true
			case tagUser:
				s.dispatchUser(fd, events[i].Events)
			}
		}

		s.drainReady()
	}
}

// drainReady swaps out the ready batch and runs each continuation
// in-order on the loop goroutine, repeating until the batch stays empty.
// Continuations routed here only ever park/unpark another goroutine
// (close a channel); the bodies of tasks never run on the loop.
func (s *IoScheduler) drainReady() {
	for {
		s.readyMu.Lock()
		batch := s.ready
		s.ready = nil
		s.readyMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			runProtected(fn)
		}
	}
}

// enqueueReady appends a continuation to the local resume batch and, if
// not already pending, writes one wakeup so a blocked loop notices. The
// loop goroutine itself skips the wakeup: it drains the batch at the end
// of the current dispatch round anyway.
func (s *IoScheduler) enqueueReady(fn func()) {
	s.readyMu.Lock()
	s.ready = append(s.ready, fn)
	s.readyMu.Unlock()

	if s.isOnLoopGoroutine() {
		return
	}
	if s.wakePending.CompareAndSwap(false, true) {
		s.signalWake()
	}
}

func (s *IoScheduler) signalWake() {
	s.fdMu.Lock()
	if !s.fdClosed {
		signalEventFD(s.wakeFD)
	}
	s.fdMu.Unlock()
}

// scheduleResume routes a resumption per the configured strategy: to a
// pool worker under StrategyThreadPool, or onto the loop's ready batch
// under StrategyThreadInline. A pool that is already draining falls back
// to running inline rather than dropping the continuation.
func (s *IoScheduler) scheduleResume(fn func()) {
	if s.pool != nil {
		if s.pool.Resume(fn) {
			return
		}
		runProtected(fn)
		return
	}
	s.enqueueReady(fn)
}

// decSize decrements the outstanding-work counter and, when that was the
// last piece of work during a shutdown drain, nudges the loop so it can
// observe the zero and exit.
func (s *IoScheduler) decSize() {
	if s.size.Add(-1) == 0 && s.shutdownSignaled.Load() {
		s.signalWake()
	}
}

func (s *IoScheduler) dispatchExpiredTimers() {
	now := time.Now()
	s.mu.Lock()
	expired := s.timers.drainExpired(now)
	if next, ok := s.timers.nextDeadline(); ok {
		armTimerFD(s.timerFD, s.clampTimer(time.Until(next)))
	}
	pending := s.timers.Len()
	for _, pi := range expired {
		if pi.fd >= 0 {
			delete(s.waiters, pi.fd)
		}
	}
	s.mu.Unlock()

	s.metrics.recordTimerFired(len(expired))
	s.metrics.setTimerPending(pending)

	for _, pi := range expired {
		s.finishWait(pi, PollTimeout)
	}
}

func (s *IoScheduler) dispatchUser(fd int, epollEvents uint32) {
	s.mu.Lock()
	pi, ok := s.waiters[fd]
	if ok {
		delete(s.waiters, fd)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.removeTimer(pi)
	s.finishWait(pi, epollToPollStatus(epollEvents))
}

// removeTimer erases pi's timer entry, if any, reprogramming the timerfd
// when the earliest deadline changed (erasing the front either advances
// the deadline or, with the queue empty, disarms the timer). The settime
// call happens under s.mu so a concurrent insert/remove pair cannot
// apply their reprogrammings out of order.
func (s *IoScheduler) removeTimer(pi *pollInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.timers.remove(pi) {
		return
	}
	if next, ok := s.timers.nextDeadline(); ok {
		armTimerFD(s.timerFD, s.clampTimer(time.Until(next)))
	} else {
		disarmTimerFD(s.timerFD)
	}
}

// insertTimer adds pi with deadline at, reprogramming the timerfd if at
// became the earliest pending deadline.
func (s *IoScheduler) insertTimer(pi *pollInfo, at time.Time) {
	s.mu.Lock()
	changed := s.timers.insert(pi, at)
	if changed {
		armTimerFD(s.timerFD, s.clampTimer(time.Until(at)))
	}
	pending := s.timers.Len()
	s.mu.Unlock()
	s.metrics.setTimerPending(pending)
}

// clampTimer clamps a nonpositive rearm interval up to the configured
// minimum resolution, since a zero timerfd interval disarms rather than
// fires.
func (s *IoScheduler) clampTimer(d time.Duration) time.Duration {
	if d < s.opts.minTimerResolution {
		return s.opts.minTimerResolution
	}
	return d
}

// finishWait claims pi's at-most-once slot and, if this goroutine wins
// the race, completes it through the configured ExecutionStrategy.
// Exactly one of the I/O path and the timer path gets past claim; the
// loser's call is a no-op.
func (s *IoScheduler) finishWait(pi *pollInfo, status PollStatus) {
	if !pi.claim() {
		return
	}
	s.scheduleResume(func() { pi.complete(status) })
}

// Poll blocks the calling goroutine until fd becomes ready for op, the
// timeout elapses, or ctx is done, returning the observed PollStatus. A
// zero or negative timeout means wait indefinitely — it can never yield
// PollTimeout.
func (s *IoScheduler) Poll(ctx context.Context, fd int, op PollOp, timeout time.Duration) (PollStatus, error) {
	if s.isOnLoopGoroutine() {
		return PollError, ErrReentrantWait
	}

	pi := newPollInfo(fd)

	// The size increment happens under the same lock as the closed
	// check: shutdown flips closed before signaling the loop, so any
	// wait admitted here is counted before the loop can observe a
	// drained scheduler and exit.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return PollError, ErrShuttingDown
	}
	s.size.Add(1)
	s.waiters[fd] = pi
	s.mu.Unlock()

	defer s.decSize()
	s.metrics.incIoWaiters()
	defer s.metrics.decIoWaiters()

	if err := s.epoll.addUser(fd, op); err != nil {
		s.mu.Lock()
		delete(s.waiters, fd)
		s.mu.Unlock()
		fdLog := withFD(s.log, fd)
		fdLog.Warn().Err(err).Msg("poll registration failed")
		return PollError, wrapf("corort: register poll fd", ErrIoRegistration)
	}
	// Best effort: the one-shot registration cannot re-fire, so a failed
	// removal here is tolerated.
	defer s.epoll.remove(fd)

	if timeout > 0 {
		s.insertTimer(pi, time.Now().Add(timeout))
	}

	select {
	case <-pi.resultCh:
		return pi.status, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.waiters, fd)
		s.mu.Unlock()
		s.removeTimer(pi)
		return PollError, ctx.Err()
	}
}

// Schedule suspends the calling goroutine and resumes it through this
// scheduler's execution context: under StrategyThreadPool a pool worker
// runs the resumption; under StrategyThreadInline the I/O goroutine
// does, as part of its ready-batch drain. Either way control returns to
// the caller afterward.
func (s *IoScheduler) Schedule(ctx context.Context) error {
	if s.isOnLoopGoroutine() {
		// Already on the scheduler's own execution context.
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	s.size.Add(1)
	s.mu.Unlock()
	defer s.decSize()

	start := time.Now()
	done := make(chan struct{})
	if s.pool != nil {
		if !s.pool.Resume(func() { close(done) }) {
			return ErrShuttingDown
		}
	} else {
		s.enqueueReady(func() { close(done) })
	}

	select {
	case <-done:
		s.metrics.observeScheduleLatencySeconds(time.Since(start).Seconds())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Yield suspends the calling goroutine and resumes it on this
// scheduler's execution context, equivalent to Schedule.
func (s *IoScheduler) Yield(ctx context.Context) error {
	return s.Schedule(ctx)
}

// ScheduleAfter suspends the calling goroutine for at least d. A
// nonpositive d reduces to Schedule.
func (s *IoScheduler) ScheduleAfter(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return s.Schedule(ctx)
	}
	return s.ScheduleAt(ctx, time.Now().Add(d))
}

// ScheduleAt suspends the calling goroutine until the absolute time at
// has passed, then resumes it through the configured strategy.
func (s *IoScheduler) ScheduleAt(ctx context.Context, at time.Time) error {
	if s.isOnLoopGoroutine() {
		return ErrReentrantWait
	}
	if !at.After(time.Now()) {
		return s.Schedule(ctx)
	}

	pi := newPollInfo(-1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	s.size.Add(1)
	s.mu.Unlock()
	defer s.decSize()

	s.insertTimer(pi, at)

	select {
	case <-pi.resultCh:
		return nil
	case <-ctx.Done():
		s.removeTimer(pi)
		return ctx.Err()
	}
}

// YieldFor is an alias of ScheduleAfter.
func (s *IoScheduler) YieldFor(ctx context.Context, d time.Duration) error {
	return s.ScheduleAfter(ctx, d)
}

// YieldUntil is an alias of ScheduleAt.
func (s *IoScheduler) YieldUntil(ctx context.Context, at time.Time) error {
	return s.ScheduleAt(ctx, at)
}

// genericTask is the minimal surface Spawn needs from a *Task[T] without
// requiring IoScheduler itself to be generic.
type genericTask interface {
	Run(ctx context.Context)
	awaitErr(ctx context.Context) error
}

// Spawn starts t detached: its body runs on its own goroutine, and the
// scheduler tracks it as outstanding work until it reaches final
// suspension (shutdown drains it before the loop exits). Spawn returns
// immediately; nothing observes t's result unless some other goroutine
// also awaits it.
func (s *IoScheduler) Spawn(ctx context.Context, t genericTask) {
	s.metrics.recordTaskSpawned()
	s.size.Add(1)
	t.Run(ctx)
	go func() {
		err := t.awaitErr(context.Background())
		s.metrics.recordTaskCompleted(err)
		s.decSize()
	}()
}

// Size returns the number of outstanding pieces of work: spawned tasks
// not yet completed, in-flight resumptions, and goroutines waiting in
// Poll/Schedule/ScheduleAt.
func (s *IoScheduler) Size() int {
	return int(s.size.Load())
}

// Shutdown stops accepting new waits, drains outstanding work, waits for
// the run loop to exit, then shuts down the backing pool (if any).
// Shutdown is idempotent; concurrent calls all block until teardown
// completes or their ctx is done.
func (s *IoScheduler) Shutdown(ctx context.Context) error {
	if s.isOnLoopGoroutine() {
		return ErrReentrantWait
	}

	s.shutdownOnce.Do(func() {
		s.log.Info().Msg("io scheduler shutting down")
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.shutdownSignaled.Store(true)
		signalEventFD(s.shutFD)
	})

	select {
	case <-s.runDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.pool != nil {
		return s.pool.Shutdown(ctx)
	}
	return nil
}

func (s *IoScheduler) isOnLoopGoroutine() bool {
	id := s.loopGoroutineID.Load()
	return id != 0 && id == goroutineID()
}

// goroutineID parses the current goroutine's numeric id out of
// runtime.Stack output. It exists solely to detect (and refuse) a
// blocking call from the scheduler's own run-loop goroutine, which would
// otherwise deadlock the loop waiting on itself.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
