package corort

import (
	"sync/atomic"
)

// pollInfo is the per-wait record attached to a goroutine blocked on a
// descriptor or timer. An atomic CAS flag (rather than a bool guarded by
// a lock) arbitrates the at-most-once race between the I/O-ready path and
// the timeout path.
//
// pollInfo is heap-allocated and kept alive by the goroutine blocked
// reading resultCh; the scheduler holds a reference to it (via the fd
// table or the timer heap) until processed flips true.
type pollInfo struct {
	fd int

	// timerIdx is the index of this pollInfo's entry in the scheduler's
	// timer heap, or -1 if no timer entry exists. Heap indices are only
	// read or changed under the scheduler's mutex (from the loop goroutine
	// or from a waiting caller inserting or removing its own timer).
	timerIdx int

	// hasTimer records whether a timer queue entry exists for this wait.
	hasTimer bool

	status PollStatus

	// processed flips false->true exactly once, by whichever of the I/O
	// path or the timer path wins the race. The winner sets status and
	// closes resultCh. Removal from the fd table and the timer heap is not
	// done by the winner: each path removes those entries under the
	// scheduler's mutex before it claims, and the epoll registration is
	// removed by the waiting goroutine in Poll after it wakes.
	processed atomic.Bool

	// resultCh is closed by the winning path after status is set; the
	// waiting goroutine observes the close via receive.
	resultCh chan struct{}
}

func newPollInfo(fd int) *pollInfo {
	return &pollInfo{
		fd:       fd,
		timerIdx: -1,
		status:   PollError,
		resultCh: make(chan struct{}),
	}
}

// claim attempts to win the at-most-once race. Returns true exactly once
// across however many goroutines call it concurrently.
func (p *pollInfo) claim() bool {
	return p.processed.CompareAndSwap(false, true)
}

// complete sets the status and wakes the waiter. Must only be called by
// the goroutine that won claim().
func (p *pollInfo) complete(status PollStatus) {
	p.status = status
	close(p.resultCh)
}

