//go:build linux

package corort

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// poller is a thin wrapper around a single epoll instance. It knows
// nothing about tasks, timers, or the fixed wakeup/shutdown/timer
// descriptors the scheduler layers on top — it only translates PollOp
// into epoll bitmasks and epoll_wait into a raw event slice.
type poller struct {
	epfd   int
	closed atomic.Bool
}

func newPoller() (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, wrapf("corort: epoll_create1", err)
	}
	return &poller{epfd: fd}, nil
}

func (p *poller) close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(p.epfd)
}

// pollOpToEpoll converts a PollOp into the epoll bitmask requesting that
// readiness.
func pollOpToEpoll(op PollOp) uint32 {
	switch op {
	case PollOpRead:
		return unix.EPOLLIN
	case PollOpWrite:
		return unix.EPOLLOUT
	case PollOpReadWrite:
		return unix.EPOLLIN | unix.EPOLLOUT
	default:
		return 0
	}
}

// epollToPollStatus folds the kernel's ready bits into the observable
// outcome: the error bit wins, then hangup/peer-close, then plain
// readiness (readable and writable both map to PollEvent).
func epollToPollStatus(events uint32) PollStatus {
	switch {
	case events&unix.EPOLLERR != 0:
		return PollError
	case events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0:
		return PollClosed
	default:
		return PollEvent
	}
}

// addFixed registers one of the scheduler's own control descriptors
// (timerfd, wakeup, shutdown) for persistent level-triggered read
// readiness. These must never be one-shot: a wakeup that disarmed itself
// after the first delivery would deadlock the loop.
func (p *poller) addFixed(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return wrapf("corort: epoll_ctl add", err)
	}
	return nil
}

// addUser registers a user descriptor for op: edge-triggered, one-shot,
// with peer-close reported as a distinct condition. One-shot keeps a
// single pollInfo owning a single in-flight registration — the fd cannot
// re-fire while nobody is waiting on it, which is also why a failed
// deregistration later is tolerable.
func (p *poller) addUser(fd int, op PollOp) error {
	ev := unix.EpollEvent{
		Events: pollOpToEpoll(op) | unix.EPOLLRDHUP | unix.EPOLLONESHOT | unix.EPOLLET,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return wrapf("corort: epoll_ctl add", err)
	}
	return nil
}

func (p *poller) remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return wrapf("corort: epoll_ctl del", err)
	}
	return nil
}

// wait blocks up to timeoutMs (negative blocks indefinitely) and fills
// buf with ready events, returning how many were written. EINTR is
// swallowed and reported as zero ready events.
func (p *poller) wait(buf []unix.EpollEvent, timeoutMs int) (int, error) {
	n, err := unix.EpollWait(p.epfd, buf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, wrapf("corort: epoll_wait", err)
	}
	return n, nil
}
