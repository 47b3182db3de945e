//go:build linux

package corort

import (
	"time"

	"golang.org/x/sys/unix"
)

// newEventFD creates a non-blocking eventfd, used both for the
// scheduler's wakeup descriptor (nudging epoll_wait out of a blocking
// call when new work arrives) and its shutdown descriptor (a one-shot
// signal that unblocks the loop for the last time).
func newEventFD() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, wrapf("corort: eventfd", err)
	}
	return fd, nil
}

// signalEventFD posts one wakeup to an eventfd created by newEventFD.
// EAGAIN (counter already saturated) is not an error here: the reader
// only cares that the counter is nonzero, not its exact value.
func signalEventFD(fd int) error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return wrapf("corort: eventfd write", err)
	}
	return nil
}

// drainEventFD resets an eventfd's counter to zero after a level-triggered
// readiness notification, so it won't immediately re-fire.
func drainEventFD(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

// newTimerFD creates a non-blocking CLOCK_MONOTONIC timerfd, disarmed.
func newTimerFD() (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return -1, wrapf("corort: timerfd_create", err)
	}
	return fd, nil
}

// armTimerFD (re)programs a timerfd to fire once after d. A nonpositive
// d disarms the timer instead of firing immediately, which is never what
// a caller here wants, so callers clamp d positive first.
func armTimerFD(fd int, d time.Duration) error {
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		return wrapf("corort: timerfd_settime", err)
	}
	return nil
}

// disarmTimerFD cancels a pending expiration, used when the last timer
// queue entry is removed before firing.
func disarmTimerFD(fd int) error {
	var spec unix.ItimerSpec
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		return wrapf("corort: timerfd_settime", err)
	}
	return nil
}

// drainTimerFD consumes the 8-byte expiration counter a timerfd delivers
// once it becomes readable.
func drainTimerFD(fd int) {
	var buf [8]byte
	unix.Read(fd, buf[:])
}
