// Package netutil provides the minimal raw-socket plumbing the demo and
// tests need to exercise IoScheduler.Poll against real descriptors. It is
// deliberately not a general-purpose networking package: callers that
// need one should reach for net.Listener/net.Conn and bridge them with
// (*os.File).Fd when they need the raw descriptor for IoScheduler.
package netutil

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// ParseAddr splits "host:port" into an IPv4 address and a host-order
// port. The package only ever handles host-order ports; the single
// conversion to and from network byte order is done by
// unix.SockaddrInet4 inside the bind, connect and getsockname calls.
func ParseAddr(addr string) ([4]byte, uint16, error) {
	var ip [4]byte
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return ip, 0, fmt.Errorf("netutil: parse address %q: %w", addr, err)
	}
	parsed := net.ParseIP(host)
	if parsed == nil {
		return ip, 0, fmt.Errorf("netutil: parse address %q: invalid host", addr)
	}
	v4 := parsed.To4()
	if v4 == nil {
		return ip, 0, fmt.Errorf("netutil: parse address %q: not an IPv4 address", addr)
	}
	copy(ip[:], v4)
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ip, 0, fmt.Errorf("netutil: parse address %q: %w", addr, err)
	}
	return ip, uint16(port), nil
}

// LocalPort returns the host-order port fd is bound to, typically to
// learn which port a Listen with port 0 actually got.
func LocalPort(fd int) (uint16, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("netutil: getsockname: %w", err)
	}
	inet4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("netutil: getsockname: not an IPv4 socket")
	}
	return uint16(inet4.Port), nil
}

// NewNonblockingTCPSocket creates a non-blocking, close-on-exec IPv4 TCP
// socket.
func NewNonblockingTCPSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("netutil: socket: %w", err)
	}
	return fd, nil
}

// Listen creates a non-blocking listening socket bound to ip:port with
// SO_REUSEADDR set, per the usual "restart without waiting out
// TIME_WAIT" convenience.
func Listen(ip [4]byte, port uint16, backlog int) (int, error) {
	fd, err := NewNonblockingTCPSocket()
	if err != nil {
		return -1, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: setsockopt SO_REUSEADDR: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: int(port), Addr: ip}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: listen: %w", err)
	}
	return fd, nil
}

// Accept calls accept4 with SOCK_NONBLOCK|SOCK_CLOEXEC, returning
// unix.EAGAIN unchanged when no connection is pending yet — callers
// drive retries through IoScheduler.Poll(fd, PollOpRead, ...).
func Accept(listenFD int) (int, error) {
	connFD, _, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, err
	}
	return connFD, nil
}

// Dial starts a non-blocking connect to ip:port, returning the socket
// immediately; the caller uses IoScheduler.Poll(fd, PollOpWrite, ...) to
// learn when the connection completes (or failed — check SO_ERROR
// afterward).
func Dial(ip [4]byte, port uint16) (int, error) {
	fd, err := NewNonblockingTCPSocket()
	if err != nil {
		return -1, err
	}
	addr := &unix.SockaddrInet4{Port: int(port), Addr: ip}
	err = unix.Connect(fd, addr)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: connect: %w", err)
	}
	return fd, nil
}

// SocketError returns the pending SO_ERROR on fd (0 if none), the usual
// way to discover whether a non-blocking connect actually succeeded once
// it becomes writable.
func SocketError(fd int) (int, error) {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, fmt.Errorf("netutil: getsockopt SO_ERROR: %w", err)
	}
	return errno, nil
}

// Close closes fd, ignoring the case where it's already invalid.
func Close(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
