// Package eventloop is the minimal file-descriptor readiness source the
// client and server endpoints register their connections against. The
// polling primitive itself is explicitly out of scope for the protocol
// core (spec §1): this package is the external collaborator the core's
// Connection.onInterest callback reports state transitions to, not part
// of the wire/objects/wlproto/dispatch subsystems.
package eventloop

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// pollTimeout bounds how long one Run iteration blocks in unix.Poll, so
// Run can notice a closed stop channel even with no fd activity.
const pollTimeout = 250 * time.Millisecond

// ReadyFunc is invoked once per Run iteration in which its fd reported
// the interest it was registered for.
type ReadyFunc func(readable, writable bool)

type registration struct {
	fd                 int
	readable, writable bool
	onReady            ReadyFunc
}

// Loop is a single-threaded cooperative poll loop: one goroutine, one
// set of registered fds, callbacks invoked synchronously and in the
// order unix.Poll reports them (§5: single-threaded cooperative core).
type Loop struct {
	regs map[int]*registration
}

// New returns an empty event loop.
func New() *Loop {
	return &Loop{regs: make(map[int]*registration)}
}

// Register adds fd to the loop with initial readable/writable interest;
// the caller updates that interest later by passing the same fd to
// SetInterest.
func (l *Loop) Register(fd int, readable, writable bool, onReady ReadyFunc) {
	l.regs[fd] = &registration{fd: fd, readable: readable, writable: writable, onReady: onReady}
}

// SetInterest updates the readable/writable interest for an already
// registered fd; this is what Connection's onInterest callback calls.
func (l *Loop) SetInterest(fd int, readable, writable bool) {
	if r, ok := l.regs[fd]; ok {
		r.readable, r.writable = readable, writable
	}
}

// Deregister removes fd from the loop; it is a no-op if fd is unknown.
func (l *Loop) Deregister(fd int) {
	delete(l.regs, fd)
}

// RunOnce performs one poll iteration, invoking onReady for every fd that
// reported an event it was registered for. It returns the number of fds
// that became ready.
func (l *Loop) RunOnce() (int, error) {
	if len(l.regs) == 0 {
		time.Sleep(pollTimeout)
		return 0, nil
	}
	fds := make([]unix.PollFd, 0, len(l.regs))
	order := make([]int, 0, len(l.regs))
	for fd, r := range l.regs {
		var events int16
		if r.readable {
			events |= unix.POLLIN
		}
		if r.writable {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		order = append(order, fd)
	}

	n, err := unix.Poll(fds, int(pollTimeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	ready := 0
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		r, ok := l.regs[order[i]]
		if !ok {
			continue
		}
		readable := pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
		writable := pfd.Revents&unix.POLLOUT != 0
		if readable || writable {
			ready++
			r.onReady(readable, writable)
		}
	}
	return ready, nil
}

// Run repeatedly calls RunOnce until stop is closed or a poll error occurs.
func (l *Loop) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		if _, err := l.RunOnce(); err != nil {
			return err
		}
	}
}
