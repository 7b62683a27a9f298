package wire

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// maxSockaddrUnPath is the platform limit on struct sockaddr_un.sun_path,
// null terminator included, on every Linux/BSD variant this runtime targets.
const maxSockaddrUnPath = 108

// tryOnceWindow bounds how long readOnce/writeOnce wait after their single
// I/O attempt would block.
const tryOnceWindow = time.Millisecond

// ResolveSocketPath implements the §6/§12 fallback chain for locating the
// local socket: <XDG_RUNTIME_DIR>/<name>, where name defaults to
// WAYLAND_DISPLAY and then to "wayland-0". requireRuntimeDir distinguishes
// the client (which must fail if XDG_RUNTIME_DIR is unset) from the server
// (which falls back to "." with a logged warning left to the caller).
func ResolveSocketPath(requireRuntimeDir bool) (path string, fellBack bool, err error) {
	return ResolveSocketPathNamed("", requireRuntimeDir)
}

// ResolveSocketPathNamed is ResolveSocketPath with an explicit socket
// name; an empty name falls through to the same WAYLAND_DISPLAY/
// "wayland-0" chain, letting the server's add_socket(name) (§4.7) share
// this resolution logic with client Connect.
func ResolveSocketPathNamed(name string, requireRuntimeDir bool) (path string, fellBack bool, err error) {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		if requireRuntimeDir {
			return "", false, ErrRuntimeDirUnset
		}
		dir = "."
		fellBack = true
	}
	if name == "" {
		name = os.Getenv("WAYLAND_DISPLAY")
	}
	if name == "" {
		name = "wayland-0"
	}
	path = filepath.Join(dir, name)
	if len(path)+1 > maxSockaddrUnPath {
		return "", fellBack, ErrNameTooLong
	}
	return path, fellBack, nil
}

// Connection owns one stream socket, its inbound and outbound wire buffers,
// and reports readable/writable interest transitions through onInterest so
// an endpoint can re-register against its event loop (§4.2).
type Connection struct {
	conn *net.UnixConn

	inbound  *ByteRing
	outbound *ByteRing
	inFDs    *FDRing
	outFDs   *FDRing

	state State

	readable, writable bool
	onInterest         func(readable, writable bool)

	fd int
}

// NewConnection wraps an already-connected or accepted Unix socket.
func NewConnection(conn *net.UnixConn, onInterest func(readable, writable bool)) *Connection {
	c := &Connection{
		conn:       conn,
		inbound:    NewByteRing(DefaultCapacity),
		outbound:   NewByteRing(DefaultCapacity),
		inFDs:      NewFDRing(),
		outFDs:     NewFDRing(),
		readable:   true,
		onInterest: onInterest,
	}
	if raw, err := conn.SyscallConn(); err == nil {
		_ = raw.Control(func(fd uintptr) { c.fd = int(fd) })
	}
	return c
}

// State reports the connection's lifecycle state.
func (c *Connection) State() State { return c.state }

// Fd returns the underlying socket descriptor, for registration against
// an eventloop.Loop readiness source. The connection retains ownership;
// callers must not close it directly.
func (c *Connection) Fd() int { return c.fd }

// Inbound exposes the inbound byte ring to the dispatcher.
func (c *Connection) Inbound() *ByteRing { return c.inbound }

// InboundFDs exposes the inbound descriptor ring to the argument codec.
func (c *Connection) InboundFDs() *FDRing { return c.inFDs }

// Drain performs at most one non-blocking read and, if interest is set, one
// non-blocking write. It returns the number of bytes now buffered inbound,
// or an error if the connection died. Partial I/O is normal and not an error.
func (c *Connection) Drain() (int, error) {
	if c.state == StateDead {
		return 0, ErrConnDead
	}
	if c.readable {
		if err := c.readOnce(); err != nil {
			return 0, c.fail(err)
		}
	}
	if c.writable || c.outbound.Len() > 0 {
		if err := c.writeOnce(); err != nil {
			return 0, c.fail(err)
		}
	}
	return c.inbound.Len(), nil
}

func (c *Connection) readOnce() error {
	buf := make([]byte, c.inbound.Free())
	if len(buf) == 0 {
		return nil
	}
	oob := make([]byte, unix.CmsgSpace(64*4))
	// A deadline already in the past fails the call before any syscall is
	// made; a short future one lets the runtime try the read once and give
	// up soon after if it would block.
	_ = c.conn.SetReadDeadline(time.Now().Add(tryOnceWindow))
	n, oobn, _, _, err := c.conn.ReadMsgUnix(buf, oob)
	if err != nil {
		if isTimeoutOrWouldBlock(err) {
			return nil
		}
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		return err
	}
	if n == 0 && oobn == 0 {
		// orderly shutdown by the peer
		c.state = StateDraining
		return nil
	}
	offset := c.inbound.Len()
	c.inbound.Write(buf[:n])
	if oobn > 0 {
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil {
			for _, scm := range scms {
				fds, err := unix.ParseUnixRights(&scm)
				if err != nil {
					continue
				}
				for _, fd := range fds {
					c.inFDs.PushFD(offset, fd)
				}
			}
		}
	}
	return nil
}

// writeOnce performs at most one non-blocking write of whatever is
// currently buffered in outbound, together with every fd queued in outFDs
// (they travel as one ancillary-data payload on the same syscall, §4.2).
// fds are popped before the write and pushed back, in order, if nothing
// could be sent at all, so a would-block leaves the ring's accounting
// exactly as Send left it.
func (c *Connection) writeOnce() error {
	if c.outbound.Len() == 0 {
		c.setInterest(c.readable, false)
		return nil
	}
	msg, err := c.outbound.Copy(c.outbound.Len())
	if err != nil {
		return err
	}
	var fds []int
	for {
		fd, err := c.outFDs.PopFD()
		if err != nil {
			break
		}
		fds = append(fds, fd)
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(tryOnceWindow))
	n, _, err := c.conn.WriteMsgUnix(msg, oob, nil)
	if err != nil {
		if isTimeoutOrWouldBlock(err) {
			for _, fd := range fds {
				c.outFDs.PushFD(0, fd)
			}
			c.setInterest(c.readable, true)
			return nil
		}
		return err
	}
	_ = c.outbound.Consume(n)
	c.setInterest(c.readable, c.outbound.Len() > 0)
	return nil
}

// Send appends a fully framed message, with any fds it carries, to the
// outbound ring and attempts a non-blocking flush (§4.2). A message is
// never split across the ring's fixed capacity: if it does not fit even
// after an opportunistic flush, nothing is queued, writable interest is
// raised, and ErrRingFull is returned so the caller can retry once the
// peer has drained some of the backlog. If the message was queued but not
// fully flushed by the time Send returns, ErrWouldBlock is returned; this
// is the normal back-pressure case and is not fatal.
func (c *Connection) Send(buf []byte, fds []int) error {
	if c.state == StateDead {
		return ErrConnDead
	}
	if err := c.writeOnce(); err != nil {
		return c.fail(err)
	}
	if len(buf) > c.outbound.Free() {
		c.setInterest(c.readable, true)
		return ErrRingFull
	}
	offset := c.outbound.Len()
	if n := c.outbound.Write(buf); n != len(buf) {
		return ErrRingFull
	}
	for _, fd := range fds {
		c.outFDs.PushFD(offset, fd)
	}
	if err := c.writeOnce(); err != nil {
		return c.fail(err)
	}
	if c.outbound.Len() > 0 {
		return ErrWouldBlock
	}
	return nil
}

func (c *Connection) fail(err error) error {
	c.state = StateDead
	c.inFDs.Drain(func(fd int) error { return unix.Close(fd) })
	c.outFDs.Drain(func(fd int) error { return unix.Close(fd) })
	return err
}

func (c *Connection) setInterest(readable, writable bool) {
	if c.readable == readable && c.writable == writable {
		return
	}
	c.readable, c.writable = readable, writable
	if c.onInterest != nil {
		c.onInterest(readable, writable)
	}
}

// Close marks the connection dead and releases the underlying socket and
// any descriptors still owned by the inbound ring.
func (c *Connection) Close() error {
	wasDead := c.state == StateDead
	c.state = StateDead
	c.inFDs.Drain(func(fd int) error { return unix.Close(fd) })
	c.outFDs.Drain(func(fd int) error { return unix.Close(fd) })
	if err := c.conn.Close(); err != nil && !(wasDead && errors.Is(err, net.ErrClosed)) {
		return err
	}
	return nil
}

func isTimeoutOrWouldBlock(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
