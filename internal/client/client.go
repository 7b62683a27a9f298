// Package client implements the client endpoint (spec §4.6): connection
// setup over the fd-inherit or dial path, the display-singleton built-in
// event handler, the proxy factory, and the sync-based round-trip idiom.
package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/CSRedRat/wayland/internal/dispatch"
	"github.com/CSRedRat/wayland/internal/eventloop"
	"github.com/CSRedRat/wayland/internal/objects"
	"github.com/CSRedRat/wayland/internal/registry"
	"github.com/CSRedRat/wayland/internal/wire"
	"github.com/CSRedRat/wayland/internal/wlproto"
)

var (
	// ErrNotUnixSocket is returned when WAYLAND_SOCKET names a descriptor
	// that isn't a Unix stream socket.
	ErrNotUnixSocket = errors.New("client: WAYLAND_SOCKET is not a unix socket")
	// ErrListenerAlreadyAttached mirrors objects.Map's "attach only once".
	ErrListenerAlreadyAttached = errors.New("client: listener already attached")
)

// GlobalListener is notified of every global currently advertised at
// registration time (the replay, §3) and of every later add/remove.
type GlobalListener struct {
	OnAdded   func(registry.Global)
	OnRemoved func(name uint32)
}

// Client is one connection to a display server: its wire connection, id
// map, dispatcher, event loop registration, and global-registry mirror.
type Client struct {
	conn *wire.Connection
	ids  *objects.Map
	disp *dispatch.Dispatcher
	loop *eventloop.Loop

	globals   *registry.Store
	listeners []GlobalListener

	// rangeNext/rangeEnd track the server-granted high-range id window
	// this connection currently draws from for bind's new_id (§3/§12):
	// distinct from the client-local low range used for proxies and
	// sync/frame callbacks, which are never server-granted.
	rangeNext, rangeEnd uint32

	debug bool
}

// Connect obtains a socket per §4.6/§12 (WAYLAND_SOCKET fd-inheritance
// first, otherwise dialing $XDG_RUNTIME_DIR/$WAYLAND_DISPLAY) and builds
// a Client around it, with id 1 reserved for the display singleton and
// the five built-in event handlers (error, global, global_remove,
// delete_id, range) installed.
func Connect() (*Client, error) {
	uc, err := dialSocket()
	if err != nil {
		return nil, err
	}
	return newClient(uc)
}

func dialSocket() (*net.UnixConn, error) {
	if raw := os.Getenv("WAYLAND_SOCKET"); raw != "" {
		return inheritSocket(raw)
	}
	path, fellBack, err := wire.ResolveSocketPath(true)
	if err != nil {
		return nil, fmt.Errorf("client: resolve socket path: %w", err)
	}
	if fellBack {
		log.Warn().Msg("client: XDG_RUNTIME_DIR unset despite being required; this should not happen")
	}
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", path, err)
	}
	return conn, nil
}

// inheritSocket implements the WAYLAND_SOCKET fd-inheritance path: parse
// the variable as a decimal fd, unset it so a child process of this one
// doesn't also try to inherit it, and mark it close-on-exec before use.
func inheritSocket(raw string) (*net.UnixConn, error) {
	fd, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("client: invalid WAYLAND_SOCKET %q: %w", raw, err)
	}
	if err := os.Unsetenv("WAYLAND_SOCKET"); err != nil {
		return nil, fmt.Errorf("client: unset WAYLAND_SOCKET: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		return nil, fmt.Errorf("client: set close-on-exec on inherited fd: %w", err)
	}
	f := os.NewFile(uintptr(fd), "wayland-socket")
	defer f.Close()
	genericConn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("client: wrap inherited fd: %w", err)
	}
	uc, ok := genericConn.(*net.UnixConn)
	if !ok {
		genericConn.Close()
		return nil, ErrNotUnixSocket
	}
	return uc, nil
}

func newClient(uc *net.UnixConn) (*Client, error) {
	debug := os.Getenv(wireDebugEnv) != ""
	ids := objects.New()
	loop := eventloop.New()

	var conn *wire.Connection
	conn = wire.NewConnection(uc, func(readable, writable bool) {
		loop.SetInterest(conn.Fd(), readable, writable)
	})
	loop.Register(conn.Fd(), true, false, func(readable, writable bool) {
		_, _ = conn.Drain()
	})

	c := &Client{
		conn:    conn,
		ids:     ids,
		disp:    dispatch.New(conn, ids, dispatch.RoleClient, debug),
		loop:    loop,
		globals: registry.New(),
		debug:   debug,
	}

	if err := ids.InsertAt(objects.ClientSide, wlproto.DisplayID, objects.Record{Interface: wlproto.Display}); err != nil {
		return nil, fmt.Errorf("client: reserve display id: %w", err)
	}
	handlers := dispatch.HandlerTable{
		wlproto.EventError:        c.handleError,
		wlproto.EventGlobal:       c.handleGlobal,
		wlproto.EventGlobalRemove: c.handleGlobalRemove,
		wlproto.EventDeleteID:     c.handleDeleteID,
		wlproto.EventRange:        c.handleRange,
	}
	if err := ids.Attach(objects.ClientSide, wlproto.DisplayID, handlers); err != nil {
		return nil, fmt.Errorf("client: attach display handlers: %w", err)
	}
	return c, nil
}

const wireDebugEnv = "WAYLAND_DEBUG"

// Fatal reports whether the dispatcher's fatal-error flag is set; once
// true every Iterate/Roundtrip fails until the Client is recreated (§7).
func (c *Client) Fatal() bool { return c.disp.Fatal() }

// Create allocates a fresh client-side proxy id for iface and registers
// it in the id map, unattached (§4.6 proxy factory).
func (c *Client) Create(iface *wlproto.InterfaceDescriptor) uint32 {
	return c.ids.InsertNew(objects.ClientSide, objects.Record{Interface: iface})
}

// CreateAt places a proxy at a peer-nominated id (§4.6 create_at). Inbound
// `n` arguments do not go through it: wlproto.DecodeArgs registers those
// ids in the id map itself.
func (c *Client) CreateAt(id uint32, iface *wlproto.InterfaceDescriptor) error {
	return c.ids.InsertAt(objects.SideOf(id), id, objects.Record{Interface: iface})
}

// AddListener attaches handlers to the proxy at id exactly once (§4.6);
// a second call fails with ErrListenerAlreadyAttached.
func (c *Client) AddListener(id uint32, handlers dispatch.HandlerTable) error {
	err := c.ids.Attach(objects.SideOf(id), id, handlers)
	if errors.Is(err, objects.ErrAlreadyAttached) {
		return ErrListenerAlreadyAttached
	}
	return err
}

// Destroy transitions a client-allocated id to zombie (§4.8): the slot
// absorbs further inbound traffic until the server's delete_id arrives.
// The interface-specific destroy request itself (out of core scope) must
// already have been sent by the caller before Destroy is called.
func (c *Client) Destroy(id uint32) error {
	return c.ids.Zombie(id)
}

// Send encodes and queues one outbound message for id's receiver,
// allocating any `n` arguments on the client side, and returns the ids
// assigned to them in signature order.
func (c *Client) Send(receiver uint32, opcode uint16, sig string, args []wlproto.Arg) ([]uint32, error) {
	buf, fds, newIDs, err := wlproto.EncodeMessage(c.ids, objects.ClientSide, receiver, opcode, sig, args)
	if err != nil {
		return nil, fmt.Errorf("client: encode: %w", err)
	}
	if err := c.conn.Send(buf, fds); err != nil && !errors.Is(err, wire.ErrWouldBlock) {
		return nil, fmt.Errorf("client: send: %w", err)
	}
	return newIDs, nil
}

// Bind issues the display's bind request for name/interfaceName/version.
// The bound resource's id is drawn from the server-granted high range
// (§3/§12), not the client-local low range Create uses for ephemeral
// proxies, since the server — not the client — owns that id partition.
func (c *Client) Bind(name uint32, interfaceName string, version uint32, iface *wlproto.InterfaceDescriptor) (uint32, error) {
	id, err := c.nextRangeID()
	if err != nil {
		return 0, err
	}
	if err := c.ids.InsertAt(objects.ServerSide, id, objects.Record{Interface: iface}); err != nil {
		return 0, fmt.Errorf("client: reserve bind id: %w", err)
	}
	_, err = c.Send(wlproto.DisplayID, wlproto.RequestBind, "usun", []wlproto.Arg{
		wlproto.ArgUint(name),
		wlproto.ArgString(interfaceName),
		wlproto.ArgUint(version),
		wlproto.ArgNewID(id),
	})
	if err != nil {
		c.ids.Remove(objects.ServerSide, id)
		return 0, err
	}
	return id, nil
}

// nextRangeID draws the next id from the current server-granted window.
// It fails if no range has been granted yet; the server sends its first
// `range` event immediately after accepting the connection (§4.7), before
// any bind can meaningfully occur.
func (c *Client) nextRangeID() (uint32, error) {
	if c.rangeNext == 0 || c.rangeNext >= c.rangeEnd {
		return 0, errors.New("client: no server-granted id range available yet")
	}
	id := c.rangeNext
	c.rangeNext++
	return id, nil
}

func (c *Client) handleRange(_ uint32, args []wlproto.Arg) error {
	base := args[0].Uint
	c.rangeNext = base
	c.rangeEnd = base + wlproto.RangeSize
	return nil
}

// Globals returns every global currently advertised, in the order it was
// first advertised.
func (c *Client) Globals() []registry.Global {
	return c.globals.Snapshot()
}

// OnGlobal registers l and immediately replays the current global
// snapshot through OnAdded, satisfying the §8 replay law for listeners
// registered after globals already exist.
func (c *Client) OnGlobal(l GlobalListener) {
	c.listeners = append(c.listeners, l)
	if l.OnAdded == nil {
		return
	}
	for _, g := range c.globals.Snapshot() {
		l.OnAdded(g)
	}
}

// Roundtrip issues a sync request bound to a fresh callback id, flushes
// it, and iterates the dispatcher until that callback fires. The done
// accumulator is declared and zero-initialised immediately before the
// loop, never read before that point (§9's corrected accumulator bug).
func (c *Client) Roundtrip() (int, error) {
	done := false
	callbackID := c.ids.InsertNew(objects.ClientSide, objects.Record{Interface: wlproto.Callback})
	handler := dispatch.HandlerTable{
		wlproto.EventCallbackDone: func(_ uint32, _ []wlproto.Arg) error {
			done = true
			return c.ids.Zombie(callbackID)
		},
	}
	if err := c.ids.Attach(objects.ClientSide, callbackID, handler); err != nil {
		return 0, fmt.Errorf("client: attach sync callback: %w", err)
	}
	if _, err := c.Send(wlproto.DisplayID, wlproto.RequestSync, "n", []wlproto.Arg{wlproto.ArgNewID(callbackID)}); err != nil {
		return 0, err
	}

	total := 0
	for !done {
		if c.disp.Fatal() {
			return total, dispatch.ErrFatal
		}
		if _, err := c.conn.Drain(); err != nil {
			return total, fmt.Errorf("client: drain: %w", err)
		}
		n, err := c.disp.Iterate()
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 && !done {
			if _, err := c.loop.RunOnce(); err != nil {
				return total, fmt.Errorf("client: poll: %w", err)
			}
		}
	}
	return total, nil
}

// Iterate drains one non-blocking I/O pass and dispatches whatever
// complete messages are now buffered, without blocking for more.
func (c *Client) Iterate() (int, error) {
	if _, err := c.conn.Drain(); err != nil {
		return 0, fmt.Errorf("client: drain: %w", err)
	}
	return c.disp.Iterate()
}

// Run blocks the calling goroutine in the event loop, draining and
// dispatching as the connection becomes ready, until stop is closed.
func (c *Client) Run(stop <-chan struct{}) error {
	return c.loop.Run(stop)
}

// Close tears down the connection. The Client must not be used again.
func (c *Client) Close() error {
	c.loop.Deregister(c.conn.Fd())
	return c.conn.Close()
}

func (c *Client) handleError(_ uint32, args []wlproto.Arg) error {
	log.Error().
		Uint32("object", args[0].Object).
		Uint32("code", args[1].Uint).
		Str("message", args[2].String).
		Msg("client: protocol error from server")
	c.disp.Fail()
	return nil
}

func (c *Client) handleGlobal(_ uint32, args []wlproto.Arg) error {
	g := registry.Global{Name: args[0].Uint, Interface: args[1].String, Version: args[2].Uint}
	c.globals.Mirror(g)
	for _, l := range c.listeners {
		if l.OnAdded != nil {
			l.OnAdded(g)
		}
	}
	return nil
}

func (c *Client) handleGlobalRemove(_ uint32, args []wlproto.Arg) error {
	name := args[0].Uint
	c.globals.Remove(name)
	for _, l := range c.listeners {
		if l.OnRemoved != nil {
			l.OnRemoved(name)
		}
	}
	return nil
}

func (c *Client) handleDeleteID(_ uint32, args []wlproto.Arg) error {
	id := args[0].Uint
	state, _, ok := c.ids.Lookup(objects.ClientSide, id)
	if ok && state == objects.Zombie {
		return c.ids.Remove(objects.ClientSide, id)
	}
	log.Warn().Uint32("id", id).Msg("client: delete_id for live object")
	return nil
}
