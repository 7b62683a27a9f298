package server

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/CSRedRat/wayland/internal/dispatch"
	"github.com/CSRedRat/wayland/internal/objects"
	"github.com/CSRedRat/wayland/internal/registry"
	"github.com/CSRedRat/wayland/internal/wire"
	"github.com/CSRedRat/wayland/internal/wlproto"
)

// Client is one accepted connection: its own wire connection, its own id
// map (with the display singleton reserved at id 1, independent of every
// other connected client), its own dispatcher, and the bookkeeping the
// built-in bind/sync/frame request handlers need.
type Client struct {
	server *Server
	conn   *wire.Connection
	ids    *objects.Map
	disp   *dispatch.Dispatcher

	// rangeNext/rangeEnd is the window of server-allocated ids this
	// connection is currently permitted to mint via bind (§3/§12).
	rangeNext, rangeEnd uint32

	// resources is every server-side resource created for this client
	// (via bind), in creation order: teardown walks it oldest-first
	// (§12's resolved ordering correction), running each one's destroy
	// hook before freeing its id-map slot.
	resources []resourceEntry

	closed bool
}

// resourceEntry pairs a bound resource id with the destroy hook an
// application may have attached via SetDestroyHook. destroy is nil unless
// explicitly set: most resources need no teardown-time side effect beyond
// freeing the id-map slot, which teardown always does regardless.
type resourceEntry struct {
	id      uint32
	destroy func()
}

func newServerClient(s *Server, conn *net.UnixConn) *Client {
	debug := s.debug
	ids := objects.New()

	var wc *wire.Connection
	wc = wire.NewConnection(conn, func(readable, writable bool) {
		s.loop.SetInterest(wc.Fd(), readable, writable)
	})

	c := &Client{server: s, conn: wc, ids: ids}
	c.disp = dispatch.New(wc, ids, dispatch.RoleServer, debug)

	s.loop.Register(wc.Fd(), true, false, func(readable, writable bool) {
		if _, err := wc.Drain(); err != nil {
			log.Error().Err(err).Msg("server: drain")
			s.removeClient(c)
			return
		}
		if _, err := c.disp.Iterate(); err != nil {
			log.Error().Err(err).Msg("server: dispatch")
			s.removeClient(c)
		}
	})

	if err := ids.InsertAt(objects.ClientSide, wlproto.DisplayID, objects.Record{Interface: wlproto.Display}); err != nil {
		panic(fmt.Sprintf("server: reserve display id: %v", err))
	}
	handlers := dispatch.HandlerTable{
		wlproto.RequestBind:  c.handleBind,
		wlproto.RequestSync:  c.handleSync,
		wlproto.RequestFrame: c.handleFrame,
	}
	if err := ids.Attach(objects.ClientSide, wlproto.DisplayID, handlers); err != nil {
		panic(fmt.Sprintf("server: attach display handlers: %v", err))
	}
	return c
}

// grantRange hands this client a fresh window of server-allocatable ids
// and sends the `range` event announcing it (§3/§12). The first grant
// starts at objects.ServerIDStart; later grants, once the watermark from
// RefillWatermark is crossed, continue from rangeEnd.
func (c *Client) grantRange() error {
	base := c.rangeEnd
	if base == 0 {
		base = objects.ServerIDStart
	}
	c.rangeNext = base
	c.rangeEnd = base + wlproto.RangeSize
	return c.postEvent(wlproto.DisplayID, wlproto.EventRange, "u", []wlproto.Arg{wlproto.ArgUint(base)})
}

// maybeRefillRange grants a fresh window once fewer than RefillWatermark
// ids remain below the end of the window the last bind's id fell in.
func (c *Client) maybeRefillRange(consumed uint32) {
	if c.rangeEnd == 0 || consumed < c.rangeNext || consumed >= c.rangeEnd {
		return
	}
	if c.rangeEnd-consumed <= wlproto.RefillWatermark {
		if err := c.grantRange(); err != nil {
			log.Error().Err(err).Msg("server: grant id range")
		}
	}
}

// postEvent encodes and sends one server-originated message on this
// client's connection.
func (c *Client) postEvent(receiver uint32, opcode uint16, sig string, args []wlproto.Arg) error {
	buf, fds, _, err := wlproto.EncodeMessage(c.ids, objects.ServerSide, receiver, opcode, sig, args)
	if err != nil {
		return fmt.Errorf("server: encode: %w", err)
	}
	if err := c.conn.Send(buf, fds); err != nil && !errors.Is(err, wire.ErrWouldBlock) {
		return fmt.Errorf("server: send: %w", err)
	}
	return nil
}

func (c *Client) postGlobal(g registry.Global) {
	err := c.postEvent(wlproto.DisplayID, wlproto.EventGlobal, "usu", []wlproto.Arg{
		wlproto.ArgUint(g.Name), wlproto.ArgString(g.Interface), wlproto.ArgUint(g.Version),
	})
	if err != nil {
		log.Error().Err(err).Msg("server: post global")
	}
}

func (c *Client) postGlobalRemove(name uint32) {
	err := c.postEvent(wlproto.DisplayID, wlproto.EventGlobalRemove, "u", []wlproto.Arg{wlproto.ArgUint(name)})
	if err != nil {
		log.Error().Err(err).Msg("server: post global_remove")
	}
}

// handleBind checks the requested name and interface against the
// registered globals, registers the new-id DecodeArgs already
// auto-inserted as a bare record as one of this client's resources, and
// runs the global's bind hook if it has one (§4.7's bind handling, §9's
// resolved nil-hook case). handleBind itself attaches no interface
// descriptor; the hook does that via SetInterface.
func (c *Client) handleBind(_ uint32, args []wlproto.Arg) error {
	name := args[0].Uint
	interfaceName := args[1].String
	id := args[3].NewID

	g, ok := c.server.globals.Lookup(name)
	if !ok || g.Interface != interfaceName {
		return c.invalidBind(id, name)
	}
	c.resources = append(c.resources, resourceEntry{id: id})
	c.maybeRefillRange(id)

	hook := c.server.bindHooks[name]
	if hook == nil {
		return nil
	}
	return hook(c, g, id)
}

// SetInterface attaches the interface descriptor for a resource id this
// client created. DecodeArgs cannot know it at decode time — only the
// bind hook, which maps the global's interface name to a concrete
// *wlproto.InterfaceDescriptor, can supply it.
func (c *Client) SetInterface(id uint32, iface any) error {
	return c.ids.SetInterface(objects.SideOf(id), id, iface)
}

// AddHandlers attaches a request handler table to a resource this client
// created, exactly once, mirroring Client.AddListener on the client side.
func (c *Client) AddHandlers(id uint32, handlers dispatch.HandlerTable) error {
	return c.ids.Attach(objects.SideOf(id), id, handlers)
}

// SetDestroyHook attaches a destroy hook to a resource this client created
// via bind, run by teardown in registration order before that resource's
// id-map slot is freed (§4.7, grounded on wl_resource's own destroy
// callback in original_source/wayland/wayland-server.c). Replaces any hook
// already set for id. A resource with no hook set is simply freed.
func (c *Client) SetDestroyHook(id uint32, hook func()) {
	for i := range c.resources {
		if c.resources[i].id == id {
			c.resources[i].destroy = hook
			return
		}
	}
}

// PostEvent sends one event for a resource this client owns.
func (c *Client) PostEvent(receiver uint32, opcode uint16, sig string, args []wlproto.Arg) error {
	return c.postEvent(receiver, opcode, sig, args)
}

func (c *Client) invalidBind(id, name uint32) error {
	c.ids.Remove(objects.SideOf(id), id)
	return c.postEvent(wlproto.DisplayID, wlproto.EventError, "ous", []wlproto.Arg{
		wlproto.ArgObject(wlproto.DisplayID), wlproto.ArgUint(0),
		wlproto.ArgString(fmt.Sprintf("unknown global name %d", name)),
	})
}

// handleSync answers a sync request immediately: send `done` to the
// decoded callback id, then `delete_id` so the client can free the
// now-zombie slot it created for the callback (scenario 1's flow).
func (c *Client) handleSync(_ uint32, args []wlproto.Arg) error {
	return c.fireCallback(args[0].NewID)
}

// handleFrame defers its callback to the next PostFrame instead of
// firing immediately (§3 "Frame listener").
func (c *Client) handleFrame(_ uint32, args []wlproto.Arg) error {
	id := args[0].NewID
	c.server.frames = append(c.server.frames, frameListener{client: c, callbackID: id})
	return nil
}

func (c *Client) fireCallback(callbackID uint32) error {
	if err := c.postEvent(callbackID, wlproto.EventCallbackDone, "u", []wlproto.Arg{wlproto.ArgUint(0)}); err != nil {
		return err
	}
	c.ids.Remove(objects.SideOf(callbackID), callbackID)
	return c.postEvent(wlproto.DisplayID, wlproto.EventDeleteID, "u", []wlproto.Arg{wlproto.ArgUint(callbackID)})
}

// teardown runs every resource's destroy hook and frees its id-map slot,
// oldest first (§12's resolved ordering correction — not reverse), prunes
// this client's pending frame listeners, then closes the connection.
func (c *Client) teardown() {
	if c.closed {
		return
	}
	c.closed = true
	for _, r := range c.resources {
		if r.destroy != nil {
			r.destroy()
		}
		c.ids.Remove(objects.SideOf(r.id), r.id)
	}
	c.resources = nil
	c.server.removeFrames(c)
	c.server.loop.Deregister(c.conn.Fd())
	if err := c.conn.Close(); err != nil {
		log.Error().Err(err).Msg("server: close client connection")
	}
}
