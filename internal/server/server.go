// Package server implements the server endpoint (spec §4.7): the
// listening socket(s), client acceptance and id-range grant protocol,
// global advertisement, and resource/frame-listener bookkeeping.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/CSRedRat/wayland/internal/eventloop"
	"github.com/CSRedRat/wayland/internal/registry"
	"github.com/CSRedRat/wayland/internal/wire"
	"github.com/CSRedRat/wayland/internal/wlproto"
)

// BindFunc is invoked when a client binds a global; it creates and
// registers the resource at id. A nil hook is valid and simply means
// "nothing runs on bind" (§9's resolved add_global inconsistency).
type BindFunc func(c *Client, g registry.Global, id uint32) error

// Server owns the global registry, the listening socket(s), and the set
// of connected clients. The display singleton and its id namespace live
// per connection (internal/server/client.go), not here: two clients never
// share an id map.
type Server struct {
	globals *registry.Store
	loop    *eventloop.Loop

	bindHooks map[uint32]BindFunc
	clients   []*Client
	listeners []net.Listener

	debug bool

	frames []frameListener
}

// New builds an empty server and advertises the display interface itself
// as a global (§4.7).
func New() *Server {
	s := &Server{
		globals:   registry.New(),
		loop:      eventloop.New(),
		bindHooks: make(map[uint32]BindFunc),
		debug:     os.Getenv("WAYLAND_DEBUG") != "",
	}
	s.globals.Add(wlproto.Display.Name, wlproto.Display.Version)
	return s
}

// AddGlobal advertises a new global and pushes a `global` event to every
// already-connected client. A nil bind hook is accepted and means the
// bind request simply creates no resource-level side effect.
func (s *Server) AddGlobal(interfaceName string, version uint32, bind BindFunc) registry.Global {
	g := s.globals.Add(interfaceName, version)
	if bind != nil {
		s.bindHooks[g.Name] = bind
	}
	for _, c := range s.clients {
		c.postGlobal(g)
	}
	return g
}

// RemoveGlobal retires a global and pushes `global_remove` to every
// connected client.
func (s *Server) RemoveGlobal(name uint32) {
	if !s.globals.Remove(name) {
		return
	}
	delete(s.bindHooks, name)
	for _, c := range s.clients {
		c.postGlobalRemove(name)
	}
}

// AddSocket binds a listening local socket under the runtime directory
// (name defaults through the same WAYLAND_DISPLAY/"wayland-0" chain as
// the client) and registers it with the event loop: on readability it
// accepts and creates a client record.
func (s *Server) AddSocket(name string) (string, error) {
	path, fellBack, err := wire.ResolveSocketPathNamed(name, false)
	if err != nil {
		return "", fmt.Errorf("server: resolve socket path: %w", err)
	}
	if fellBack {
		log.Warn().Msg("server: XDG_RUNTIME_DIR unset, falling back to \".\"")
	}
	_ = os.Remove(path)
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return "", fmt.Errorf("server: listen %s: %w", path, err)
	}
	s.listeners = append(s.listeners, ln)

	lnFile, err := ln.File()
	if err != nil {
		return "", fmt.Errorf("server: export listener fd: %w", err)
	}
	fd := int(lnFile.Fd())
	s.loop.Register(fd, true, false, func(readable, writable bool) {
		if !readable {
			return
		}
		conn, err := ln.AcceptUnix()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Error().Err(err).Msg("server: accept")
			}
			return
		}
		if _, err := s.ClientCreate(conn); err != nil {
			log.Error().Err(err).Msg("server: create client")
		}
	})
	return path, nil
}

// ClientCreate wraps an accepted connection, grants the client its
// initial id range, and replays every global. It runs no bind hook: a
// global's hook runs only when this client sends a bind request for it
// (Client.handleBind), which the client can only do after this replay —
// so a hook can never observe a client that hasn't yet received the
// advertisement for the global it binds.
func (s *Server) ClientCreate(conn *net.UnixConn) (*Client, error) {
	c := newServerClient(s, conn)
	s.clients = append(s.clients, c)

	if err := c.grantRange(); err != nil {
		return nil, err
	}
	for _, g := range s.globals.Snapshot() {
		c.postGlobal(g)
	}
	return c, nil
}

// RunOnce performs one event-loop iteration across every listener and
// client connection.
func (s *Server) RunOnce() (int, error) { return s.loop.RunOnce() }

// Run blocks the calling goroutine in the event loop until stop closes.
func (s *Server) Run(stop <-chan struct{}) error { return s.loop.Run(stop) }

// PostFrame drains every queued frame listener across all clients, in
// registration order, firing each callback then removing it from the
// list (§3 "Frame listener").
func (s *Server) PostFrame() {
	pending := s.frames
	s.frames = nil
	for _, f := range pending {
		f.fire()
	}
}

// Close tears every client down, in the order they connected, and
// closes every listening socket.
func (s *Server) Close() error {
	for _, c := range s.clients {
		c.teardown()
	}
	s.clients = nil
	var firstErr error
	for _, ln := range s.listeners {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// removeClient tears c down and drops it from the connected-client list;
// safe to call more than once for the same client.
func (s *Server) removeClient(c *Client) {
	c.teardown()
	for i, existing := range s.clients {
		if existing == c {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			return
		}
	}
}

// removeFrames drops every pending frame listener belonging to c, so a
// later PostFrame never fires against a connection already torn down
// (§12: a frame listener is removed from the list on firing or on the
// client/listener's own destroy hook running first).
func (s *Server) removeFrames(c *Client) {
	kept := s.frames[:0]
	for _, f := range s.frames {
		if f.client != c {
			kept = append(kept, f)
		}
	}
	s.frames = kept
}
