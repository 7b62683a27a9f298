// Package dispatch implements the per-message inbound processing loop
// shared by the client and server endpoints (spec component
// "dispatcher", §4.5): header peek, receiver resolution, decode, and
// synchronous handler invocation, strictly in arrival order.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/CSRedRat/wayland/internal/objects"
	"github.com/CSRedRat/wayland/internal/wire"
	"github.com/CSRedRat/wayland/internal/wlproto"
)

// Role distinguishes which side of the connection this dispatcher serves:
// a server dispatches requests and posts protocol errors to the offender;
// a client dispatches events and latches a fatal flag instead.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Handler is invoked synchronously with the decoded argument vector for
// one opcode on one receiver. It runs to completion before the next
// message is even decoded (§4.5: "the dispatcher never interleaves").
type Handler func(receiver uint32, args []wlproto.Arg) error

// HandlerTable maps an opcode to its handler; it is stored in
// objects.Record.Handlers for every live proxy/resource.
type HandlerTable map[uint16]Handler

var ErrFatal = errors.New("dispatch: connection is in the fatal-error state")

// Dispatcher ties one Connection, its id map, and a role together.
type Dispatcher struct {
	Conn *wire.Connection
	IDs  *objects.Map
	Role Role
	// Debug enables the WAYLAND_DEBUG wire trace: one log line per
	// dispatched message with its decoded opcode and arguments.
	Debug bool

	fatal bool
}

// New builds a dispatcher over an already-established connection.
func New(conn *wire.Connection, ids *objects.Map, role Role, debug bool) *Dispatcher {
	return &Dispatcher{Conn: conn, IDs: ids, Role: role, Debug: debug}
}

// Fatal reports whether the client-side fatal-error flag is set. Once set,
// every subsequent Iterate call returns ErrFatal without touching the
// wire until the endpoint is torn down and recreated (§7).
func (d *Dispatcher) Fatal() bool { return d.fatal }

// Fail latches the fatal-error flag. The dispatcher itself only does this
// on an invalid-method decode; the client endpoint also calls it from the
// built-in `error` event handler (§4.6, §7: "an error event from the peer
// ... sets the fatal flag on the client").
func (d *Dispatcher) Fail() { d.fatal = true }

// Iterate drains whatever complete messages are currently buffered
// inbound and dispatches each exactly once, in arrival order. It returns
// the count dispatched. A partial trailing message is left buffered for
// the next call.
func (d *Dispatcher) Iterate() (int, error) {
	if d.fatal {
		return 0, ErrFatal
	}
	dispatched := 0
	for {
		header, ok, err := d.peekHeader()
		if err != nil {
			return dispatched, err
		}
		if !ok {
			return dispatched, nil
		}
		if err := d.dispatchOne(header); err != nil {
			return dispatched, err
		}
		dispatched++
	}
}

func (d *Dispatcher) peekHeader() (wire.Header, bool, error) {
	in := d.Conn.Inbound()
	raw, err := in.Copy(wire.HeaderLen)
	if err != nil {
		return wire.Header{}, false, nil // fewer than 8 bytes buffered, wait
	}
	h, err := wire.DecodeHeader(raw)
	if err != nil {
		// framing error: fatal for this connection
		d.Conn.Close()
		return wire.Header{}, false, fmt.Errorf("dispatch: framing: %w", err)
	}
	if in.Len() < int(h.Size) {
		return wire.Header{}, false, nil // message not fully buffered yet
	}
	return h, true, nil
}

func (d *Dispatcher) dispatchOne(h wire.Header) error {
	in := d.Conn.Inbound()
	full, err := in.Copy(int(h.Size))
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	payload := full[wire.HeaderLen:]

	side, state, record, ok := d.IDs.LookupAny(h.Receiver)
	if !ok {
		in.Consume(int(h.Size))
		if d.Role == RoleServer {
			return d.postError(wlproto.EventInvalidObject, "u", []wlproto.Arg{wlproto.ArgUint(h.Receiver)})
		}
		log.Warn().Uint32("receiver", h.Receiver).Msg("event for unknown object")
		return nil
	}
	if state == objects.Zombie {
		in.Consume(int(h.Size))
		return nil // absorbed silently, no handler invoked
	}

	desc, _ := record.Interface.(*wlproto.InterfaceDescriptor)
	var msg wlproto.MessageDescriptor
	if d.Role == RoleServer {
		msg, ok = desc.Request(h.Opcode)
	} else {
		msg, ok = desc.Event(h.Opcode)
	}
	if !ok {
		in.Consume(int(h.Size))
		return d.invalidMethod(h)
	}

	args, err := wlproto.DecodeArgs(d.IDs, d.Conn.InboundFDs(), msg.Signature, payload)
	in.Consume(int(h.Size))
	if err != nil {
		return d.invalidMethod(h)
	}

	if d.Debug {
		log.Trace().
			Str("role", roleName(d.Role)).
			Uint32("receiver", h.Receiver).
			Uint16("opcode", h.Opcode).
			Str("message", msg.Name).
			Interface("args", args).
			Msg("wire trace")
	}

	table, _ := record.Handlers.(HandlerTable)
	handler, ok := table[h.Opcode]
	if !ok {
		return nil // no handler registered for this opcode; not an error
	}
	_ = side
	return handler(h.Receiver, args)
}

func (d *Dispatcher) invalidMethod(h wire.Header) error {
	if d.Role == RoleServer {
		return d.postError(wlproto.EventInvalidMethod, "uu", []wlproto.Arg{wlproto.ArgUint(h.Receiver), wlproto.ArgUint(uint32(h.Opcode))})
	}
	d.fatal = true
	return nil
}

func (d *Dispatcher) postError(opcode uint16, sig string, args []wlproto.Arg) error {
	buf, fds, _, err := wlproto.EncodeMessage(d.IDs, objects.ServerSide, wlproto.DisplayID, opcode, sig, args)
	if err != nil {
		return fmt.Errorf("dispatch: encode protocol error: %w", err)
	}
	return d.Conn.Send(buf, fds)
}

func roleName(r Role) string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}
