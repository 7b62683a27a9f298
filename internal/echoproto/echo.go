// Package echoproto is a minimal demo interface used by cmd/wlecho to
// exercise the bind/request/event path end to end: one request that sends
// a string and one event that echoes it back.
package echoproto

import "github.com/CSRedRat/wayland/internal/wlproto"

// Echo is advertised as a global under the name "wl_demo_echo".
var Echo = &wlproto.InterfaceDescriptor{
	Name:    "wl_demo_echo",
	Version: 1,
	Requests: []wlproto.MessageDescriptor{
		RequestSend: {Name: "send", Signature: "s"},
	},
	Events: []wlproto.MessageDescriptor{
		EventMessage: {Name: "message", Signature: "s"},
	},
}

const (
	RequestSend uint16 = 0
)

const (
	EventMessage uint16 = 0
)
