package wlproto

// Callback is the anonymous one-shot interface a `sync` or `frame`
// request's new-id resolves to: a single `done` event and nothing else.
var Callback = &InterfaceDescriptor{
	Name:    "wl_callback",
	Version: 1,
	Events: []MessageDescriptor{
		EventCallbackDone: {Name: "done", Signature: "u"},
	},
}

// EventCallbackDone is wl_callback's only opcode.
const EventCallbackDone uint16 = 0

// Display is the built-in interface every connection exposes at object
// id 1 (§6): the bind/sync/frame requests and the error/global/
// global_remove/delete_id/invalid_object/invalid_method/no_memory/range
// events that glue the two endpoints together.
var Display = &InterfaceDescriptor{
	Name:    "wl_display",
	Version: 1,
	Requests: []MessageDescriptor{
		RequestBind:  {Name: "bind", Signature: "usun"},
		RequestSync:  {Name: "sync", Signature: "n", NewIDInterface: Callback},
		RequestFrame: {Name: "frame", Signature: "n", NewIDInterface: Callback},
	},
	Events: []MessageDescriptor{
		EventError:         {Name: "error", Signature: "ous"},
		EventGlobal:        {Name: "global", Signature: "usu"},
		EventGlobalRemove:  {Name: "global_remove", Signature: "u"},
		EventDeleteID:      {Name: "delete_id", Signature: "u"},
		EventInvalidObject: {Name: "invalid_object", Signature: "u"},
		EventInvalidMethod: {Name: "invalid_method", Signature: "uu"},
		EventNoMemory:      {Name: "no_memory", Signature: ""},
		EventRange:         {Name: "range", Signature: "u"},
	},
}

// Request opcodes for wl_display.
const (
	RequestBind  uint16 = 0
	RequestSync  uint16 = 1
	RequestFrame uint16 = 2
)

// Event opcodes for wl_display.
const (
	EventError         uint16 = 0
	EventGlobal        uint16 = 1
	EventGlobalRemove  uint16 = 2
	EventDeleteID      uint16 = 3
	EventInvalidObject uint16 = 4
	EventInvalidMethod uint16 = 5
	EventNoMemory      uint16 = 6
	EventRange         uint16 = 7
)

// DisplayID is the fixed object id every connection reserves for the
// built-in display singleton.
const DisplayID uint32 = 1

// RangeSize and RefillWatermark are the server-allocated id-range grant
// constants carried over from the original source (§12): clients are
// handed 256 ids at a time and get a refill once fewer than 64 remain.
const (
	RangeSize       = 256
	RefillWatermark = 64
)
