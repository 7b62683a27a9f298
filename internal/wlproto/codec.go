package wlproto

import (
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/CSRedRat/wayland/internal/objects"
	"github.com/CSRedRat/wayland/internal/wire"
)

var (
	ErrInvalidObject    = errors.New("wlproto: invalid object")
	ErrInvalidMethod    = errors.New("wlproto: invalid method")
	ErrNoMemory         = errors.New("wlproto: allocation failure")
	ErrUnknownCode      = errors.New("wlproto: unknown signature code")
	ErrArgCountMismatch = errors.New("wlproto: argument count does not match signature")
)

// nativeOrder matches wire.Header's byte order; all multi-byte argument
// fields use the same single-host native order as the message header.
var nativeOrder = binary.LittleEndian

func pad4(n int) int { return (n + 3) &^ 3 }

// EncodeMessage builds the full header+payload byte buffer for one
// outbound message, the list of file descriptors it carries, and the ids
// assigned to any `n` (new-id) arguments, in signature order. side is the
// encoding endpoint's own allocation side: a `n` argument with
// Arg.NewID == 0 gets a fresh id allocated on that side (InsertNew on the
// client, or ErrNoMemory on the server, which cannot originate ids of its
// own); a caller that already pre-allocated the id — e.g. to attach a
// listener before the message is sent — passes it through ArgNewID(id)
// and it is reused as-is without a second allocation.
func EncodeMessage(ids *objects.Map, side objects.Side, receiver uint32, opcode uint16, sig string, args []Arg) ([]byte, []int, []uint32, error) {
	if len(sig) != len(args) {
		return nil, nil, nil, ErrArgCountMismatch
	}
	var payload []byte
	var fds []int
	var newIDs []uint32

	for i, code := range []byte(sig) {
		arg := args[i]
		if Code(code) != arg.Code {
			return nil, nil, nil, ErrUnknownCode
		}
		switch Code(code) {
		case CodeInt:
			payload = append(payload, put32(uint32(arg.Int))...)
		case CodeUint:
			payload = append(payload, put32(arg.Uint)...)
		case CodeFixed:
			payload = append(payload, put32(uint32(arg.Fixed))...)
		case CodeString:
			payload = append(payload, encodeString(arg.String)...)
		case CodeArray:
			payload = append(payload, encodeArray(arg.Array)...)
		case CodeObject:
			payload = append(payload, put32(arg.Object)...)
		case CodeNewID:
			id := arg.NewID
			if side == objects.ClientSide {
				if id == 0 {
					id = ids.InsertNew(objects.ClientSide, objects.Record{})
				}
			} else {
				if id == 0 {
					return nil, nil, nil, ErrNoMemory
				}
				if err := ids.InsertAt(objects.ServerSide, id, objects.Record{}); err != nil {
					return nil, nil, nil, err
				}
			}
			newIDs = append(newIDs, id)
			payload = append(payload, put32(id)...)
		case CodeFD:
			fds = append(fds, arg.FD)
		default:
			return nil, nil, nil, ErrUnknownCode
		}
	}

	total := wire.HeaderLen + len(payload)
	if total%4 != 0 {
		// every encoder above already emits 4-byte-aligned output; this
		// only trips if a future signature code breaks that invariant.
		return nil, nil, nil, errors.New("wlproto: payload not 4-byte aligned")
	}
	h := wire.Header{Receiver: receiver, Opcode: opcode, Size: uint16(total)}
	buf := append(h.Encode(), payload...)
	return buf, fds, newIDs, nil
}

// DecodeArgs reconstructs the typed argument vector from a message's
// payload (the bytes following the 8-byte header) per the signature. The
// side of a decoded `n` or `o` id is inferred from the id's own value
// against objects.ServerIDStart, exactly as objects.Map.LookupAny does.
//
// If a later argument fails to decode, every new-id already registered and
// every fd already popped earlier in this same call is unwound before the
// error is returned (§4.5 step 5, §5's fd-ownership rule): the id map must
// never be left holding an orphaned slot, and a popped-but-undelivered fd
// must never be leaked.
func DecodeArgs(ids *objects.Map, fds *wire.FDRing, sig string, payload []byte) ([]Arg, error) {
	args := make([]Arg, 0, len(sig))
	var allocated []uint32
	var popped []int
	off := 0

	rollback := func(err error) ([]Arg, error) {
		for _, id := range allocated {
			_ = ids.Remove(objects.SideOf(id), id)
		}
		for _, fd := range popped {
			_ = unix.Close(fd)
		}
		return nil, err
	}

	for _, code := range []byte(sig) {
		switch Code(code) {
		case CodeInt:
			v, err := get32(payload, off)
			if err != nil {
				return rollback(err)
			}
			args = append(args, ArgInt(int32(v)))
			off += 4
		case CodeUint:
			v, err := get32(payload, off)
			if err != nil {
				return rollback(err)
			}
			args = append(args, ArgUint(v))
			off += 4
		case CodeFixed:
			v, err := get32(payload, off)
			if err != nil {
				return rollback(err)
			}
			args = append(args, ArgFixed(Fixed(v)))
			off += 4
		case CodeString:
			s, n, err := decodeString(payload, off)
			if err != nil {
				return rollback(err)
			}
			args = append(args, ArgString(s))
			off += n
		case CodeArray:
			a, n, err := decodeArray(payload, off)
			if err != nil {
				return rollback(err)
			}
			args = append(args, ArgArray(a))
			off += n
		case CodeObject:
			id, err := get32(payload, off)
			if err != nil {
				return rollback(err)
			}
			off += 4
			if id != 0 {
				_, state, _, ok := ids.LookupAny(id)
				if !ok || state == objects.Zombie {
					return rollback(ErrInvalidObject)
				}
			}
			args = append(args, ArgObject(id))
		case CodeNewID:
			id, err := get32(payload, off)
			if err != nil {
				return rollback(err)
			}
			off += 4
			if id == 0 {
				return rollback(ErrInvalidMethod)
			}
			if err := ids.InsertAt(objects.SideOf(id), id, objects.Record{}); err != nil {
				return rollback(err)
			}
			allocated = append(allocated, id)
			args = append(args, ArgNewID(id))
		case CodeFD:
			fd, err := fds.PopFD()
			if err != nil {
				return rollback(ErrInvalidMethod)
			}
			popped = append(popped, fd)
			args = append(args, ArgFD(fd))
		default:
			return rollback(ErrUnknownCode)
		}
	}
	return args, nil
}

func put32(v uint32) []byte {
	buf := make([]byte, 4)
	nativeOrder.PutUint32(buf, v)
	return buf
}

func get32(payload []byte, off int) (uint32, error) {
	if off+4 > len(payload) {
		return 0, ErrInvalidMethod
	}
	return nativeOrder.Uint32(payload[off : off+4]), nil
}

func encodeString(s string) []byte {
	b := append([]byte(s), 0)
	length := len(b)
	out := make([]byte, 4+pad4(length))
	nativeOrder.PutUint32(out[0:4], uint32(length))
	copy(out[4:], b)
	return out
}

func decodeString(payload []byte, off int) (string, int, error) {
	length, err := get32(payload, off)
	if err != nil {
		return "", 0, err
	}
	start := off + 4
	if length == 0 {
		return "", 4, nil
	}
	end := start + int(length)
	if end > len(payload) {
		return "", 0, ErrInvalidMethod
	}
	// strip the trailing null the wire format always includes
	s := string(payload[start : end-1])
	return s, 4 + pad4(int(length)), nil
}

func encodeArray(v []byte) []byte {
	out := make([]byte, 4+pad4(len(v)))
	nativeOrder.PutUint32(out[0:4], uint32(len(v)))
	copy(out[4:], v)
	return out
}

func decodeArray(payload []byte, off int) ([]byte, int, error) {
	length, err := get32(payload, off)
	if err != nil {
		return nil, 0, err
	}
	start := off + 4
	end := start + int(length)
	if end > len(payload) {
		return nil, 0, ErrInvalidMethod
	}
	out := make([]byte, length)
	copy(out, payload[start:end])
	return out, 4 + pad4(int(length)), nil
}
