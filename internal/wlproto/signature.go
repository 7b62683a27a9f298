// Package wlproto implements the signature-driven argument codec and the
// static interface descriptor tables of the display-server wire protocol
// (spec component "argument codec", §4.4).
package wlproto

import "math"

// Code is one signature type code.
type Code byte

const (
	CodeInt    Code = 'i'
	CodeUint   Code = 'u'
	CodeFixed  Code = 'f'
	CodeString Code = 's'
	CodeObject Code = 'o'
	CodeNewID  Code = 'n'
	CodeArray  Code = 'a'
	CodeFD     Code = 'h'
)

// Fixed is a 24.8 fixed-point value.
type Fixed int32

// FixedFromFloat converts a float64 to its nearest 24.8 fixed-point value.
func FixedFromFloat(f float64) Fixed { return Fixed(math.Round(f * 256)) }

// Int is the integral part.
func (f Fixed) Int() int32 { return int32(f) >> 8 }

// Frac is the fractional part, in 256ths.
func (f Fixed) Frac() int32 { return int32(f) & 0xff }

// Float returns the fixed-point value as a float64.
func (f Fixed) Float() float64 { return float64(f) / 256 }

// Arg is one decoded or to-be-encoded argument. Exactly one field beyond
// Code is meaningful, selected by Code; this mirrors the tagged-union
// Value pattern used for the reference repo's typed field decoding.
type Arg struct {
	Code Code

	Int    int32
	Uint   uint32
	Fixed  Fixed
	String string
	// Object is the receiver-local object id; 0 means null.
	Object uint32
	// NewID is the id nominated for a freshly created object, on both
	// encode (after allocation) and decode (as read from the wire).
	NewID uint32
	Array []byte
	// FD is the descriptor value once decoded, or the descriptor to pass
	// once encoded. It is never written to the payload bytes themselves.
	FD int
}

func ArgInt(v int32) Arg        { return Arg{Code: CodeInt, Int: v} }
func ArgUint(v uint32) Arg      { return Arg{Code: CodeUint, Uint: v} }
func ArgFixed(v Fixed) Arg      { return Arg{Code: CodeFixed, Fixed: v} }
func ArgString(v string) Arg    { return Arg{Code: CodeString, String: v} }
func ArgObject(id uint32) Arg   { return Arg{Code: CodeObject, Object: id} }
func ArgNewID(id uint32) Arg    { return Arg{Code: CodeNewID, NewID: id} }
func ArgArray(v []byte) Arg     { return Arg{Code: CodeArray, Array: v} }
func ArgFD(fd int) Arg          { return Arg{Code: CodeFD, FD: fd} }
