package wire

import (
	"errors"
	"testing"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	in := Header{Receiver: 5, Opcode: 3, Size: 16}
	out, err := DecodeHeader(in.Encode())
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if out != in {
		t.Fatalf("header mismatch: got=%+v want=%+v", out, in)
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestDecodeHeaderSizeTooSmall(t *testing.T) {
	h := Header{Receiver: 1, Opcode: 0, Size: 4}
	_, err := DecodeHeader(h.Encode())
	if !errors.Is(err, ErrSizeTooSmall) {
		t.Fatalf("expected ErrSizeTooSmall, got %v", err)
	}
}

func TestDecodeHeaderSizeNotAligned(t *testing.T) {
	h := Header{Receiver: 1, Opcode: 0, Size: 10}
	_, err := DecodeHeader(h.Encode())
	if !errors.Is(err, ErrSizeNotAligned) {
		t.Fatalf("expected ErrSizeNotAligned, got %v", err)
	}
}
