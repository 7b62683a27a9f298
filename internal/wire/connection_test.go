package wire

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func dialedPair(t *testing.T) (*Connection, *Connection, func()) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "wire-test.sock")
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	acceptedCh := make(chan *net.UnixConn, 1)
	go func() {
		c, err := ln.AcceptUnix()
		if err == nil {
			acceptedCh <- c
		}
	}()
	client, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var server *net.UnixConn
	select {
	case server = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("accept timed out")
	}
	cc := NewConnection(client, nil)
	sc := NewConnection(server, nil)
	return cc, sc, func() {
		cc.Close()
		sc.Close()
		ln.Close()
		os.Remove(path)
	}
}

func TestConnectionSendDrainRoundTrip(t *testing.T) {
	client, server, cleanup := dialedPair(t)
	defer cleanup()

	h := Header{Receiver: 1, Opcode: 0, Size: HeaderLen + 4}
	payload := append(h.Encode(), []byte{1, 2, 3, 4}...)

	if err := client.Send(payload, nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for server.Inbound().Len() < len(payload) && time.Now().Before(deadline) {
		if _, err := server.Drain(); err != nil {
			t.Fatalf("drain: %v", err)
		}
	}
	if server.Inbound().Len() != len(payload) {
		t.Fatalf("expected %d bytes buffered, got %d", len(payload), server.Inbound().Len())
	}
	got, err := server.Inbound().Copy(len(payload))
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	for i := range got {
		if got[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got=%d want=%d", i, got[i], payload[i])
		}
	}
}

func TestSendTooBigForRingFailsWithoutQueuing(t *testing.T) {
	client, _, cleanup := dialedPair(t)
	defer cleanup()

	oversized := make([]byte, DefaultCapacity+1)
	if err := client.Send(oversized, nil); err != ErrRingFull {
		t.Fatalf("expected ErrRingFull, got %v", err)
	}
	if client.outbound.Len() != 0 {
		t.Fatalf("oversized message must not be partially queued, outbound len=%d", client.outbound.Len())
	}
}

func TestSendDrainsThroughOutboundRing(t *testing.T) {
	client, server, cleanup := dialedPair(t)
	defer cleanup()

	h := Header{Receiver: 1, Opcode: 0, Size: HeaderLen + 4}
	payload := append(h.Encode(), []byte{9, 8, 7, 6}...)

	if err := client.Send(payload, nil); err != nil && err != ErrWouldBlock {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for server.Inbound().Len() < len(payload) && time.Now().Before(deadline) {
		if _, err := server.Drain(); err != nil {
			t.Fatalf("drain: %v", err)
		}
		if _, err := client.Drain(); err != nil {
			t.Fatalf("client drain: %v", err)
		}
	}
	if server.Inbound().Len() != len(payload) {
		t.Fatalf("expected %d bytes buffered, got %d", len(payload), server.Inbound().Len())
	}
}

func TestResolveSocketPathRequiresRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	if _, _, err := ResolveSocketPath(true); err != ErrRuntimeDirUnset {
		t.Fatalf("expected ErrRuntimeDirUnset, got %v", err)
	}
	path, fellBack, err := ResolveSocketPath(false)
	if err != nil {
		t.Fatalf("server fallback should not error: %v", err)
	}
	if !fellBack {
		t.Fatalf("expected fellBack=true")
	}
	if filepath.Dir(path) != "." {
		t.Fatalf("expected fallback dir '.', got %q", path)
	}
}

func TestResolveSocketPathDefaultsDisplayName(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)
	t.Setenv("WAYLAND_DISPLAY", "")
	path, _, err := ResolveSocketPath(true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if filepath.Base(path) != "wayland-0" {
		t.Fatalf("expected default name wayland-0, got %q", path)
	}
}

func TestResolveSocketPathNameTooLong(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	t.Setenv("WAYLAND_DISPLAY", string(long))
	if _, _, err := ResolveSocketPath(true); err != ErrNameTooLong {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}
