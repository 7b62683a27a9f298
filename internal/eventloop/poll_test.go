package eventloop

import (
	"os"
	"testing"
)

func TestRunOnceReportsReadable(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	l := New()
	var gotReadable bool
	l.Register(int(r.Fd()), true, false, func(readable, writable bool) {
		gotReadable = readable
	})

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	n, err := l.RunOnce()
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 1 || !gotReadable {
		t.Fatalf("expected 1 ready readable fd, got n=%d readable=%v", n, gotReadable)
	}
}

func TestDeregisterStopsReporting(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	l := New()
	calls := 0
	l.Register(int(r.Fd()), true, false, func(readable, writable bool) { calls++ })
	l.Deregister(int(r.Fd()))

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := l.RunOnce(); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no callbacks after deregister, got %d", calls)
	}
}
