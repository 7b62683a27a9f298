package registry

import "testing"

func TestAddAssignsIncreasingNames(t *testing.T) {
	s := New()
	a := s.Add("wl_compositor", 1)
	b := s.Add("wl_shm", 2)
	if a.Name != 1 || b.Name != 2 {
		t.Fatalf("expected names 1,2 got %d,%d", a.Name, b.Name)
	}
}

func TestRemoveRetiresWithoutReordering(t *testing.T) {
	s := New()
	s.Add("wl_compositor", 1)
	mid := s.Add("wl_shm", 1)
	s.Add("wl_seat", 1)

	if !s.Remove(mid.Name) {
		t.Fatalf("expected remove to succeed")
	}
	if s.Remove(mid.Name) {
		t.Fatalf("expected second remove to be a no-op")
	}

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 live globals, got %d", len(snap))
	}
	if snap[0].Interface != "wl_compositor" || snap[1].Interface != "wl_seat" {
		t.Fatalf("unexpected snapshot order: %+v", snap)
	}
}

func TestReplayLawMatchesLateListener(t *testing.T) {
	s := New()
	s.Add("wl_compositor", 1)
	s.Add("wl_shm", 1)

	// A listener registered "at time 0" would have seen both adds via
	// individual global events, in this order.
	var fromEvents []Global
	fromEvents = append(fromEvents, mustLookup(t, s, 1))
	fromEvents = append(fromEvents, mustLookup(t, s, 2))

	s.Add("wl_seat", 1) // advertised after the late listener's T

	late := s.Snapshot()[:2] // late listener registered before wl_seat existed
	for i := range late {
		if late[i] != fromEvents[i] {
			t.Fatalf("replay mismatch at %d: %+v vs %+v", i, late[i], fromEvents[i])
		}
	}
}

func mustLookup(t *testing.T, s *Store, name uint32) Global {
	t.Helper()
	g, ok := s.Lookup(name)
	if !ok {
		t.Fatalf("expected global %d to exist", name)
	}
	return g
}

func TestMirrorUpdatesExistingEntry(t *testing.T) {
	s := New()
	s.Mirror(Global{Name: 5, Interface: "wl_output", Version: 1})
	s.Mirror(Global{Name: 5, Interface: "wl_output", Version: 2})
	g, ok := s.Lookup(5)
	if !ok || g.Version != 2 {
		t.Fatalf("expected mirrored update to version 2, got %+v ok=%v", g, ok)
	}
}
