// Package registry implements the (name, interface, version) global
// advertisement set shared by the server endpoint (the authoritative
// side) and the client endpoint (a mirror fed by `global`/`global_remove`
// events), per spec §3 "Global advertisement" and the replay law of §8.
package registry

// Global is one advertised (name-id, interface-name, version) triple.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

type entry struct {
	global  Global
	removed bool
}

// Store is an ordered set of globals. Insertion order is preserved across
// removals so a late listener's replay always matches the order a
// listener registered at time zero would have observed (§8 replay law).
type Store struct {
	order    []uint32
	entries  map[uint32]*entry
	nextName uint32
}

// New returns an empty global registry. nextName starts at 1: name 0 is
// never assigned, mirroring the id-space nil sentinel of §3.
func New() *Store {
	return &Store{entries: make(map[uint32]*entry), nextName: 1}
}

// Add registers a new global and returns the name assigned to it. Names
// are assigned in increasing order, matching the reference source's
// incrementing wl_global counter.
func (s *Store) Add(interfaceName string, version uint32) Global {
	g := Global{Name: s.nextName, Interface: interfaceName, Version: version}
	s.nextName++
	s.entries[g.Name] = &entry{global: g}
	s.order = append(s.order, g.Name)
	return g
}

// Mirror records a global at a caller-supplied name, used on the client
// side where the name is dictated by the `global` event rather than
// locally assigned.
func (s *Store) Mirror(g Global) {
	if e, ok := s.entries[g.Name]; ok {
		e.global = g
		e.removed = false
		return
	}
	s.entries[g.Name] = &entry{global: g}
	s.order = append(s.order, g.Name)
}

// Remove retires a global by name. It is idempotent: removing an unknown
// or already-removed name is a no-op and reports false.
func (s *Store) Remove(name uint32) bool {
	e, ok := s.entries[name]
	if !ok || e.removed {
		return false
	}
	e.removed = true
	return true
}

// Lookup returns the global registered under name, if it is still live.
func (s *Store) Lookup(name uint32) (Global, bool) {
	e, ok := s.entries[name]
	if !ok || e.removed {
		return Global{}, false
	}
	return e.global, true
}

// Snapshot returns every currently live global, in the order it was
// first advertised.
func (s *Store) Snapshot() []Global {
	out := make([]Global, 0, len(s.order))
	for _, name := range s.order {
		if e := s.entries[name]; e != nil && !e.removed {
			out = append(out, e.global)
		}
	}
	return out
}
