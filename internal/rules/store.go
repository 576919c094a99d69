package rules

import "sync"

// Store is the ordered rule collection plus the source index.
//
// INVARIANTS:
//   - every value in index is a live position in rules
//   - index is a bijection between sources and positions
//   - order is priority: earlier rules win
type Store struct {
	mu    sync.Mutex
	rules []*Rule
	index map[string]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Mutation is the view of the store handed to Update callbacks. It is only
// valid for the duration of the callback.
type Mutation struct {
	s *Store
}

// Upsert replaces the rule indexed under source in place, preserving its
// priority position, or appends it when the source is new.
func (m *Mutation) Upsert(source string, r *Rule) {
	s := m.s
	if i, ok := s.index[source]; ok {
		s.rules[i] = r
		return
	}
	s.index[source] = len(s.rules)
	s.rules = append(s.rules, r)
}

// Remove erases the rule indexed under source and shifts every later
// position down by one. Returns false if the source was not indexed.
func (m *Mutation) Remove(source string) bool {
	s := m.s
	i, ok := s.index[source]
	if !ok {
		return false
	}

	copy(s.rules[i:], s.rules[i+1:])
	s.rules[len(s.rules)-1] = nil
	s.rules = s.rules[:len(s.rules)-1]
	delete(s.index, source)

	for src, pos := range s.index {
		if pos > i {
			s.index[src] = pos - 1
		}
	}
	return true
}

// Has reports whether source is indexed.
func (m *Mutation) Has(source string) bool {
	_, ok := m.s.index[source]
	return ok
}

// Len returns the number of rules.
func (m *Mutation) Len() int { return len(m.s.rules) }

// Sources returns a copy of the indexed sources in priority order.
func (m *Mutation) Sources() []string {
	out := make([]string, len(m.s.rules))
	for src, pos := range m.s.index {
		out[pos] = src
	}
	return out
}

// Update runs fn while holding the store's exclusion.
func (s *Store) Update(fn func(m *Mutation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Mutation{s: s})
}

// Read runs fn with the ordered rules while holding the store's exclusion.
// fn must not retain or modify the slice.
func (s *Store) Read(fn func(ordered []*Rule)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.rules)
}

// Upsert is Mutation.Upsert under its own exclusion.
func (s *Store) Upsert(source string, r *Rule) {
	_ = s.Update(func(m *Mutation) error {
		m.Upsert(source, r)
		return nil
	})
}

// Remove is Mutation.Remove under its own exclusion.
func (s *Store) Remove(source string) bool {
	var removed bool
	_ = s.Update(func(m *Mutation) error {
		removed = m.Remove(source)
		return nil
	})
	return removed
}

// View returns a copy of the rules in priority order.
func (s *Store) View() []*Rule {
	var out []*Rule
	s.Read(func(ordered []*Rule) {
		out = make([]*Rule, len(ordered))
		copy(out, ordered)
	})
	return out
}

// Sources returns the indexed sources in priority order.
func (s *Store) Sources() []string {
	var out []string
	_ = s.Update(func(m *Mutation) error {
		out = m.Sources()
		return nil
	})
	return out
}

// Len returns the number of rules.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}
