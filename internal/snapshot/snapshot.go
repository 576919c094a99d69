package snapshot

import (
	"sort"
	"sync/atomic"

	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
	"github.com/naitro2010/PartialAnimationReplacer/internal/rules"
)

// Snapshot is an immutable mapping from subject to matched rule.
type Snapshot struct {
	generation int64
	entries    map[ir.SubjectID]*rules.Rule
}

// New wraps entries in a snapshot. Ownership of entries passes to the
// snapshot; the caller must not modify the map afterwards.
func New(generation int64, entries map[ir.SubjectID]*rules.Rule) *Snapshot {
	if entries == nil {
		entries = map[ir.SubjectID]*rules.Rule{}
	}
	return &Snapshot{generation: generation, entries: entries}
}

// Empty returns a snapshot with no entries.
func Empty(generation int64) *Snapshot {
	return New(generation, nil)
}

// Lookup returns the rule matched for id.
func (s *Snapshot) Lookup(id ir.SubjectID) (*rules.Rule, bool) {
	r, ok := s.entries[id]
	return r, ok
}

// Len returns the number of matched subjects.
func (s *Snapshot) Len() int { return len(s.entries) }

// Generation returns the evaluation generation that produced the snapshot.
// Blank snapshots installed during reloads carry the generation of the
// reload that installed them.
func (s *Snapshot) Generation() int64 { return s.generation }

// Subjects returns the matched subject ids in ascending order.
func (s *Snapshot) Subjects() []ir.SubjectID {
	ids := make([]ir.SubjectID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Publisher holds the current snapshot behind an atomic pointer.
//
// Thread-safety: Load and Exchange are wait-free and safe from any goroutine.
type Publisher struct {
	current atomic.Pointer[Snapshot]
}

// NewPublisher creates a publisher holding an empty snapshot.
func NewPublisher() *Publisher {
	p := &Publisher{}
	p.current.Store(Empty(0))
	return p
}

// Load returns the current snapshot. Never nil.
func (p *Publisher) Load() *Snapshot {
	return p.current.Load()
}

// Exchange installs next and returns the snapshot it replaced.
func (p *Publisher) Exchange(next *Snapshot) *Snapshot {
	if next == nil {
		next = Empty(0)
	}
	return p.current.Swap(next)
}
