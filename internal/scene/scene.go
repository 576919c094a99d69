package scene

import (
	"sync/atomic"

	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
)

// Graph is a subject's set of named, mutable transform nodes.
type Graph interface {
	// Lookup returns the local transform of the named node, or nil if the
	// graph has no such node. The returned transform may be mutated in place.
	Lookup(name string) *ir.Transform

	// MarkUpdated flags the graph for a downstream update.
	MarkUpdated()
}

// Subject is an entity that may receive overrides.
type Subject interface {
	ID() ir.SubjectID

	// Attribute returns a named attribute used by rule predicates.
	Attribute(name string) (any, bool)

	// Graph returns the subject's target graph, or nil when it is not loaded.
	Graph() Graph
}

// Population enumerates the currently active subjects.
type Population interface {
	// Primary returns the distinguished primary subject, or nil.
	Primary() Subject

	// ForEach calls fn for every non-primary subject until fn returns false.
	ForEach(fn func(Subject) bool)
}

// MemoryGraph is a Graph backed by a map.
type MemoryGraph struct {
	nodes   map[string]*ir.Transform
	updates atomic.Int64
}

// NewMemoryGraph creates an empty graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{nodes: make(map[string]*ir.Transform)}
}

// Set adds or replaces a node.
func (g *MemoryGraph) Set(name string, t ir.Transform) {
	g.nodes[ir.NormalizeTarget(name)] = &t
}

// Lookup implements Graph.
func (g *MemoryGraph) Lookup(name string) *ir.Transform {
	return g.nodes[ir.NormalizeTarget(name)]
}

// MarkUpdated implements Graph.
func (g *MemoryGraph) MarkUpdated() {
	g.updates.Add(1)
}

// Updates returns how many times MarkUpdated was called.
func (g *MemoryGraph) Updates() int64 {
	return g.updates.Load()
}

// Names returns the node names in no particular order.
func (g *MemoryGraph) Names() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	return names
}

// Actor is an in-memory Subject.
type Actor struct {
	id     ir.SubjectID
	attrs  map[string]any
	graph  *MemoryGraph
	loaded bool
}

// NewActor creates a loaded actor with an empty graph.
func NewActor(id ir.SubjectID, attrs map[string]any) *Actor {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &Actor{id: id, attrs: attrs, graph: NewMemoryGraph(), loaded: true}
}

// ID implements Subject.
func (a *Actor) ID() ir.SubjectID { return a.id }

// Attribute implements Subject.
func (a *Actor) Attribute(name string) (any, bool) {
	v, ok := a.attrs[name]
	return v, ok
}

// Graph implements Subject. Unloaded actors have no graph.
func (a *Actor) Graph() Graph {
	if !a.loaded {
		return nil
	}
	return a.graph
}

// Nodes returns the actor's graph regardless of its loaded state.
func (a *Actor) Nodes() *MemoryGraph { return a.graph }

// SetLoaded toggles whether the actor exposes its graph.
func (a *Actor) SetLoaded(loaded bool) { a.loaded = loaded }

// Scene is an in-memory Population.
type Scene struct {
	primary *Actor
	others  []*Actor
}

// New creates a scene. primary may be nil.
func New(primary *Actor, others ...*Actor) *Scene {
	return &Scene{primary: primary, others: others}
}

// Primary implements Population.
func (s *Scene) Primary() Subject {
	if s.primary == nil {
		return nil
	}
	return s.primary
}

// ForEach implements Population.
func (s *Scene) ForEach(fn func(Subject) bool) {
	for _, a := range s.others {
		if !fn(a) {
			return
		}
	}
}

// Actor returns the actor with the given id, including the primary.
func (s *Scene) Actor(id ir.SubjectID) (*Actor, bool) {
	if s.primary != nil && s.primary.id == id {
		return s.primary, true
	}
	for _, a := range s.others {
		if a.id == id {
			return a, true
		}
	}
	return nil, false
}

// Actors returns the primary (if any) followed by the other actors.
func (s *Scene) Actors() []*Actor {
	out := make([]*Actor, 0, len(s.others)+1)
	if s.primary != nil {
		out = append(out, s.primary)
	}
	return append(out, s.others...)
}

// Add appends a non-primary actor.
func (s *Scene) Add(a *Actor) {
	s.others = append(s.others, a)
}
