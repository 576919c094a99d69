package rules

import (
	"fmt"
	"reflect"

	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
	"github.com/naitro2010/PartialAnimationReplacer/internal/scene"
)

// Rule is an immutable predicate plus the overrides it applies.
type Rule struct {
	source string
	name   string
	when   ir.Predicate
	frame  ir.Frame
	frames int
}

// InvalidRuleError reports a definition that cannot produce a usable rule.
type InvalidRuleError struct {
	Source string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid rule %s: %s", e.Source, e.Reason)
}

// New builds a rule from def for the given source (usually the definition
// file path). It fails with *InvalidRuleError unless the first frame holds at
// least one override with a target.
//
// The definition's frame is copied, so later changes to def do not leak in.
func New(def *ir.RuleDefinition, source string) (*Rule, error) {
	if def == nil {
		return nil, &InvalidRuleError{Source: source, Reason: "no definition"}
	}
	if len(def.Frames) == 0 {
		return nil, &InvalidRuleError{Source: source, Reason: "no frames"}
	}

	frame := make(ir.Frame, 0, len(def.Frames[0]))
	for _, o := range def.Frames[0] {
		o.Target = ir.NormalizeTarget(o.Target)
		if o.Target == "" {
			continue
		}
		frame = append(frame, o)
	}
	if len(frame) == 0 {
		return nil, &InvalidRuleError{Source: source, Reason: "first frame has no usable overrides"}
	}

	name := def.Name
	if name == "" {
		name = source
	}

	return &Rule{
		source: source,
		name:   name,
		when:   clonePredicate(def.When),
		frame:  frame,
		frames: len(def.Frames),
	}, nil
}

// Source returns the identifier of the definition the rule was built from.
func (r *Rule) Source() string { return r.source }

// Name returns the definition name, or the source when unnamed.
func (r *Rule) Name() string { return r.name }

// Overrides returns a copy of the active frame.
func (r *Rule) Overrides() ir.Frame {
	out := make(ir.Frame, len(r.frame))
	copy(out, r.frame)
	return out
}

// FrameCount returns how many frames the definition carried.
func (r *Rule) FrameCount() int { return r.frames }

// Matches reports whether the subject satisfies the rule's predicate.
// It has no side effects.
func (r *Rule) Matches(s scene.Subject) bool {
	for _, c := range r.when.All {
		if !evalCondition(c, s) {
			return false
		}
	}
	for _, c := range r.when.None {
		if evalCondition(c, s) {
			return false
		}
	}
	if len(r.when.Any) == 0 {
		return true
	}
	for _, c := range r.when.Any {
		if evalCondition(c, s) {
			return true
		}
	}
	return false
}

// Apply overwrites the local transform of every override target found in g.
// Targets missing from the graph are skipped. Returns true if at least one
// target was overwritten.
func (r *Rule) Apply(g scene.Graph) bool {
	if g == nil {
		return false
	}
	applied := false
	for _, o := range r.frame {
		node := g.Lookup(o.Target)
		if node == nil {
			continue
		}
		*node = o.Transform()
		applied = true
	}
	return applied
}

func evalCondition(c ir.Condition, s scene.Subject) bool {
	attr, ok := s.Attribute(c.Attribute)
	if c.Op == ir.OpExists {
		return ok
	}
	if !ok {
		return false
	}

	switch c.Op {
	case ir.OpEq:
		return valuesEqual(attr, c.Value)
	case ir.OpNe:
		return !valuesEqual(attr, c.Value)
	case ir.OpIn:
		list, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range list {
			if valuesEqual(attr, v) {
				return true
			}
		}
		return false
	case ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		a, okA := ir.Number(attr)
		b, okB := ir.Number(c.Value)
		if !okA || !okB {
			return false
		}
		switch c.Op {
		case ir.OpLt:
			return a < b
		case ir.OpLe:
			return a <= b
		case ir.OpGt:
			return a > b
		default:
			return a >= b
		}
	default:
		return false
	}
}

// valuesEqual compares numbers by value regardless of their Go kind, and
// everything else structurally.
func valuesEqual(a, b any) bool {
	if x, ok := ir.Number(a); ok {
		y, ok := ir.Number(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

func clonePredicate(p ir.Predicate) ir.Predicate {
	return ir.Predicate{
		All:  append([]ir.Condition(nil), p.All...),
		Any:  append([]ir.Condition(nil), p.Any...),
		None: append([]ir.Condition(nil), p.None...),
	}
}
