package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
	"github.com/naitro2010/PartialAnimationReplacer/internal/journal"
	"github.com/naitro2010/PartialAnimationReplacer/internal/rules"
	"github.com/naitro2010/PartialAnimationReplacer/internal/scene"
	"github.com/naitro2010/PartialAnimationReplacer/internal/snapshot"
)

// transformEpsilon bounds component differences in transform assertions.
const transformEpsilon = 1e-9

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", event.Seq, event.Action)
			if event.Source != "" {
				fmt.Fprintf(&buf, " %s", event.Source)
			}
			if event.Outcome != "" {
				fmt.Fprintf(&buf, " (%s)", event.Outcome)
			}
			fmt.Fprintf(&buf, " gen=%d\n", event.Generation)
		}
	}

	return buf.String()
}

// AssertionContext holds the final state assertions run against.
type AssertionContext struct {
	Ctx      context.Context
	Root     string
	Snapshot *snapshot.Snapshot
	Scene    *scene.Scene
	Store    *rules.Store
	Journal  *journal.Journal
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result.Trace, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertMatched:
		return assertMatched(actx, a)
	case AssertUnmatched:
		return assertUnmatched(actx, a)
	case AssertTransform:
		return assertTransform(actx, a)
	case AssertUpdates:
		return assertUpdates(actx, a)
	case AssertRules:
		if n := actx.Store.Len(); n != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d rules", a.Count), Actual: fmt.Sprintf("%d rules", n)}
		}
		return nil
	case AssertGeneration:
		if g := actx.Snapshot.Generation(); g != int64(a.Count) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("generation %d", a.Count), Actual: fmt.Sprintf("generation %d", g)}
		}
		return nil
	case AssertJournal:
		return assertJournal(actx, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertMatched(actx *AssertionContext, a Assertion) error {
	id, err := ir.ParseSubjectID(a.Subject)
	if err != nil {
		return err
	}
	r, ok := actx.Snapshot.Lookup(id)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("subject %s matched by %s", id, a.Rule),
			Actual:   "no snapshot entry",
		}
	}
	if name := relPath(actx.Root, r.Name()); name != a.Rule {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("subject %s matched by %s", id, a.Rule),
			Actual:   fmt.Sprintf("matched by %s", name),
		}
	}
	return nil
}

func assertUnmatched(actx *AssertionContext, a Assertion) error {
	id, err := ir.ParseSubjectID(a.Subject)
	if err != nil {
		return err
	}
	if r, ok := actx.Snapshot.Lookup(id); ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("no snapshot entry for %s", id),
			Actual:   fmt.Sprintf("matched by %s", relPath(actx.Root, r.Name())),
		}
	}
	return nil
}

func assertTransform(actx *AssertionContext, a Assertion) error {
	graph, err := nodesOf(actx, a.Subject)
	if err != nil {
		return err
	}
	node := graph.Lookup(a.Node)
	if node == nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("node %q on %s", a.Node, a.Subject),
			Actual:   "node not found",
		}
	}

	want := scene.NodeSpec{Rotation: a.Rotation, Translation: a.Translation, Scale: a.Scale}.Transform()
	if !node.ApproxEqual(want, transformEpsilon) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%q = %+v", a.Node, want),
			Actual:   fmt.Sprintf("%q = %+v", a.Node, *node),
		}
	}
	return nil
}

func assertUpdates(actx *AssertionContext, a Assertion) error {
	graph, err := nodesOf(actx, a.Subject)
	if err != nil {
		return err
	}
	if n := graph.Updates(); n != int64(a.Count) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s updated %d times", a.Subject, a.Count),
			Actual:   fmt.Sprintf("updated %d times", n),
		}
	}
	return nil
}

// nodesOf returns the subject's node graph whether or not it is loaded.
func nodesOf(actx *AssertionContext, subject string) (*scene.MemoryGraph, error) {
	id, err := ir.ParseSubjectID(subject)
	if err != nil {
		return nil, err
	}
	actor, ok := actx.Scene.Actor(id)
	if !ok {
		return nil, fmt.Errorf("subject %s is not in the scene", id)
	}
	return actor.Nodes(), nil
}

func assertJournal(actx *AssertionContext, a Assertion) error {
	source := filepath.Join(actx.Root, filepath.FromSlash(a.Source))
	entries, err := actx.Journal.ForSource(actx.Ctx, source)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	count := 0
	for _, e := range entries {
		if a.Outcome == "" || string(e.Outcome) == a.Outcome {
			count++
		}
	}

	if count != a.Count {
		what := "entries"
		if a.Outcome != "" {
			what = a.Outcome + " entries"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s for %s", a.Count, what, a.Source),
			Actual:   fmt.Sprintf("%d %s", count, what),
		}
	}
	return nil
}

// assertTraceCount checks if the action appears exactly the specified number
// of times. Load events may be counted by outcome as "load:<outcome>".
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if eventKey(event, a.Action) {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed).
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for _, want := range a.Actions {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if eventKey(event, want) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual:   fmt.Sprintf("%s missing or out of order", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// eventKey matches an event against "action" or "action:outcome".
func eventKey(event TraceEvent, key string) bool {
	action, outcome, hasOutcome := strings.Cut(key, ":")
	if event.Action != action {
		return false
	}
	return !hasOutcome || event.Outcome == outcome
}
