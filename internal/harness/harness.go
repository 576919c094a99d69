package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/naitro2010/PartialAnimationReplacer/internal/engine"
	"github.com/naitro2010/PartialAnimationReplacer/internal/journal"
	"github.com/naitro2010/PartialAnimationReplacer/internal/loader"
	"github.com/naitro2010/PartialAnimationReplacer/internal/rules"
	"github.com/naitro2010/PartialAnimationReplacer/internal/scene"
	"github.com/naitro2010/PartialAnimationReplacer/internal/snapshot"
	"github.com/naitro2010/PartialAnimationReplacer/internal/testutil"
)

// Harness is the scenario execution engine.
// It wires a real loader, engine and journal around a scratch definitions
// root and records what each step did.
type Harness struct {
	root      string
	store     *rules.Store
	publisher *snapshot.Publisher
	loader    *loader.Loader
	engine    *engine.Engine
	journal   *journal.Journal
	scene     *scene.Scene
	logger    *slog.Logger

	result  *Result
	pending []journal.Entry
	codes   map[string]string
}

// traceRecorder journals load outcomes and keeps them for the trace.
type traceRecorder struct {
	h *Harness
}

func (r traceRecorder) Record(ctx context.Context, e journal.Entry) (int64, error) {
	r.h.pending = append(r.h.pending, e)
	return r.h.journal.Record(ctx, e)
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh temporary definitions root and a fresh
// in-memory journal. The returned error reports harness failures (setup,
// I/O); assertion failures are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	root, err := os.MkdirTemp("", "replacer-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create definitions root: %w", err)
	}
	defer os.RemoveAll(root)

	for _, d := range scenario.Definitions {
		if err := writeDefinition(root, d.Group, d.Name, d.Content); err != nil {
			return nil, err
		}
	}

	sc, err := scenario.Scene.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build scene: %w", err)
	}

	j, err := journal.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer j.Close()

	tokens := testutil.NewFixedTokenGenerator(scenario.Token)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &Harness{
		root:      root,
		store:     rules.NewStore(),
		publisher: snapshot.NewPublisher(),
		journal:   j,
		scene:     sc,
		logger:    logger,
		result:    NewResult(),
		codes:     make(map[string]string),
	}

	h.loader, err = loader.New(h.store, h.publisher,
		loader.WithLogger(logger),
		loader.WithRecorder(traceRecorder{h: h}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}
	h.engine = engine.New(h.store, h.publisher, h.loader, sc,
		engine.WithTokenGenerator(tokens),
		engine.WithLogger(logger),
		engine.WithRoot(root),
	)

	ctx := loader.WithToken(context.Background(), tokens.Generate())

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		Root:     root,
		Snapshot: h.publisher.Load(),
		Scene:    sc,
		Store:    h.store,
		Journal:  j,
	}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}

	return h.result, nil
}

// execute runs one step and appends its trace events.
func (h *Harness) execute(ctx context.Context, step Step) error {
	ev := TraceEvent{Action: step.Action}

	switch step.Action {
	case StepLoadAll:
		report, err := h.loader.LoadAll(ctx, h.root)
		if err != nil {
			return err
		}
		for _, lerr := range report.Failed {
			h.codes[lerr.Source] = lerr.Code
		}
		h.flush()

	case StepWrite:
		if err := writeDefinition(h.root, step.Group, step.Name, step.Content); err != nil {
			return err
		}
		ev.Source = step.Group + "/" + step.Name

	case StepDelete:
		if err := os.Remove(filepath.Join(h.root, step.Group, step.Name)); err != nil {
			return fmt.Errorf("failed to delete definition: %w", err)
		}
		ev.Source = step.Group + "/" + step.Name

	case StepReload:
		res := h.loader.ReloadOne(ctx, filepath.Join(h.root, step.Group, step.Name))
		if res.Err != nil {
			h.codes[res.Source] = res.Err.Code
		}
		h.flush()
		ev.Source = step.Group + "/" + step.Name
		ev.Outcome = string(res.Outcome)

	case StepEvaluate:
		snap := h.engine.Evaluate()
		ev.Matches = make(map[string]string, snap.Len())
		for _, id := range snap.Subjects() {
			r, _ := snap.Lookup(id)
			ev.Matches[id.String()] = relPath(h.root, r.Name())
		}

	case StepApply:
		stats := h.engine.ApplyPass(h.scene)
		ev.Updated = stats.Updated

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}

	h.stamp(&ev)
	h.result.add(ev)

	h.logger.Info("step completed", "action", step.Action, "generation", ev.Generation)
	return nil
}

// flush turns journal entries recorded during a step into load events.
func (h *Harness) flush() {
	for _, e := range h.pending {
		ev := TraceEvent{
			Action:  EventLoad,
			Source:  relPath(h.root, e.Source),
			Outcome: string(e.Outcome),
			Rule:    relPath(h.root, e.Rule),
		}
		if e.Outcome == journal.Failed {
			ev.Code = h.codes[e.Source]
		}
		h.stamp(&ev)
		h.result.add(ev)
	}
	h.pending = h.pending[:0]
}

// stamp records the published generation and rule count.
func (h *Harness) stamp(ev *TraceEvent) {
	ev.Generation = h.publisher.Load().Generation()
	ev.Rules = h.store.Len()
}

func writeDefinition(root, group, name, content string) error {
	dir := filepath.Join(root, group)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create group directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write definition: %w", err)
	}
	return nil
}
