package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
	"github.com/naitro2010/PartialAnimationReplacer/internal/loader"
	"github.com/naitro2010/PartialAnimationReplacer/internal/rules"
	"github.com/naitro2010/PartialAnimationReplacer/internal/scene"
	"github.com/naitro2010/PartialAnimationReplacer/internal/snapshot"
	"github.com/naitro2010/PartialAnimationReplacer/internal/testutil"
)

const eps = 1e-9

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type rig struct {
	root      string
	store     *rules.Store
	publisher *snapshot.Publisher
	loader    *loader.Loader
	engine    *Engine
}

func newRig(t *testing.T, pop scene.Population, opts ...EngineOption) *rig {
	t.Helper()
	r := &rig{
		root:      t.TempDir(),
		store:     rules.NewStore(),
		publisher: snapshot.NewPublisher(),
	}
	ld, err := loader.New(r.store, r.publisher, loader.WithLogger(quiet))
	require.NoError(t, err)
	r.loader = ld

	opts = append([]EngineOption{
		WithLogger(quiet),
		WithRoot(r.root),
		WithTokenGenerator(testutil.NewFixedTokenGenerator("test-token")),
	}, opts...)
	r.engine = New(r.store, r.publisher, ld, pop, opts...)
	return r
}

func (r *rig) loadAll(t *testing.T) {
	t.Helper()
	_, err := r.loader.LoadAll(context.Background(), r.root)
	require.NoError(t, err)
}

func actor(id ir.SubjectID, race string) *scene.Actor {
	a := scene.NewActor(id, map[string]any{"race": race, "level": 10})
	a.Nodes().Set("T", ir.Identity())
	a.Nodes().Set("Other", testutil.Offset(5, 5, 5))
	return a
}

func mustRule(t *testing.T, def *ir.RuleDefinition, source string) *rules.Rule {
	t.Helper()
	r, err := rules.New(def, source)
	require.NoError(t, err)
	return r
}

func TestEmptyDefinitionsApplyIsNoop(t *testing.T) {
	primary := actor(ir.PrimarySubject, "Nord")
	other := actor(0xFF000800, "Orc")
	sc := scene.New(primary, other)

	r := newRig(t, sc)
	r.loadAll(t)
	r.engine.Evaluate()

	stats := r.engine.ApplyPass(sc)

	assert.Equal(t, 2, stats.Visited)
	assert.Zero(t, stats.Matched)
	assert.Zero(t, stats.Updated)
	for _, a := range sc.Actors() {
		assert.Zero(t, a.Nodes().Updates(), "graph %s marked updated", a.ID())
		assert.True(t, a.Nodes().Lookup("T").ApproxEqual(ir.Identity(), eps))
	}
}

func TestMatchAllOverridesOnlyTarget(t *testing.T) {
	want := ir.Transform{
		Rotation:    ir.Matrix3{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}},
		Translation: ir.Vec3{1, 2, 3},
		Scale:       1.5,
	}
	sc := scene.New(actor(ir.PrimarySubject, "Nord"), actor(0x100, "Orc"), actor(0x200, "Elf"))

	r := newRig(t, sc)
	testutil.WriteDefinition(t, r.root, "g", "t.json", testutil.MatchAll(ir.OverrideFor("T", want)))
	r.loadAll(t)
	snap := r.engine.Evaluate()
	assert.Equal(t, 3, snap.Len())

	stats := r.engine.ApplyPass(sc)
	assert.Equal(t, 3, stats.Updated)

	for _, a := range sc.Actors() {
		assert.True(t, a.Nodes().Lookup("T").ApproxEqual(want, eps), "subject %s", a.ID())
		assert.True(t, a.Nodes().Lookup("Other").ApproxEqual(testutil.Offset(5, 5, 5), eps), "subject %s", a.ID())
		assert.Equal(t, int64(1), a.Nodes().Updates())
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	sub := actor(ir.PrimarySubject, "Nord")
	sc := scene.New(sub)

	byRace := mustRule(t, testutil.MatchAttr("race", "Nord", ir.OverrideFor("T", testutil.Offset(1, 0, 0))), "race.json")
	byLevel := mustRule(t, &ir.RuleDefinition{
		When:   ir.Predicate{All: []ir.Condition{{Attribute: "level", Op: ir.OpGe, Value: 5}}},
		Frames: []ir.Frame{{ir.OverrideFor("T", testutil.Offset(2, 0, 0))}},
	}, "level.json")
	catchAll := mustRule(t, testutil.MatchAll(ir.OverrideFor("T", testutil.Offset(3, 0, 0))), "all.json")

	tests := []struct {
		name  string
		order []*rules.Rule
		want  *rules.Rule
	}{
		{"race first", []*rules.Rule{byRace, byLevel, catchAll}, byRace},
		{"level first", []*rules.Rule{byLevel, byRace, catchAll}, byLevel},
		{"catch-all first", []*rules.Rule{catchAll, byRace, byLevel}, catchAll},
		{"catch-all last", []*rules.Rule{byLevel, catchAll}, byLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, sc)
			for _, rule := range tt.order {
				r.store.Upsert(rule.Source(), rule)
			}

			got, ok := r.engine.Evaluate().Lookup(ir.PrimarySubject)
			require.True(t, ok)
			assert.Same(t, tt.want, got)
		})
	}
}

func TestEvaluateUnmatchedSubjectAbsent(t *testing.T) {
	nord := actor(ir.PrimarySubject, "Nord")
	orc := actor(0x300, "Orc")
	sc := scene.New(nord, orc)

	r := newRig(t, sc)
	r.store.Upsert("orc.json", mustRule(t, testutil.MatchAttr("race", "Orc", ir.OverrideFor("T", testutil.Offset(0, 1, 0))), "orc.json"))

	snap := r.engine.Evaluate()

	_, ok := snap.Lookup(ir.PrimarySubject)
	assert.False(t, ok)
	_, ok = snap.Lookup(0x300)
	assert.True(t, ok)
	assert.Equal(t, []ir.SubjectID{0x300}, snap.Subjects())

	stats := r.engine.ApplyPass(sc)
	assert.Equal(t, 1, stats.Updated)
	assert.Zero(t, nord.Nodes().Updates())
}

func TestEvaluateSkipsUnloadedSubjects(t *testing.T) {
	primary := actor(ir.PrimarySubject, "Nord")
	unloaded := actor(0x400, "Nord")
	unloaded.SetLoaded(false)
	sc := scene.New(primary, unloaded)

	r := newRig(t, sc)
	r.store.Upsert("all.json", mustRule(t, testutil.MatchAll(ir.OverrideFor("T", testutil.Offset(1, 1, 1))), "all.json"))

	snap := r.engine.Evaluate()
	assert.Equal(t, []ir.SubjectID{ir.PrimarySubject}, snap.Subjects())

	stats := r.engine.ApplyPass(sc)
	assert.Equal(t, 1, stats.Visited)
	assert.Zero(t, unloaded.Nodes().Updates())
}

func TestEvaluateWithoutPopulation(t *testing.T) {
	r := newRig(t, nil)
	r.store.Upsert("all.json", mustRule(t, testutil.MatchAll(ir.OverrideFor("T", ir.Identity())), "all.json"))

	snap := r.engine.Evaluate()
	assert.Zero(t, snap.Len())
	assert.Same(t, snap, r.publisher.Load())
	assert.Equal(t, ApplyStats{Generation: snap.Generation()}, r.engine.ApplyPass(nil))
}

func TestEvaluateGenerationsIncrease(t *testing.T) {
	r := newRig(t, scene.New(actor(ir.PrimarySubject, "Nord")), WithClock(NewClockAt(41)))

	assert.Equal(t, int64(42), r.engine.Evaluate().Generation())
	assert.Equal(t, int64(43), r.engine.Evaluate().Generation())
	assert.Equal(t, int64(43), r.publisher.Load().Generation())
}

func TestApplyPassMissingTargetNotMarked(t *testing.T) {
	sub := actor(ir.PrimarySubject, "Nord")
	sc := scene.New(sub)

	r := newRig(t, sc)
	r.store.Upsert("hand.json", mustRule(t, testutil.MatchAll(ir.OverrideFor("Hand", testutil.Offset(9, 9, 9))), "hand.json"))
	r.engine.Evaluate()

	stats := r.engine.ApplyPass(sc)
	assert.Equal(t, 1, stats.Matched)
	assert.Zero(t, stats.Updated)
	assert.Zero(t, sub.Nodes().Updates())
}

// swappingPopulation publishes a new snapshot halfway through a pass.
type swappingPopulation struct {
	*scene.Scene
	publisher *snapshot.Publisher
}

func (p *swappingPopulation) ForEach(fn func(scene.Subject) bool) {
	p.publisher.Exchange(snapshot.Empty(999))
	p.Scene.ForEach(fn)
}

func TestApplyPassUsesSingleSnapshot(t *testing.T) {
	sc := scene.New(actor(ir.PrimarySubject, "Nord"), actor(0x1, "Nord"), actor(0x2, "Nord"))

	r := newRig(t, sc)
	r.store.Upsert("all.json", mustRule(t, testutil.MatchAll(ir.OverrideFor("T", testutil.Offset(0, 0, 7))), "all.json"))
	snap := r.engine.Evaluate()

	stats := r.engine.ApplyPass(&swappingPopulation{Scene: sc, publisher: r.publisher})

	assert.Equal(t, snap.Generation(), stats.Generation)
	assert.Equal(t, 3, stats.Updated, "every subject sees the snapshot loaded at pass start")
	assert.Equal(t, int64(999), r.publisher.Load().Generation())
}

func TestReloadInvalidDefinitionRemovesRule(t *testing.T) {
	sc := scene.New(actor(ir.PrimarySubject, "Nord"))

	r := newRig(t, sc)
	path := testutil.WriteDefinition(t, r.root, "g", "t.json", testutil.MatchAll(ir.OverrideFor("T", testutil.Offset(1, 0, 0))))
	r.loadAll(t)
	require.Equal(t, 1, r.engine.Evaluate().Len())

	testutil.WriteFile(t, r.root, "g", "t.json", `{"frames": [[{"target": "T", "scale": -2}]]}`)

	err := r.engine.processEvent(context.Background(), Event{Type: EventReload, Path: path, Token: "t"})
	require.NoError(t, err)

	assert.Zero(t, r.store.Len())
	assert.Zero(t, r.publisher.Load().Len())
	assert.Equal(t, int64(2), r.publisher.Load().Generation(), "reload is followed by a fresh evaluation")
}

func TestProcessEventErrors(t *testing.T) {
	r := newRig(t, nil)

	err := r.engine.processEvent(context.Background(), Event{Type: EventReload, Token: "t"})
	assert.True(t, IsEventError(err, ErrCodeMissingPath))

	err = r.engine.processEvent(context.Background(), Event{Type: EventType(99)})
	assert.True(t, IsEventError(err, ErrCodeUnknownEvent))

	noRoot := New(r.store, r.publisher, r.loader, nil, WithLogger(quiet))
	err = noRoot.processEvent(context.Background(), Event{Type: EventReloadAll})
	assert.True(t, IsEventError(err, ErrCodeNoRoot))
	assert.Contains(t, err.Error(), "NO_ROOT")
}

func TestNotifyRouting(t *testing.T) {
	r := newRig(t, nil)
	require.NoError(t, os.Mkdir(filepath.Join(r.root, "new-group"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(r.root, "README.txt"), []byte("notes"), 0644))

	assert.True(t, r.engine.Notify(r.root+"/g/a.json"))
	assert.True(t, r.engine.Notify(r.root+"/new-group"))
	assert.True(t, r.engine.Notify(r.root+"/removed-group"))
	assert.False(t, r.engine.Notify(r.root+"/README.txt"))
	assert.False(t, r.engine.Notify(r.root+"/g/notes.txt"))
	assert.False(t, r.engine.Notify(r.root+"/g/nested"))

	first, _ := r.engine.queue.TryDequeue()
	assert.Equal(t, EventReload, first.Type)
	assert.Equal(t, r.root+"/g/a.json", first.Path)

	for i := 0; i < 2; i++ {
		ev, _ := r.engine.queue.TryDequeue()
		assert.Equal(t, EventReloadAll, ev.Type)
	}
	assert.Zero(t, r.engine.QueueLen())
}

func TestNotifyRootFileKeepsSnapshot(t *testing.T) {
	sc := scene.New(actor(ir.PrimarySubject, "Nord"))
	r := newRig(t, sc)
	testutil.WriteDefinition(t, r.root, "g", "a.json", testutil.MatchAll(ir.OverrideFor("T", testutil.Offset(1, 0, 0))))
	r.loadAll(t)
	r.engine.Evaluate()

	readme := filepath.Join(r.root, "README.txt")
	require.NoError(t, os.WriteFile(readme, []byte("notes"), 0644))
	assert.False(t, r.engine.Notify(readme))

	_, ok := r.publisher.Load().Lookup(ir.PrimarySubject)
	assert.True(t, ok)
}

func TestRunProcessesEventsUntilStopped(t *testing.T) {
	sc := scene.New(actor(ir.PrimarySubject, "Nord"))
	r := newRig(t, sc)
	testutil.WriteDefinition(t, r.root, "g", "t.json", testutil.MatchAll(ir.OverrideFor("T", testutil.Offset(1, 0, 0))))

	done := make(chan error, 1)
	go func() { done <- r.engine.Run(context.Background()) }()

	require.True(t, r.engine.Enqueue(Event{Type: EventReloadAll}))
	require.Eventually(t, func() bool {
		_, ok := r.publisher.Load().Lookup(ir.PrimarySubject)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	r.engine.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.False(t, r.engine.Enqueue(Event{Type: EventEvaluate}))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r := newRig(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.engine.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunEvaluatesPeriodically(t *testing.T) {
	r := newRig(t, scene.New(actor(ir.PrimarySubject, "Nord")), WithEvaluateInterval(2*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.engine.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return r.publisher.Load().Generation() >= 3
	}, 2*time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestApplyPassConcurrentWithReloads(t *testing.T) {
	actors := []*scene.Actor{actor(ir.PrimarySubject, "Nord")}
	for i := 1; i <= 8; i++ {
		actors = append(actors, actor(ir.SubjectID(0x1000+i), "Nord"))
	}
	sc := scene.New(actors[0], actors[1:]...)

	r := newRig(t, sc)
	path := testutil.WriteDefinition(t, r.root, "g", "t.json", testutil.MatchAll(ir.OverrideFor("T", testutil.Offset(1, 0, 0))))
	r.loadAll(t)
	r.engine.Evaluate()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			stats := r.engine.ApplyPass(sc)
			if stats.Updated != 0 && stats.Updated != len(actors) {
				t.Errorf("torn pass: %d of %d subjects updated", stats.Updated, len(actors))
				return
			}
		}
	}()

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, r.engine.processEvent(ctx, Event{Type: EventReload, Path: path, Token: "t"}))
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, len(actors), r.publisher.Load().Len())
}
