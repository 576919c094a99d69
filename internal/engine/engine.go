package engine

import (
	"context"
	"fmt"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/naitro2010/PartialAnimationReplacer/internal/compiler"
	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
	"github.com/naitro2010/PartialAnimationReplacer/internal/journal"
	"github.com/naitro2010/PartialAnimationReplacer/internal/loader"
	"github.com/naitro2010/PartialAnimationReplacer/internal/metrics"
	"github.com/naitro2010/PartialAnimationReplacer/internal/rules"
	"github.com/naitro2010/PartialAnimationReplacer/internal/scene"
	"github.com/naitro2010/PartialAnimationReplacer/internal/snapshot"
)

// Engine owns the management loop and the apply pass.
//
// Thread-safety model:
//   - Enqueue(), Notify(), NewToken(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Evaluate(): management role only (Run, or before Run starts)
//   - ApplyPass(): cycle role; wait-free with respect to the management role
//
// INVARIANTS:
//   - Evaluate is the only path that reads the store and publishes a
//     non-empty snapshot
//   - ApplyPass loads the published snapshot exactly once per call
type Engine struct {
	store      *rules.Store
	publisher  *snapshot.Publisher
	loader     *loader.Loader
	population scene.Population

	clock    *Clock
	queue    *eventQueue
	tokens   TokenGenerator
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
	root     string
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithEvaluateInterval makes Run re-evaluate every d in addition to after
// each reload. Zero disables periodic evaluation.
func WithEvaluateInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.interval = d }
}

// WithTokenGenerator replaces the UUIDv7 token generator.
func WithTokenGenerator(g TokenGenerator) EngineOption {
	return func(e *Engine) { e.tokens = g }
}

// WithMetrics reports evaluations and apply passes to m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithRoot sets the definitions root used by ReloadAll and Notify. Defaults
// to the root of the loader's most recent LoadAll.
func WithRoot(dir string) EngineOption {
	return func(e *Engine) { e.root = filepath.Clean(dir) }
}

// WithClock starts generations from an existing clock.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// New creates an Engine. pop supplies the subjects Evaluate matches against;
// it may be nil, in which case every evaluation publishes an empty snapshot.
func New(
	store *rules.Store,
	publisher *snapshot.Publisher,
	ld *loader.Loader,
	pop scene.Population,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		store:      store,
		publisher:  publisher,
		loader:     ld,
		population: pop,
		clock:      NewClock(),
		queue:      newEventQueue(),
		tokens:     UUIDv7Generator{},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// NewToken returns a fresh correlation token.
func (e *Engine) NewToken() string {
	return e.tokens.Generate()
}

// Enqueue submits an event for processing by the Run loop, assigning a
// token when the event has none. Returns false if the engine was stopped.
func (e *Engine) Enqueue(ev Event) bool {
	if ev.Token == "" {
		ev.Token = e.NewToken()
	}
	return e.queue.Enqueue(ev)
}

// Notify routes a "file changed at path" notification. Definition files
// become Reload events. A path directly under the root becomes a ReloadAll
// when it is a directory or no longer exists (a removed group); other
// root-level files are dropped like anything else. Returns whether an event
// was queued.
func (e *Engine) Notify(path string) bool {
	path = filepath.Clean(path)
	if compiler.IsDefinitionFile(path) {
		return e.Enqueue(Event{Type: EventReload, Path: path})
	}
	if root := e.definitionsRoot(); root != "" && filepath.Dir(path) == root && isGroupChange(path) {
		return e.Enqueue(Event{Type: EventReloadAll})
	}
	return false
}

func isGroupChange(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	return info.IsDir()
}

// QueueLen returns the number of pending events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Publisher returns the snapshot publisher shared with the apply pass.
func (e *Engine) Publisher() *snapshot.Publisher {
	return e.publisher
}

// Evaluate matches every active subject against the store in priority order
// and publishes the result. The first matching rule wins; subjects matching
// nothing are absent from the snapshot.
//
// Active subjects are the primary plus every other subject whose graph is
// loaded.
func (e *Engine) Evaluate() *snapshot.Snapshot {
	start := time.Now()

	subjects := e.activeSubjects()
	entries := make(map[ir.SubjectID]*rules.Rule, len(subjects))

	e.store.Read(func(ordered []*rules.Rule) {
		for _, s := range subjects {
			for _, r := range ordered {
				if r.Matches(s) {
					entries[s.ID()] = r
					break
				}
			}
		}
	})

	next := snapshot.New(e.clock.Next(), entries)
	e.publisher.Exchange(next)

	took := time.Since(start)
	e.metrics.SnapshotPublished(next.Generation(), next.Len(), took)
	e.logger.Debug("snapshot published",
		"generation", next.Generation(),
		"subjects", len(subjects),
		"matched", next.Len(),
		"took", took)

	return next
}

func (e *Engine) activeSubjects() []scene.Subject {
	if e.population == nil {
		return nil
	}

	var out []scene.Subject
	if p := e.population.Primary(); p != nil {
		out = append(out, p)
	}
	e.population.ForEach(func(s scene.Subject) bool {
		if s.Graph() != nil {
			out = append(out, s)
		}
		return true
	})
	return out
}

// ApplyStats summarizes one apply pass.
type ApplyStats struct {
	Generation int64 // generation of the snapshot used for the whole pass
	Visited    int   // subjects looked up
	Matched    int   // subjects with a snapshot entry
	Updated    int   // graphs marked updated
}

// ApplyPass applies the published snapshot to pop. The snapshot is loaded
// once, so every subject in the pass sees the same one even if a newer
// snapshot is published meanwhile.
//
// Subjects are visited primary first. A graph is marked updated only when
// at least one override target was found in it.
func (e *Engine) ApplyPass(pop scene.Population) ApplyStats {
	start := time.Now()
	stats := Apply(e.publisher.Load(), pop)
	e.metrics.ApplyPass(stats.Updated, time.Since(start))
	return stats
}

// Apply runs one apply pass of snap over pop.
func Apply(snap *snapshot.Snapshot, pop scene.Population) ApplyStats {
	stats := ApplyStats{Generation: snap.Generation()}
	if pop == nil {
		return stats
	}

	visit := func(s scene.Subject) {
		stats.Visited++
		r, ok := snap.Lookup(s.ID())
		if !ok {
			return
		}
		stats.Matched++

		g := s.Graph()
		if g == nil {
			return
		}
		if r.Apply(g) {
			g.MarkUpdated()
			stats.Updated++
		}
	}

	if p := pop.Primary(); p != nil {
		visit(p)
	}
	pop.ForEach(func(s scene.Subject) bool {
		if s.Graph() != nil {
			visit(s)
		}
		return true
	})
	return stats
}

// Run starts the management loop.
// Blocks until ctx is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// ERROR HANDLING: a failed event is logged with its token and the loop
// continues. Definition errors never reach here; the loader absorbs them.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "evaluate_interval", e.interval)

	var tick <-chan time.Time
	if e.interval > 0 {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			if err := e.processEvent(ctx, ev); err != nil {
				e.logEventError(ev, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-tick:
			ev := Event{Type: EventEvaluate, Token: e.NewToken()}
			if err := e.processEvent(ctx, ev); err != nil {
				e.logEventError(ev, err)
			}

		case <-e.queue.Wait():
			// The signal channel closes with the queue; a stale signal on
			// an open queue just loops back to TryDequeue.
			if e.queue.Drained() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the event queue, which makes Run return once drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

// processEvent routes an event to its handler.
// CRITICAL: Called only from the Run goroutine.
func (e *Engine) processEvent(ctx context.Context, ev Event) error {
	ctx = loader.WithToken(ctx, ev.Token)

	switch ev.Type {
	case EventReload:
		if ev.Path == "" {
			return &EventError{Code: ErrCodeMissingPath, Message: "reload event without path", Token: ev.Token}
		}
		res := e.loader.ReloadOne(ctx, ev.Path)
		if res.Outcome == journal.Ignored {
			return nil
		}
		e.Evaluate()
		return nil

	case EventReloadAll:
		root := e.definitionsRoot()
		if root == "" {
			return &EventError{Code: ErrCodeNoRoot, Message: "no definitions root configured", Token: ev.Token}
		}
		if _, err := e.loader.LoadAll(ctx, root); err != nil {
			return fmt.Errorf("reload all: %w", err)
		}
		e.Evaluate()
		return nil

	case EventEvaluate:
		e.Evaluate()
		return nil

	default:
		return &EventError{Code: ErrCodeUnknownEvent, Message: fmt.Sprintf("unknown event type: %d", ev.Type), Token: ev.Token}
	}
}

func (e *Engine) definitionsRoot() string {
	if e.root != "" {
		return e.root
	}
	if e.loader == nil {
		return ""
	}
	return e.loader.Root()
}

// logEventError logs an event processing failure with full context.
func (e *Engine) logEventError(ev Event, err error) {
	e.logger.Error("event processing failed",
		"error", err,
		"event_type", ev.Type.String(),
		"path", ev.Path,
		"token", ev.Token,
	)
}
