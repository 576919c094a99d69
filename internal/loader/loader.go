package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/naitro2010/PartialAnimationReplacer/internal/compiler"
	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
	"github.com/naitro2010/PartialAnimationReplacer/internal/journal"
	"github.com/naitro2010/PartialAnimationReplacer/internal/metrics"
	"github.com/naitro2010/PartialAnimationReplacer/internal/rules"
	"github.com/naitro2010/PartialAnimationReplacer/internal/snapshot"
)

const (
	// DefaultCacheSize bounds the compiled definition cache.
	DefaultCacheSize = 256
	// DefaultConcurrency bounds parallel compiles during LoadAll.
	DefaultConcurrency = 8
)

// Recorder receives one entry per processed definition file.
// *journal.Journal satisfies it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) (int64, error)
}

// Result is the outcome of processing one definition file.
type Result struct {
	Source  string
	Outcome journal.Outcome
	Rule    string
	Hash    string
	Err     *LoadError
}

// Loader builds rules from definition files into a Store.
type Loader struct {
	store     *rules.Store
	publisher *snapshot.Publisher

	logger      *slog.Logger
	recorder    Recorder
	metrics     *metrics.Metrics
	cache       *lru.Cache[string, *ir.RuleDefinition]
	concurrency int

	mu   sync.Mutex
	root string
}

// Option configures a Loader.
type Option func(*loaderConfig)

type loaderConfig struct {
	logger      *slog.Logger
	recorder    Recorder
	metrics     *metrics.Metrics
	cacheSize   int
	concurrency int
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *loaderConfig) { c.logger = logger }
}

// WithRecorder sends every file outcome to r.
func WithRecorder(r Recorder) Option {
	return func(c *loaderConfig) { c.recorder = r }
}

// WithMetrics reports outcomes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *loaderConfig) { c.metrics = m }
}

// WithCacheSize bounds the compiled definition cache. Zero disables it.
func WithCacheSize(n int) Option {
	return func(c *loaderConfig) { c.cacheSize = n }
}

// WithConcurrency bounds parallel compiles during LoadAll.
func WithConcurrency(n int) Option {
	return func(c *loaderConfig) { c.concurrency = n }
}

// New creates a Loader writing into store and blanking publisher on reload.
func New(store *rules.Store, publisher *snapshot.Publisher, opts ...Option) (*Loader, error) {
	cfg := loaderConfig{
		logger:      slog.Default(),
		cacheSize:   DefaultCacheSize,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = 1
	}

	l := &Loader{
		store:       store,
		publisher:   publisher,
		logger:      cfg.logger,
		recorder:    cfg.recorder,
		metrics:     cfg.metrics,
		concurrency: cfg.concurrency,
	}

	if cfg.cacheSize > 0 {
		cache, err := lru.New[string, *ir.RuleDefinition](cfg.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create definition cache: %w", err)
		}
		l.cache = cache
	}

	return l, nil
}

// Root returns the root passed to the most recent LoadAll, or "".
func (l *Loader) Root() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root
}

// ReloadOne re-reads a single definition file and upserts or removes its
// rule. The published snapshot is blanked for the duration; a fresh
// evaluation is expected afterwards.
//
// Paths without a definition extension, and paths outside a group directory
// of the current root, are ignored and leave the snapshot untouched.
func (l *Loader) ReloadOne(ctx context.Context, path string) Result {
	source := filepath.Clean(path)

	if !compiler.IsDefinitionFile(source) || !l.inGroup(source) {
		res := Result{Source: source, Outcome: journal.Ignored}
		l.logger.Debug("ignoring non-definition path", "source", source, "token", TokenFrom(ctx))
		l.finish(ctx, res)
		return res
	}

	var res built
	_ = l.store.Update(func(m *rules.Mutation) error {
		prev := l.publisher.Exchange(snapshot.Empty(l.publisher.Load().Generation()))
		l.metrics.SnapshotBlanked()
		l.logger.Debug("snapshot blanked for reload",
			"source", source,
			"previous_generation", prev.Generation(),
			"token", TokenFrom(ctx))

		res = l.build(source)
		if res.Outcome == journal.Loaded {
			m.Upsert(source, res.rule)
		} else if m.Remove(source) && res.Outcome == journal.Failed {
			l.logger.Warn("removed rule after failed reload", "source", source, "token", TokenFrom(ctx))
		}
		l.metrics.SetRules(m.Len())
		return nil
	})

	l.finish(ctx, res.Result)
	return res.Result
}

// built carries the rule alongside its public result.
type built struct {
	Result
	rule *rules.Rule
}

// build reads, compiles and constructs the rule for source. A missing file
// yields Removed; every other failure yields Failed.
func (l *Loader) build(source string) built {
	data, err := os.ReadFile(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return built{Result: Result{Source: source, Outcome: journal.Removed}}
		}
		return built{Result: Result{Source: source, Outcome: journal.Failed, Err: convertError(err, source)}}
	}
	return l.compile(source, data)
}

// compile turns file content into a rule, consulting the cache first.
func (l *Loader) compile(source string, data []byte) built {
	hash := ir.DefinitionHash(data)

	def, ok := l.cacheGet(hash)
	if !ok {
		var err error
		def, err = compiler.CompileFile(source, data)
		if err != nil {
			return built{Result: Result{Source: source, Outcome: journal.Failed, Hash: hash, Err: convertError(err, source)}}
		}
		l.cacheAdd(hash, def)
	}

	rule, err := rules.New(def, source)
	if err != nil {
		return built{Result: Result{Source: source, Outcome: journal.Failed, Hash: hash, Err: convertError(err, source)}}
	}

	return built{
		Result: Result{Source: source, Outcome: journal.Loaded, Rule: rule.Name(), Hash: hash},
		rule:   rule,
	}
}

func (l *Loader) cacheGet(hash string) (*ir.RuleDefinition, bool) {
	if l.cache == nil {
		return nil, false
	}
	return l.cache.Get(hash)
}

func (l *Loader) cacheAdd(hash string, def *ir.RuleDefinition) {
	if l.cache == nil {
		return
	}
	l.cache.Add(hash, def)
}

// inGroup reports whether source sits directly inside a group directory of
// the current root. Without a root every path qualifies.
func (l *Loader) inGroup(source string) bool {
	root := l.Root()
	if root == "" {
		return true
	}
	return filepath.Dir(filepath.Dir(source)) == root
}

// finish logs, journals and counts one outcome.
func (l *Loader) finish(ctx context.Context, res Result) {
	token := TokenFrom(ctx)

	switch res.Outcome {
	case journal.Loaded:
		l.logger.Info("definition loaded", "source", res.Source, "rule", res.Rule, "token", token)
	case journal.Removed:
		l.logger.Info("definition removed", "source", res.Source, "token", token)
	case journal.Failed:
		l.logger.Warn("definition rejected", "source", res.Source, "error", res.Err, "token", token)
	}

	l.metrics.DefinitionProcessed(string(res.Outcome))

	if l.recorder == nil {
		return
	}
	entry := journal.Entry{
		Token:   token,
		Source:  res.Source,
		Outcome: res.Outcome,
		Rule:    res.Rule,
		Hash:    res.Hash,
	}
	if res.Err != nil {
		entry.Reason = res.Err.Error()
	}
	if _, err := l.recorder.Record(ctx, entry); err != nil {
		l.logger.Warn("failed to journal load outcome", "source", res.Source, "error", err)
	}
}

// Report summarizes a LoadAll pass.
type Report struct {
	Root    string
	Missing bool
	Groups  []GroupReport
	Loaded  int
	Failed  []*LoadError
	Removed []string
}

// GroupReport counts outcomes for one group directory.
type GroupReport struct {
	Name   string
	Loaded int
	Failed int
}

// LoadAll loads every definition under root and makes the store reflect
// exactly that set. Rules whose source is no longer present, or no longer
// valid, are removed. Groups are visited in lexical order and files within a
// group in lexical order; new rules are appended in that order.
//
// A missing root is logged and leaves the store empty. The returned error is
// non-nil only when ctx is cancelled.
func (l *Loader) LoadAll(ctx context.Context, root string) (*Report, error) {
	root = filepath.Clean(root)
	l.mu.Lock()
	l.root = root
	l.mu.Unlock()

	report := &Report{Root: root}

	groups, files, err := scan(root)
	if err != nil {
		report.Missing = errors.Is(err, fs.ErrNotExist)
		if report.Missing {
			l.logger.Warn("definitions root missing; no rules active", "root", root)
		} else {
			l.logger.Warn("definitions root unreadable; no rules active", "root", root, "error", err)
		}
		groups, files = nil, nil
	}

	results := make([]built, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = l.build(f.path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}

	groupIndex := make(map[string]int, len(groups))
	for _, name := range groups {
		groupIndex[name] = len(report.Groups)
		report.Groups = append(report.Groups, GroupReport{Name: name})
	}

	_ = l.store.Update(func(m *rules.Mutation) error {
		l.publisher.Exchange(snapshot.Empty(l.publisher.Load().Generation()))
		l.metrics.SnapshotBlanked()

		keep := make(map[string]bool, len(results))
		for i, res := range results {
			gr := &report.Groups[groupIndex[files[i].group]]
			switch res.Outcome {
			case journal.Loaded:
				m.Upsert(res.Source, res.rule)
				keep[res.Source] = true
				gr.Loaded++
				report.Loaded++
			case journal.Failed:
				gr.Failed++
				report.Failed = append(report.Failed, res.Err)
			}
		}

		for _, source := range m.Sources() {
			if !keep[source] && m.Remove(source) {
				report.Removed = append(report.Removed, source)
			}
		}
		l.metrics.SetRules(m.Len())
		return nil
	})

	for _, res := range results {
		l.finish(ctx, res.Result)
	}
	for _, source := range report.Removed {
		l.finish(ctx, Result{Source: source, Outcome: journal.Removed})
	}

	l.logger.Info("definitions loaded",
		"root", root,
		"groups", len(report.Groups),
		"loaded", report.Loaded,
		"failed", len(report.Failed),
		"removed", len(report.Removed),
		"token", TokenFrom(ctx))

	return report, nil
}

type groupFile struct {
	group string
	path  string
}

// scan lists group directories and their definition files in lexical order.
func scan(root string) ([]string, []groupFile, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, err
	}

	var (
		groups []string
		files  []groupFile
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		groups = append(groups, entry.Name())

		dir := filepath.Join(root, entry.Name())
		inner, err := os.ReadDir(dir)
		if err != nil {
			// An unreadable group is skipped like a malformed file.
			continue
		}
		for _, f := range inner {
			if f.IsDir() || !compiler.IsDefinitionFile(f.Name()) {
				continue
			}
			files = append(files, groupFile{group: entry.Name(), path: filepath.Join(dir, f.Name())})
		}
	}
	return groups, files, nil
}
