package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/naitro2010/PartialAnimationReplacer/internal/engine"
	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
	"github.com/naitro2010/PartialAnimationReplacer/internal/loader"
	"github.com/naitro2010/PartialAnimationReplacer/internal/rules"
	"github.com/naitro2010/PartialAnimationReplacer/internal/scene"
	"github.com/naitro2010/PartialAnimationReplacer/internal/snapshot"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	ScenePath string
}

// ApplyResult describes one load, evaluate and apply pass over a scene.
type ApplyResult struct {
	Generation int64           `json:"generation"`
	Rules      int             `json:"rules"`
	Failed     int             `json:"failed"`
	Updated    int             `json:"updated"`
	Subjects   []SubjectResult `json:"subjects"`
}

// SubjectResult is the outcome for one subject of the scene.
type SubjectResult struct {
	ID      string                  `json:"id"`
	Rule    string                  `json:"rule,omitempty"`
	Updated bool                    `json:"updated"`
	Nodes   map[string]ir.Transform `json:"nodes,omitempty"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply [definitions-dir] --scene <scene.yaml>",
		Short: "Run one load, evaluate and apply pass over a scene file",
		Long: `Load every definition, match them against the subjects of a scene
file and run a single apply pass. Prints which rule each subject matched and
the resulting transforms of the overridden nodes.

Example:
  replacer apply ./Replacers --scene ./scene.yaml
  replacer apply --scene ./scene.yaml --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			sc, err := scene.LoadFile(opts.ScenePath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load scene", err)
			}

			logger := newLogger(cfg, cmd.ErrOrStderr())
			slog.SetDefault(logger)
			result, err := ApplyOnce(cmd.Context(), definitionsDir(cfg, args), sc,
				loader.WithLogger(logger),
				loader.WithCacheSize(cfg.CacheSize),
				loader.WithConcurrency(cfg.Concurrency),
			)
			if err != nil {
				return WrapExitError(ExitFailure, "apply failed", err)
			}
			return outputApply(formatterFor(opts.RootOptions, cmd), result)
		},
	}

	cmd.Flags().StringVar(&opts.ScenePath, "scene", "", "path to scene YAML file (required)")
	_ = cmd.MarkFlagRequired("scene")

	return cmd
}

// ApplyOnce loads dir, evaluates sc and applies the snapshot once.
func ApplyOnce(ctx context.Context, dir string, sc *scene.Scene, opts ...loader.Option) (*ApplyResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	store := rules.NewStore()
	publisher := snapshot.NewPublisher()
	ld, err := loader.New(store, publisher, opts...)
	if err != nil {
		return nil, err
	}

	eng := engine.New(store, publisher, ld, sc, engine.WithRoot(dir))
	ctx = loader.WithToken(ctx, eng.NewToken())

	report, err := ld.LoadAll(ctx, dir)
	if err != nil {
		return nil, err
	}

	snap := eng.Evaluate()
	stats := eng.ApplyPass(sc)

	result := &ApplyResult{
		Generation: stats.Generation,
		Rules:      store.Len(),
		Failed:     len(report.Failed),
		Updated:    stats.Updated,
	}
	for _, actor := range sc.Actors() {
		sr := SubjectResult{ID: actor.ID().String(), Updated: actor.Nodes().Updates() > 0}
		if r, ok := snap.Lookup(actor.ID()); ok {
			sr.Rule = relativeTo(report.Root, r.Name())
			if actor.Graph() != nil {
				sr.Nodes = make(map[string]ir.Transform)
				for _, o := range r.Overrides() {
					if t := actor.Nodes().Lookup(o.Target); t != nil {
						sr.Nodes[o.Target] = *t
					}
				}
			}
		}
		result.Subjects = append(result.Subjects, sr)
	}
	return result, nil
}

func outputApply(formatter *OutputFormatter, result *ApplyResult) error {
	return formatter.Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "Generation %d: %d rule(s), %d subject(s) updated\n", result.Generation, result.Rules, result.Updated)
		if result.Failed > 0 {
			fmt.Fprintf(w, "  %d definition(s) rejected (see `replacer validate`)\n", result.Failed)
		}
		for _, s := range result.Subjects {
			if s.Rule == "" {
				fmt.Fprintf(w, "  %s: no match\n", s.ID)
				continue
			}
			mark := "✓"
			if !s.Updated {
				mark = "-"
			}
			fmt.Fprintf(w, "  %s %s: %s\n", mark, s.ID, s.Rule)

			names := make([]string, 0, len(s.Nodes))
			for name := range s.Nodes {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				t := s.Nodes[name]
				fmt.Fprintf(w, "      %s translation=%v scale=%g\n", name, t.Translation, t.Scale)
			}
		}
	})
}
