package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/naitro2010/PartialAnimationReplacer/internal/config"
	"github.com/naitro2010/PartialAnimationReplacer/internal/engine"
	"github.com/naitro2010/PartialAnimationReplacer/internal/journal"
	"github.com/naitro2010/PartialAnimationReplacer/internal/loader"
	"github.com/naitro2010/PartialAnimationReplacer/internal/metrics"
	"github.com/naitro2010/PartialAnimationReplacer/internal/rules"
	"github.com/naitro2010/PartialAnimationReplacer/internal/scene"
	"github.com/naitro2010/PartialAnimationReplacer/internal/snapshot"
	"github.com/naitro2010/PartialAnimationReplacer/internal/watch"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ScenePath string

	// TokenGenerator allows overriding the correlation token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	TokenGenerator engine.TokenGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [definitions-dir]",
		Short: "Watch definitions and apply them every cycle",
		Long: `Start the replacer: load every definition, watch the definitions
directory for changes, re-evaluate on every change and run an apply pass over
the scene every cycle_interval.

Without --scene the population is empty; definitions are still loaded,
watched and journaled.

Example:
  replacer run ./Replacers --scene ./scene.yaml
  replacer run --config ./replacer.yaml --verbose`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return runReplacer(opts, cfg, definitionsDir(cfg, args), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ScenePath, "scene", "", "path to scene YAML file")

	return cmd
}

func runReplacer(opts *RunOptions, cfg *config.Config, dir string, cmd *cobra.Command) error {
	logger := newLogger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	sc := scene.New(nil)
	if opts.ScenePath != "" {
		loaded, err := scene.LoadFile(opts.ScenePath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load scene", err)
		}
		sc = loaded
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var m *metrics.Metrics
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		var err error
		if m, err = metrics.New(reg); err != nil {
			return WrapExitError(ExitCommandError, "failed to register metrics", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	loaderOpts := []loader.Option{
		loader.WithLogger(logger),
		loader.WithMetrics(m),
		loader.WithCacheSize(cfg.CacheSize),
		loader.WithConcurrency(cfg.Concurrency),
	}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		loaderOpts = append(loaderOpts, loader.WithRecorder(j))
	}

	store := rules.NewStore()
	publisher := snapshot.NewPublisher()
	ld, err := loader.New(store, publisher, loaderOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create loader", err)
	}

	engineOpts := []engine.EngineOption{
		engine.WithEvaluateInterval(cfg.EvaluateInterval),
		engine.WithMetrics(m),
		engine.WithLogger(logger),
		engine.WithRoot(dir),
	}
	if opts.TokenGenerator != nil {
		engineOpts = append(engineOpts, engine.WithTokenGenerator(opts.TokenGenerator))
	}
	eng := engine.New(store, publisher, ld, sc, engineOpts...)

	// Initial load happens before the loop starts, so Evaluate runs on this
	// goroutine without racing the management role.
	if _, err := ld.LoadAll(loader.WithToken(ctx, eng.NewToken()), dir); err != nil {
		return WrapExitError(ExitFailure, "initial load failed", err)
	}
	eng.Evaluate()

	watcher, err := watch.New(dir, func(paths []string) {
		for _, p := range paths {
			eng.Notify(p)
		}
	}, watch.WithDebounce(cfg.Debounce), watch.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create watcher", err)
	}
	defer watcher.Stop()
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("definitions not watched; changes need a restart", "root", dir, "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return runCycles(gctx, eng, sc, cfg.CycleInterval)
	})
	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	logger.Info("replacer starting", "definitions", dir, "scene", opts.ScenePath)
	fmt.Fprintf(cmd.OutOrStdout(), "Replacer started. Watching %s...\n", dir)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "replacer error", err)
	}

	logger.Info("replacer stopped gracefully")
	return nil
}

// runCycles runs one apply pass per interval until ctx is done.
func runCycles(ctx context.Context, eng *engine.Engine, pop scene.Population, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			eng.ApplyPass(pop)
		}
	}
}
