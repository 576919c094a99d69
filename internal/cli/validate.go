package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/naitro2010/PartialAnimationReplacer/internal/loader"
	"github.com/naitro2010/PartialAnimationReplacer/internal/rules"
	"github.com/naitro2010/PartialAnimationReplacer/internal/snapshot"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Root   string            `json:"root"`
	Loaded int               `json:"loaded"`
	Groups []GroupSummary    `json:"groups"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// GroupSummary counts outcomes for one group directory.
type GroupSummary struct {
	Name   string `json:"name"`
	Loaded int    `json:"loaded"`
	Failed int    `json:"failed"`
}

// ValidationIssue is one definition that produced no rule.
type ValidationIssue struct {
	Source  string `json:"source"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [definitions-dir]",
		Short: "Check every definition without applying anything",
		Long: `Load every definition file under the definitions directory the way
the engine does and report the ones that would be rejected.

The directory defaults to definitions_dir from the config.

Exit codes:
  0 - All definitions valid
  1 - One or more definitions rejected
  2 - Command error (directory not found, bad config)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			return runValidate(cmd.Context(), rootOpts, definitionsDir(cfg, args), cmd)
		},
	}

	return cmd
}

func runValidate(ctx context.Context, opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := formatterFor(opts, cmd)

	result, err := ValidateDefinitions(ctx, dir)
	if err != nil {
		_ = formatter.Error(loader.ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "validation aborted", err)
	}

	for _, g := range result.Groups {
		formatter.VerboseLog("%s: %d loaded, %d failed", g.Name, g.Loaded, g.Failed)
	}

	if result.Valid {
		return formatter.Render(result, func(w io.Writer) {
			fmt.Fprintf(w, "✓ All definitions valid (%d loaded from %d groups)\n", result.Loaded, len(result.Groups))
		})
	}

	first := result.Errors[0]
	_ = formatter.Fail(first.Code, first.Message, result, func(w io.Writer) {
		fmt.Fprintln(w, "✗ Validation failed")
		fmt.Fprintln(w)
		for _, issue := range result.Errors {
			if issue.Line > 0 {
				fmt.Fprintf(w, "%s line %d\n", issue.Source, issue.Line)
			} else {
				fmt.Fprintln(w, issue.Source)
			}
			fmt.Fprintf(w, "  %s: %s\n\n", issue.Code, issue.Message)
		}
	})

	// Rejected definitions = exit code 1 (validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}

// ValidateDefinitions loads every definition under dir into a scratch store
// and reports the outcome. A missing directory is an error.
func ValidateDefinitions(ctx context.Context, dir string) (*ValidationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ld, err := loader.New(rules.NewStore(), snapshot.NewPublisher(),
		loader.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		loader.WithCacheSize(0),
	)
	if err != nil {
		return nil, err
	}

	report, err := ld.LoadAll(ctx, dir)
	if err != nil {
		return nil, err
	}
	if report.Missing {
		return nil, fmt.Errorf("definitions directory not found: %s", dir)
	}

	result := &ValidationResult{
		Valid:  len(report.Failed) == 0,
		Root:   report.Root,
		Loaded: report.Loaded,
		Groups: make([]GroupSummary, 0, len(report.Groups)),
	}
	for _, g := range report.Groups {
		result.Groups = append(result.Groups, GroupSummary{Name: g.Name, Loaded: g.Loaded, Failed: g.Failed})
	}
	for _, lerr := range report.Failed {
		issue := ValidationIssue{
			Source:  relativeTo(report.Root, lerr.Source),
			Code:    lerr.Code,
			Message: lerr.Message,
		}
		if lerr.Pos.IsValid() {
			issue.Line = lerr.Pos.Line()
		}
		result.Errors = append(result.Errors, issue)
	}
	return result, nil
}

// relativeTo shortens path for display when it lies under root.
func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
