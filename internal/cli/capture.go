package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/naitro2010/PartialAnimationReplacer/internal/capture"
	"github.com/naitro2010/PartialAnimationReplacer/internal/compiler"
	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
	"github.com/naitro2010/PartialAnimationReplacer/internal/scene"
)

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	ScenePath string
	Subject   string
	Dir       string
	Targets   []string
}

// CaptureResult reports where a capture was written.
type CaptureResult struct {
	Path    string   `json:"path"`
	Subject string   `json:"subject"`
	Targets []string `json:"targets"`
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture <group> <name> --scene <scene.yaml> --subject <id>",
		Short: "Export a subject's current target transforms as a definition",
		Long: `Read the current local transforms of the capture targets from one
subject of a scene file and write them as the active frame of
<definitions-dir>/<group>/<name>.

Capture targets come from capture_targets / capture_targets_file in the
config plus any --target flags. An existing valid definition keeps its name,
predicate and later frames.

Exit codes:
  0 - Definition written
  1 - None of the targets exist on the subject (nothing written)
  2 - Command error (scene not found, unknown subject, bad name)`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ScenePath, "scene", "", "path to scene YAML file (required)")
	cmd.Flags().StringVar(&opts.Subject, "subject", ir.PrimarySubject.String(), "hex id of the subject to capture")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "definitions directory (defaults to definitions_dir)")
	cmd.Flags().StringArrayVar(&opts.Targets, "target", nil, "additional capture target (repeatable)")
	_ = cmd.MarkFlagRequired("scene")

	return cmd
}

func runCapture(opts *CaptureOptions, group, name string, cmd *cobra.Command) error {
	formatter := formatterFor(opts.RootOptions, cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	if group != filepath.Base(group) || name != filepath.Base(name) || group == ".." || name == ".." {
		return NewExitError(ExitCommandError, fmt.Sprintf("group and name must be plain names: %s/%s", group, name))
	}
	if !compiler.IsDefinitionFile(name) {
		return NewExitError(ExitCommandError, fmt.Sprintf("name must end in one of %v: %s", compiler.SupportedExtensions, name))
	}

	sc, err := scene.LoadFile(opts.ScenePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scene", err)
	}
	id, err := ir.ParseSubjectID(opts.Subject)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid subject", err)
	}
	actor, ok := sc.Actor(id)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("subject %s not in scene", id))
	}

	dir := opts.Dir
	if dir == "" {
		dir = cfg.DefinitionsDir
	}
	path := filepath.Join(dir, group, name)
	targets := append(append([]string(nil), cfg.CaptureTargets...), opts.Targets...)

	written, err := capture.Capture(actor, targets, path)
	if err != nil {
		return WrapExitError(ExitFailure, "capture failed", err)
	}
	if !written {
		msg := fmt.Sprintf("none of %d capture target(s) found on subject %s", len(targets), id)
		_ = formatter.Error("E_NOTHING_CAPTURED", msg, nil)
		return NewExitError(ExitFailure, msg)
	}

	result := CaptureResult{Path: path, Subject: id.String(), Targets: targets}
	return formatter.Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Captured subject %s to %s\n", id, path)
	})
}
