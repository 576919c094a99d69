package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/naitro2010/PartialAnimationReplacer/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // defaults to <scenarios-dir>/golden
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run replacer scenarios",
		Long: `Run scenario files through the loader, engine and apply pass,
checking their assertions and comparing each trace with its golden file
(<golden-dir>/<scenario name>.golden) when one exists.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  replacer test ./scenarios
  replacer test ./scenarios --filter "reload-*"
  replacer test ./scenarios --update
  replacer test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden file directory (defaults to <scenarios-dir>/golden)")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if info, err := os.Stat(scenariosDir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(scenariosDir, "golden")
	}

	scenarioFiles, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	formatter := formatterFor(opts.RootOptions, cmd)
	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}

	for _, file := range scenarioFiles {
		sr := runScenario(file, goldenDir, opts.Update)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}

		if !formatter.JSON() {
			w := cmd.OutOrStdout()
			if sr.Pass {
				fmt.Fprintf(w, "✓ %s\n", sr.Name)
			} else {
				fmt.Fprintf(w, "✗ %s\n", sr.Name)
				for _, e := range sr.Errors {
					fmt.Fprintf(w, "  %s\n", e)
				}
			}
		}
	}

	if len(scenarioFiles) == 0 {
		return formatter.Render(result, func(w io.Writer) {
			fmt.Fprintln(w, "No scenarios found.")
		})
	}

	if result.Failed > 0 {
		msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
		_ = formatter.Fail("E_TEST_FAILED", msg, result, func(w io.Writer) {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
		})
		// Test failures = exit code 1
		return NewExitError(ExitFailure, msg)
	}

	return formatter.Render(result, func(w io.Writer) {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
		fmt.Fprintln(w, "✓ All scenarios passed")
	})
}

// findScenarioFiles finds all YAML scenario files directly in dir, sorted.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(entry.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}

		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

// runScenario executes a single scenario and checks or updates its golden file.
func runScenario(file, goldenDir string, update bool) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return ScenarioResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
	}

	sr := ScenarioResult{Name: scenario.Name, Pass: result.Pass, Errors: result.Errors}

	trace, err := harness.TraceSnapshot{ScenarioName: scenario.Name, Trace: result.Trace}.Marshal()
	if err != nil {
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("failed to marshal trace: %v", err))
		return sr
	}

	goldenPath := filepath.Join(goldenDir, scenario.Name+".golden")
	if update {
		if err := os.MkdirAll(goldenDir, 0755); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to create golden directory: %v", err))
			return sr
		}
		if err := os.WriteFile(goldenPath, trace, 0644); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to write golden file: %v", err))
		}
		return sr
	}

	golden, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		// No golden file - assertions only
		return sr
	}
	if err != nil {
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("failed to read golden file: %v", err))
		return sr
	}
	if !bytes.Equal(golden, trace) {
		sr.Pass = false
		sr.Errors = append(sr.Errors, "trace does not match golden file (run with --update to regenerate)")
	}
	return sr
}
