package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
	"github.com/naitro2010/PartialAnimationReplacer/internal/scene"
)

// Scenario defines one end-to-end replacer scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definitions are written under the scratch root before the first step.
	Definitions []DefinitionFile `yaml:"definitions,omitempty"`

	// Scene is the population the engine evaluates and applies to.
	Scene scene.File `yaml:"scene"`

	// Steps drive the loader and engine in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace, snapshot and scene.
	Assertions []Assertion `yaml:"assertions"`

	// Token is the correlation token stamped on every operation.
	// Defaults to "test-token-default".
	Token string `yaml:"token,omitempty"`
}

// DefinitionFile is a definition file placed at group/name.
type DefinitionFile struct {
	Group   string `yaml:"group"`
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

// Path returns the file location relative to the definitions root.
func (d DefinitionFile) Path() string {
	return d.Group + "/" + d.Name
}

// Step is one action against the loader, engine or definitions root.
type Step struct {
	// Action is one of the Step* constants.
	Action string `yaml:"action"`

	// Group and Name locate the file for write, delete and reload.
	Group string `yaml:"group,omitempty"`
	Name  string `yaml:"name,omitempty"`

	// Content is the new file body for write.
	Content string `yaml:"content,omitempty"`
}

// Step action constants.
const (
	StepLoadAll  = "load_all"
	StepWrite    = "write"
	StepDelete   = "delete"
	StepReload   = "reload"
	StepEvaluate = "evaluate"
	StepApply    = "apply"
)

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Subject is a hex subject id (matched, unmatched, transform, updates).
	Subject string `yaml:"subject,omitempty"`

	// Rule is the expected rule name (matched). Unnamed rules are named by
	// their path relative to the definitions root.
	Rule string `yaml:"rule,omitempty"`

	// Node and the transform components are used by transform. Omitted
	// components are expected to hold identity values.
	Node        string      `yaml:"node,omitempty"`
	Rotation    *ir.Matrix3 `yaml:"rotation,omitempty"`
	Translation *ir.Vec3    `yaml:"translation,omitempty"`
	Scale       *float64    `yaml:"scale,omitempty"`

	// Source and Outcome filter journal entries (journal).
	Source  string `yaml:"source,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number (updates, rules, generation, journal,
	// trace_count).
	Count int `yaml:"count"`

	// Action names the trace event counted by trace_count.
	Action string `yaml:"action,omitempty"`

	// Actions is the expected event order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertMatched    = "matched"
	AssertUnmatched  = "unmatched"
	AssertTransform  = "transform"
	AssertUpdates    = "updates"
	AssertRules      = "rules"
	AssertGeneration = "generation"
	AssertJournal    = "journal"
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, d := range s.Definitions {
		if err := validateLocation(d.Group, d.Name); err != nil {
			return fmt.Errorf("definitions[%d]: %w", i, err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}

	return nil
}

func validateStep(step Step) error {
	switch step.Action {
	case StepLoadAll, StepEvaluate, StepApply:
		return nil
	case StepWrite, StepDelete, StepReload:
		return validateLocation(step.Group, step.Name)
	case "":
		return fmt.Errorf("action is required")
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

// validateLocation keeps scenario files inside their group directory.
func validateLocation(group, name string) error {
	if group == "" || name == "" {
		return fmt.Errorf("group and name are required")
	}
	for _, part := range []string{group, name} {
		if part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return fmt.Errorf("invalid path element %q", part)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertMatched:
		if a.Subject == "" || a.Rule == "" {
			return fmt.Errorf("subject and rule are required for matched")
		}
	case AssertUnmatched, AssertUpdates:
		if a.Subject == "" {
			return fmt.Errorf("subject is required for %s", a.Type)
		}
	case AssertTransform:
		if a.Subject == "" || a.Node == "" {
			return fmt.Errorf("subject and node are required for transform")
		}
	case AssertRules, AssertGeneration:
	case AssertJournal:
		if a.Source == "" {
			return fmt.Errorf("source is required for journal")
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("action is required for trace_count")
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("actions list is required for trace_order")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}

	if a.Count < 0 {
		return fmt.Errorf("count must be non-negative")
	}
	if a.Subject != "" {
		if _, err := ir.ParseSubjectID(a.Subject); err != nil {
			return err
		}
	}
	return nil
}

// relPath maps an absolute path under root to its slash-separated form
// relative to root. Paths outside root are returned unchanged.
func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
