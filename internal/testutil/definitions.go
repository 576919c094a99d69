// Package testutil provides shared fixtures for package tests: definition
// builders, definition file writers and deterministic token generators.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
)

// Offset returns an identity transform translated by (x, y, z).
func Offset(x, y, z float64) ir.Transform {
	t := ir.Identity()
	t.Translation = ir.Vec3{x, y, z}
	return t
}

// MatchAll builds a definition with an empty predicate and one frame.
func MatchAll(overrides ...ir.Override) *ir.RuleDefinition {
	return &ir.RuleDefinition{Frames: []ir.Frame{overrides}}
}

// MatchAttr builds a definition matching subjects whose attr equals value.
func MatchAttr(attr string, value any, overrides ...ir.Override) *ir.RuleDefinition {
	return &ir.RuleDefinition{
		When: ir.Predicate{
			All: []ir.Condition{{Attribute: attr, Op: ir.OpEq, Value: value}},
		},
		Frames: []ir.Frame{overrides},
	}
}

// WriteDefinition writes def as JSON to root/group/name and returns the path.
func WriteDefinition(t testing.TB, root, group, name string, def *ir.RuleDefinition) string {
	t.Helper()
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		t.Fatalf("marshal definition: %v", err)
	}
	return WriteFile(t, root, group, name, string(data))
}

// WriteFile writes raw content to root/group/name, creating the group
// directory, and returns the path.
func WriteFile(t testing.TB, root, group, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, group)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("create group dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	return path
}
