// Package capture exports a subject's current target transforms as a
// definition file.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/naitro2010/PartialAnimationReplacer/internal/compiler"
	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
	"github.com/naitro2010/PartialAnimationReplacer/internal/scene"
)

// Capture reads the local transforms of the named targets from subject's
// graph and writes them as the active (first) frame of the definition at
// path.
//
// If path already holds a valid definition, its name, predicate and any
// later frames are kept. Otherwise a new definition with an empty predicate
// is written.
//
// Returns false, and writes nothing, when the subject has no graph or none of
// the targets exist in it. The file is replaced atomically.
func Capture(subject scene.Subject, targets []string, path string) (bool, error) {
	if subject == nil {
		return false, nil
	}
	g := subject.Graph()
	if g == nil {
		return false, nil
	}

	frame := make(ir.Frame, 0, len(targets))
	seen := make(map[string]bool, len(targets))
	for _, name := range targets {
		name = ir.NormalizeTarget(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if t := g.Lookup(name); t != nil {
			frame = append(frame, ir.OverrideFor(name, *t))
		}
	}
	if len(frame) == 0 {
		return false, nil
	}

	def := existing(path)
	if len(def.Frames) == 0 {
		def.Frames = []ir.Frame{frame}
	} else {
		def.Frames[0] = frame
	}

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode capture: %w", err)
	}
	if err := writeAtomic(path, append(data, '\n')); err != nil {
		return false, err
	}
	return true, nil
}

// existing returns the definition currently at path, or an empty one when
// the file is absent or not a valid definition.
func existing(path string) *ir.RuleDefinition {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ir.RuleDefinition{}
	}
	def, err := compiler.CompileFile(path, data)
	if err != nil {
		return &ir.RuleDefinition{}
	}
	return def
}

// writeAtomic writes data to a temp file beside path and renames it over
// path. The temp name has no definition extension so watchers ignore it.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".capture-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write capture: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
