package compiler

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

// SupportedExtensions lists the definition file extensions the compiler
// understands. JSON is valid CUE, so both go through the same path.
var SupportedExtensions = []string{".json", ".cue"}

// IsDefinitionFile reports whether path has a supported definition extension.
// The comparison is case-insensitive.
func IsDefinitionFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// CompileFile parses raw definition file content into a RuleDefinition.
// The path is used for error positions only.
//
// Each call uses its own CUE context, so CompileFile is safe for concurrent use.
func CompileFile(path string, data []byte) (*ir.RuleDefinition, error) {
	if !IsDefinitionFile(path) {
		return nil, &CompileError{
			Field:   "file",
			Message: fmt.Sprintf("unsupported definition extension %q", filepath.Ext(path)),
		}
	}

	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	return compileValue(ctx, v)
}

// CompileValue parses an already built CUE value into a RuleDefinition.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`frames: [[{target: "Spine", scale: 2}]]`)
//	def, err := CompileValue(v)
func CompileValue(v cue.Value) (*ir.RuleDefinition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compileValue(v.Context(), v)
}

func compileValue(ctx *cue.Context, v cue.Value) (*ir.RuleDefinition, error) {
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile definition schema: %w", err)
	}

	if !v.LookupPath(cue.ParsePath("frames")).Exists() {
		return nil, &CompileError{
			Field:   "frames",
			Message: "frames is required",
			Pos:     v.Pos(),
		}
	}

	unified := schema.LookupPath(cue.ParsePath("#Definition")).Unify(v)
	if err := unified.Validate(); err != nil {
		return nil, formatCUEError(err)
	}

	// Round-trip through JSON so schema defaults are materialized. Export
	// fails on any value still incomplete after defaults.
	raw, err := unified.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}

	def := &ir.RuleDefinition{}
	if err := json.Unmarshal(raw, def); err != nil {
		return nil, &CompileError{Field: "definition", Message: err.Error(), Pos: v.Pos()}
	}

	normalize(def)

	if verrs := Validate(def); len(verrs) > 0 {
		return nil, &CompileError{
			Field:   verrs[0].Field,
			Message: fmt.Sprintf("[%s] %s", verrs[0].Code, verrs[0].Message),
			Pos:     v.Pos(),
		}
	}

	return def, nil
}

// normalize canonicalizes target names in place.
func normalize(def *ir.RuleDefinition) {
	for _, frame := range def.Frames {
		for i := range frame {
			frame[i].Target = ir.NormalizeTarget(frame[i].Target)
		}
	}
}

// CompileError reports a definition that could not be compiled.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &CompileError{Field: "cue", Message: err.Error()}
	}

	// Report the first error, with its position when CUE has one
	firstErr := errs[0]
	compileErr := &CompileError{Field: "cue", Message: firstErr.Error()}
	if positions := errors.Positions(firstErr); len(positions) > 0 {
		compileErr.Pos = positions[0]
	}
	return compileErr
}
