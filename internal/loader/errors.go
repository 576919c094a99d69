package loader

import (
	"errors"
	"fmt"
	"io/fs"

	"cuelang.org/go/cue/token"

	"github.com/naitro2010/PartialAnimationReplacer/internal/compiler"
	"github.com/naitro2010/PartialAnimationReplacer/internal/rules"
)

// Error code constants for per-file load failures.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeScanError     = "E002" // Directory scan error
	ErrCodeReadFailed    = "E004" // File read error
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeCompileFailed = "E006" // Definition did not compile or validate
	ErrCodeInvalidRule   = "E008" // Definition produced no usable frame
)

// LoadError describes why one definition file produced no rule.
type LoadError struct {
	Code    string
	Source  string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Code, e.Message)
}

// convertError maps compile, rule and filesystem errors to a LoadError.
func convertError(err error, source string) *LoadError {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr
	}

	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompileFailed,
			Source:  source,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}

	var ruleErr *rules.InvalidRuleError
	if errors.As(err, &ruleErr) {
		return &LoadError{Code: ErrCodeInvalidRule, Source: source, Message: ruleErr.Reason}
	}

	if errors.Is(err, fs.ErrNotExist) {
		return &LoadError{Code: ErrCodeNotFound, Source: source, Message: "file does not exist"}
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return &LoadError{Code: ErrCodeReadFailed, Source: source, Message: pathErr.Err.Error()}
	}

	return &LoadError{Code: ErrCodeGeneric, Source: source, Message: err.Error()}
}
