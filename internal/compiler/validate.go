package compiler

import (
	"fmt"
	"strings"

	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// Override errors (E101-E109)
	ErrEmptyTarget     = "E101" // override target is empty
	ErrDuplicateTarget = "E102" // same target twice in one frame
	ErrNonFiniteValue  = "E103" // NaN or infinite transform component

	// Predicate errors (E110-E119)
	ErrEmptyAttribute   = "E110" // condition attribute is empty
	ErrInvalidOp        = "E111" // unknown condition operator
	ErrMissingValue     = "E112" // operator needs a value
	ErrInvalidValueType = "E113" // value type does not fit the operator
)

// ValidationError represents a definition validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a rule definition for semantic errors the schema cannot
// express. Returns all errors found (does not fail-fast).
//
// Only the active (first) frame is checked here; later frames are never
// applied and only have to satisfy the schema. Any scale is accepted, so a
// node captured while hidden (scale 0) loads back unchanged.
//
// Validate does not require any frame to be present; whether a definition
// yields a usable rule is decided when the rule is built.
func Validate(def *ir.RuleDefinition) []ValidationError {
	var errs []ValidationError

	if len(def.Frames) > 0 {
		frame := def.Frames[0]
		seen := make(map[string]bool, len(frame))
		for oi, o := range frame {
			field := fmt.Sprintf("frames[0][%d]", oi)
			target := ir.NormalizeTarget(o.Target)

			if target == "" {
				errs = append(errs, ValidationError{
					Field:   field + ".target",
					Message: "target is required and must be non-empty",
					Code:    ErrEmptyTarget,
				})
			} else if seen[target] {
				errs = append(errs, ValidationError{
					Field:   field + ".target",
					Message: fmt.Sprintf("duplicate target %q in frame", target),
					Code:    ErrDuplicateTarget,
				})
			}
			seen[target] = true

			if !o.Transform().Finite() {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: "transform components must be finite",
					Code:    ErrNonFiniteValue,
				})
			}
		}
	}

	errs = append(errs, validateConditions("when.all", def.When.All)...)
	errs = append(errs, validateConditions("when.any", def.When.Any)...)
	errs = append(errs, validateConditions("when.none", def.When.None)...)

	return errs
}

func validateConditions(field string, conds []ir.Condition) []ValidationError {
	var errs []ValidationError

	for i, c := range conds {
		path := fmt.Sprintf("%s[%d]", field, i)

		if strings.TrimSpace(c.Attribute) == "" {
			errs = append(errs, ValidationError{
				Field:   path + ".attribute",
				Message: "attribute is required and must be non-empty",
				Code:    ErrEmptyAttribute,
			})
		}

		if !ir.ValidOps[c.Op] {
			errs = append(errs, ValidationError{
				Field:   path + ".op",
				Message: fmt.Sprintf("invalid op %q", c.Op),
				Code:    ErrInvalidOp,
			})
			continue
		}

		if c.Op == ir.OpExists {
			continue
		}

		if c.Value == nil {
			errs = append(errs, ValidationError{
				Field:   path + ".value",
				Message: fmt.Sprintf("op %q requires a value", c.Op),
				Code:    ErrMissingValue,
			})
			continue
		}

		switch c.Op {
		case ir.OpIn:
			if _, ok := c.Value.([]any); !ok {
				errs = append(errs, ValidationError{
					Field:   path + ".value",
					Message: "op \"in\" requires a list value",
					Code:    ErrInvalidValueType,
				})
			}
		case ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
			if _, ok := ir.Number(c.Value); !ok {
				errs = append(errs, ValidationError{
					Field:   path + ".value",
					Message: fmt.Sprintf("op %q requires a numeric value", c.Op),
					Code:    ErrInvalidValueType,
				})
			}
		}
	}

	return errs
}
