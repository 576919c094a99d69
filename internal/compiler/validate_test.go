package compiler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/naitro2010/PartialAnimationReplacer/internal/ir"
)

func validOverride(target string) ir.Override {
	return ir.OverrideFor(target, ir.Identity())
}

func TestValidateValidDefinition(t *testing.T) {
	def := &ir.RuleDefinition{
		When: ir.Predicate{
			All: []ir.Condition{{Attribute: "race", Op: ir.OpEq, Value: "Nord"}},
			Any: []ir.Condition{{Attribute: "level", Op: ir.OpGt, Value: 10}},
		},
		Frames: []ir.Frame{{validOverride("A"), validOverride("B")}},
	}

	assert.Empty(t, Validate(def))
}

func TestValidateCodes(t *testing.T) {
	nan := validOverride("A")
	nan.Translation[0] = math.NaN()

	tests := []struct {
		name string
		def  ir.RuleDefinition
		code string
	}{
		{"empty target", ir.RuleDefinition{Frames: []ir.Frame{{validOverride("  ")}}}, ErrEmptyTarget},
		{"duplicate target", ir.RuleDefinition{Frames: []ir.Frame{{validOverride("A"), validOverride("A")}}}, ErrDuplicateTarget},
		{"non finite", ir.RuleDefinition{Frames: []ir.Frame{{nan}}}, ErrNonFiniteValue},
		{"empty attribute", ir.RuleDefinition{When: ir.Predicate{All: []ir.Condition{{Op: ir.OpExists}}}}, ErrEmptyAttribute},
		{"invalid op", ir.RuleDefinition{When: ir.Predicate{All: []ir.Condition{{Attribute: "a", Op: "like", Value: 1}}}}, ErrInvalidOp},
		{"missing value", ir.RuleDefinition{When: ir.Predicate{Any: []ir.Condition{{Attribute: "a", Op: ir.OpEq}}}}, ErrMissingValue},
		{"in not list", ir.RuleDefinition{When: ir.Predicate{None: []ir.Condition{{Attribute: "a", Op: ir.OpIn, Value: "x"}}}}, ErrInvalidValueType},
		{"lt not number", ir.RuleDefinition{When: ir.Predicate{All: []ir.Condition{{Attribute: "a", Op: ir.OpLt, Value: "x"}}}}, ErrInvalidValueType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&tt.def)
			if assert.NotEmpty(t, errs) {
				assert.Equal(t, tt.code, errs[0].Code)
			}
		})
	}
}

func TestValidateAcceptsAnyFiniteScale(t *testing.T) {
	for _, scale := range []float64{0, -1, 2.5} {
		o := validOverride("A")
		o.Scale = scale
		assert.Empty(t, Validate(&ir.RuleDefinition{Frames: []ir.Frame{{o}}}), "scale %v", scale)
	}
}

func TestValidateChecksActiveFrameOnly(t *testing.T) {
	nan := validOverride("B")
	nan.Scale = math.Inf(1)

	def := &ir.RuleDefinition{
		Frames: []ir.Frame{
			{validOverride("A")},
			{validOverride("A"), validOverride("A"), nan},
		},
	}
	assert.Empty(t, Validate(def))

	def.Frames[0] = append(def.Frames[0], nan)
	errs := Validate(def)
	if assert.Len(t, errs, 1) {
		assert.Equal(t, "frames[0][1]", errs[0].Field)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	def := &ir.RuleDefinition{
		When:   ir.Predicate{All: []ir.Condition{{Attribute: "", Op: "bogus"}}},
		Frames: []ir.Frame{{validOverride("")}},
	}

	errs := Validate(def)
	assert.Len(t, errs, 3)
}

func TestValidationErrorString(t *testing.T) {
	err := ValidationError{Field: "frames[0][0].target", Message: "bad", Code: ErrEmptyTarget}
	assert.Equal(t, "[E101] frames[0][0].target: bad", err.Error())

	err.Line = 4
	assert.Equal(t, "[E101] line 4: frames[0][0].target: bad", err.Error())
}
