package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Vec3 is a three component vector (translation, matrix row).
type Vec3 [3]float64

// Matrix3 is a row-major 3x3 rotation matrix.
type Matrix3 [3]Vec3

// IdentityMatrix returns the identity rotation.
func IdentityMatrix() Matrix3 {
	return Matrix3{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
}

// Transform is the local transform of a single target node.
type Transform struct {
	Rotation    Matrix3 `json:"rotation"`
	Translation Vec3    `json:"translation"`
	Scale       float64 `json:"scale"`
}

// Identity returns the neutral transform (identity rotation, no offset, unit scale).
func Identity() Transform {
	return Transform{Rotation: IdentityMatrix(), Scale: 1}
}

// ApproxEqual reports whether every component of t and o differs by at most eps.
func (t Transform) ApproxEqual(o Transform, eps float64) bool {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if math.Abs(t.Rotation[r][c]-o.Rotation[r][c]) > eps {
				return false
			}
		}
		if math.Abs(t.Translation[r]-o.Translation[r]) > eps {
			return false
		}
	}
	return math.Abs(t.Scale-o.Scale) <= eps
}

// Finite reports whether every component is a finite number.
func (t Transform) Finite() bool {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if !isFinite(t.Rotation[r][c]) {
				return false
			}
		}
		if !isFinite(t.Translation[r]) {
			return false
		}
	}
	return isFinite(t.Scale)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Override replaces the local transform of one named target.
type Override struct {
	Target      string  `json:"target"`
	Rotation    Matrix3 `json:"rotation"`
	Translation Vec3    `json:"translation"`
	Scale       float64 `json:"scale"`
}

// Transform returns the transform carried by the override.
func (o Override) Transform() Transform {
	return Transform{Rotation: o.Rotation, Translation: o.Translation, Scale: o.Scale}
}

// OverrideFor builds an override for target carrying t.
func OverrideFor(target string, t Transform) Override {
	return Override{
		Target:      target,
		Rotation:    t.Rotation,
		Translation: t.Translation,
		Scale:       t.Scale,
	}
}

// Frame is an ordered set of overrides captured together.
// Only the first frame of a definition is applied; later frames are kept
// for multi-frame sequences.
type Frame []Override

// RuleDefinition is the persisted form of a rule: a predicate over subject
// attributes plus the frames of overrides it applies.
type RuleDefinition struct {
	Name   string    `json:"name,omitempty"`
	When   Predicate `json:"when"`
	Frames []Frame   `json:"frames"`
}

// SubjectID identifies a tracked subject.
type SubjectID uint32

// PrimarySubject is the identifier of the distinguished primary subject.
const PrimarySubject SubjectID = 0x14

// String renders the id as 8 hex digits.
func (id SubjectID) String() string {
	return fmt.Sprintf("%08X", uint32(id))
}

// ParseSubjectID parses a hexadecimal subject id with or without a 0x prefix.
func ParseSubjectID(s string) (SubjectID, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	n, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid subject id %q: %w", s, err)
	}
	return SubjectID(n), nil
}
