package ir

// Condition operators.
const (
	OpEq     = "eq"
	OpNe     = "ne"
	OpLt     = "lt"
	OpLe     = "le"
	OpGt     = "gt"
	OpGe     = "ge"
	OpIn     = "in"
	OpExists = "exists"
)

// ValidOps defines the allowed condition operators.
var ValidOps = map[string]bool{
	OpEq:     true,
	OpNe:     true,
	OpLt:     true,
	OpLe:     true,
	OpGt:     true,
	OpGe:     true,
	OpIn:     true,
	OpExists: true,
}

// Condition tests one subject attribute.
type Condition struct {
	Attribute string `json:"attribute"`
	Op        string `json:"op"`
	Value     any    `json:"value,omitempty"`
}

// Predicate combines conditions. All must hold, at least one of Any must hold
// when Any is non-empty, and none of None may hold. The zero Predicate
// matches every subject.
type Predicate struct {
	All  []Condition `json:"all,omitempty"`
	Any  []Condition `json:"any,omitempty"`
	None []Condition `json:"none,omitempty"`
}

// Empty reports whether the predicate has no conditions.
func (p Predicate) Empty() bool {
	return len(p.All) == 0 && len(p.Any) == 0 && len(p.None) == 0
}
