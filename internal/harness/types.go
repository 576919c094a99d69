package harness

// Trace event actions besides the step actions.
const (
	// EventLoad is one per-file outcome reported by the loader.
	EventLoad = "load"
)

// TraceEvent is one entry in a scenario trace: a step, or a per-file load
// outcome produced by a load_all or reload step.
type TraceEvent struct {
	Seq        int64             `json:"seq"`
	Action     string            `json:"action"`
	Source     string            `json:"source,omitempty"`
	Outcome    string            `json:"outcome,omitempty"`
	Rule       string            `json:"rule,omitempty"`
	Code       string            `json:"code,omitempty"`
	Generation int64             `json:"generation"`
	Rules      int               `json:"rules"`
	Matches    map[string]string `json:"matches,omitempty"`
	Updated    int               `json:"updated,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace contains step and load events in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
