package harness

import "github.com/roach88/wallet/internal/resource"

// OutcomeOK is the outcome of a successful step.
const OutcomeOK = "ok"

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Op      string `json:"op"`
	Ref     string `json:"ref,omitempty"`
	ID      string `json:"id,omitempty"`
	Outcome string `json:"outcome"`
}

// StateRecord is one record of a final partition, in List order.
type StateRecord struct {
	Ref       string `json:"ref,omitempty"`
	ID        string `json:"id"`
	IsDefault bool   `json:"default"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds the executed steps in order. Children of a concurrent step
	// are listed in declaration order.
	Trace []TraceEvent `json:"trace"`

	// State holds every partition of the scenario owner after the last step.
	State map[resource.Kind][]StateRecord `json:"state"`

	// Errors describes every mismatch.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		State:  make(map[resource.Kind][]StateRecord),
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
