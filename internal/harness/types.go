package harness

// TraceEvent is one handled step.
//
// Balance is the actor's ledger balance after the step, read from the
// ledger rather than the result so that failures are traced too.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Event   string `json:"event"`
	Actor   string `json:"actor"`
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
	State   string `json:"state,omitempty"`
	Cost    string `json:"cost,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Balance string `json:"balance"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Balances holds the final balance of every user the scenario names.
	Balances map[string]string `json:"balances,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Balances: make(map[string]string),
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a traced step.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
