package harness

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Action string `json:"action"`
	Module string `json:"module,omitempty"`
	PK     string `json:"pk,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ExecutionTrace is the state of one workflow execution after a step.
// Ids are left out since they embed the wall clock.
type ExecutionTrace struct {
	State  string `json:"state"`
	Status string `json:"status"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
