package harness

// TraceEvent records one executed flow step.
type TraceEvent struct {
	Seq    int            `json:"seq"`
	Step   string         `json:"step"`
	Args   map[string]any `json:"args,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors is empty when Pass is true.
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

func (r *Result) addTrace(step string, args, result map[string]any, err error) TraceEvent {
	ev := TraceEvent{
		Seq:    len(r.Trace) + 1,
		Step:   step,
		Args:   args,
		Result: result,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.Trace = append(r.Trace, ev)
	return ev
}
