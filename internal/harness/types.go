package harness

// TraceEvent records one executed flow step and the view it left behind.
type TraceEvent struct {
	Step   int            `json:"step"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
	// Error is the error kind the step returned, empty on success.
	Error string `json:"error,omitempty"`
	// ID is the document id a create produced.
	ID   string `json:"id,omitempty"`
	Seq  int64  `json:"seq"`
	View []Row  `json:"view"`
}

// Row is one visible document.
type Row struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per flow step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// View is the final visible result set.
	View []Row `json:"view"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		View:   []Row{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
