package harness

// Outcome values for Event.Outcome besides the expected error kinds.
const (
	OutcomeOK         = "ok"
	OutcomeUnexpected = "unexpected_error"
)

// Event records what one flow step did.
type Event struct {
	Step    int    `json:"step"`
	Op      string `json:"op"`      // "commit_workload" or "commit_record"
	Subject string `json:"subject"` // module or record name
	Outcome string `json:"outcome"`
}

// RankedRecord is one entry of a workload's final ranking.
type RankedRecord struct {
	Record      string   `json:"record"`
	MeanRunSecs *float64 `json:"mean_run_secs,omitempty"`
	Target      string   `json:"target,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	Events []Event `json:"events"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Size is the final record count.
	Size int `json:"size"`

	// Rankings maps each committed module name to its measured records,
	// fastest first.
	Rankings map[string][]RankedRecord `json:"rankings"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Events:   []Event{},
		Errors:   []string{},
		Rankings: make(map[string][]RankedRecord),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
