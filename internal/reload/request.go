package reload

import "time"

// Trigger says what caused a reload.
type Trigger string

const (
	// TriggerWatch is a change accepted by the watcher and the debounce gate.
	TriggerWatch Trigger = "watch"
	// TriggerManual is an explicit reload asked for by an operator.
	TriggerManual Trigger = "manual"
)

// Request asks for the watched file to be applied. Only the path crosses the
// dispatch boundary; the file is read when the request executes.
type Request struct {
	ID          string    `json:"id"`
	Seq         uint64    `json:"seq"`
	Path        string    `json:"path"`
	Trigger     Trigger   `json:"trigger"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// State is the executor's position in a single reload.
type State int

const (
	StateIdle State = iota
	StateReading
	StateExecuting
	StateSucceeded
	StateFailed
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateExecuting:
		return "executing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome is how a reload ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped means the file was missing, which is normal while an
	// editor is saving.
	OutcomeSkipped Outcome = "skipped"
)

// Result describes one finished reload.
type Result struct {
	Request    Request       `json:"request"`
	Outcome    Outcome       `json:"outcome"`
	Err        error         `json:"-"`
	Bytes      int           `json:"bytes"`
	Duration   time.Duration `json:"duration"`
	Recomputed bool          `json:"recomputed"`
	FinishedAt time.Time     `json:"finished_at"`
}

// ErrorMessage returns the failure message, or "" when the reload did not fail.
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
