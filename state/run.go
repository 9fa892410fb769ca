package state

import (
	"fmt"
	"time"

	"github.com/BaSui01/pipeflow/goal"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusAborted
}

// FailureCode classifies why a run ended in failed or aborted. Codes are
// errors so callers can match them with errors.Is.
type FailureCode string

const (
	CodeStepFailed             FailureCode = "step_failed"
	CodeNoMatchingTransition   FailureCode = "no_matching_transition"
	CodeIterationLimitExceeded FailureCode = "iteration_limit_exceeded"
	CodeResourceLimitExceeded  FailureCode = "resource_limit_exceeded"
	CodeUnknownStep            FailureCode = "unknown_step"
	CodeAborted                FailureCode = "aborted"
	CodeContextInvalid         FailureCode = "context_invalid"
)

func (c FailureCode) Error() string { return string(c) }

// Failure is the structured reason attached to a failed or aborted run.
type Failure struct {
	Code    FailureCode `json:"code"`
	Message string      `json:"message"`
	StepID  string      `json:"step_id,omitempty"`
}

func (f *Failure) Error() string {
	if f.StepID != "" {
		return fmt.Sprintf("%s at step %q: %s", f.Code, f.StepID, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Failure) Unwrap() error { return f.Code }

// HistoryEntry records one transition taken.
type HistoryEntry struct {
	Iteration    int       `json:"iteration"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	TransitionID string    `json:"transition_id"`
	Success      bool      `json:"success"`
	At           time.Time `json:"at"`
}

// RunState is the complete, serializable state of one run.
type RunState struct {
	RunID          string         `json:"run_id"`
	GraphID        string         `json:"graph_id"`
	GraphVersion   string         `json:"graph_version,omitempty"`
	Status         Status         `json:"status"`
	CurrentStep    string         `json:"current_step"`
	Context        Context        `json:"context"`
	Iterations     int            `json:"iterations"`
	Transitions    int            `json:"transitions"`
	Visits         map[string]int `json:"visits"`
	PendingOutcome *Outcome       `json:"pending_outcome,omitempty"`
	Approved       bool           `json:"approved,omitempty"`
	Failure        *Failure       `json:"failure,omitempty"`
	Score          *goal.Result   `json:"score,omitempty"`
	History        []HistoryEntry `json:"history,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewRun creates a running state positioned at entry with its visit count at 1.
func NewRun(runID, graphID, entry string, ctx Context) *RunState {
	now := time.Now().UTC()
	if ctx == nil {
		ctx = Context{}
	}
	return &RunState{
		RunID:       runID,
		GraphID:     graphID,
		Status:      StatusRunning,
		CurrentStep: entry,
		Context:     ctx,
		Visits:      map[string]int{entry: 1},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Fail moves the run to failed with a structured reason.
func (r *RunState) Fail(code FailureCode, stepID, msg string) {
	r.Status = StatusFailed
	r.Failure = &Failure{Code: code, StepID: stepID, Message: msg}
	r.Touch()
}

// Abort moves the run to aborted.
func (r *RunState) Abort(reason string) {
	r.Status = StatusAborted
	r.Failure = &Failure{Code: CodeAborted, StepID: r.CurrentStep, Message: reason}
	r.PendingOutcome = nil
	r.Touch()
}

// Err returns the failure as an error, or nil for runs that did not fail.
func (r *RunState) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Advance records a transition to target.
func (r *RunState) Advance(transitionID, target string, success bool) {
	r.History = append(r.History, HistoryEntry{
		Iteration:    r.Iterations,
		From:         r.CurrentStep,
		To:           target,
		TransitionID: transitionID,
		Success:      success,
		At:           time.Now().UTC(),
	})
	r.CurrentStep = target
	r.Transitions++
	r.Visits[target]++
	r.Approved = false
	r.PendingOutcome = nil
	r.Touch()
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *RunState) Clone() *RunState {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Context = r.Context.Clone()
	cp.Visits = make(map[string]int, len(r.Visits))
	for k, v := range r.Visits {
		cp.Visits[k] = v
	}
	cp.PendingOutcome = r.PendingOutcome.Clone()
	if r.Failure != nil {
		f := *r.Failure
		cp.Failure = &f
	}
	if r.Score != nil {
		s := *r.Score
		s.Criteria = append([]goal.CriterionResult(nil), r.Score.Criteria...)
		cp.Score = &s
	}
	cp.History = append([]HistoryEntry(nil), r.History...)
	return &cp
}

// Touch updates the modification time.
func (r *RunState) Touch() {
	r.UpdatedAt = time.Now().UTC()
}
