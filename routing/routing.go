// Package routing selects the next transition after a step completes.
package routing

import (
	"fmt"

	"github.com/BaSui01/pipeflow/condition"
	"github.com/BaSui01/pipeflow/graph"
	"github.com/BaSui01/pipeflow/state"
)

// ErrNoMatchingTransition is returned when no outgoing transition matches.
// It is the same value as state.CodeNoMatchingTransition.
var ErrNoMatchingTransition error = state.CodeNoMatchingTransition

// Error reports a routing failure for one step.
type Error struct {
	StepID    string
	Success   bool
	Evaluated int
}

func (e *Error) Error() string {
	return fmt.Sprintf("no matching transition from step %q (success=%t, %d candidates)", e.StepID, e.Success, e.Evaluated)
}

func (e *Error) Unwrap() error { return ErrNoMatchingTransition }

// Matches reports whether t fires for the outcome. Expression conditions see
// the outcome's data first and the run context second.
func Matches(t *graph.Transition, outcome *state.Outcome, ctx condition.Vars) bool {
	switch t.Condition.Kind {
	case graph.OnSuccess:
		return outcome.Success
	case graph.OnFailure:
		return !outcome.Success
	case graph.Always:
		return true
	case graph.Expression:
		if t.Condition.Expr == nil {
			return false
		}
		return t.Condition.Expr.Eval(condition.Overlay(outcome, ctx))
	default:
		return false
	}
}

// Select returns the first matching transition leaving stepID in priority
// order. Evaluation is pure: the same inputs always select the same transition.
func Select(g *graph.Graph, stepID string, outcome *state.Outcome, ctx condition.Vars) (*graph.Transition, error) {
	if outcome == nil {
		outcome = &state.Outcome{}
	}
	candidates := g.Outgoing(stepID)
	for _, t := range candidates {
		if Matches(t, outcome, ctx) {
			return t, nil
		}
	}
	return nil, &Error{StepID: stepID, Success: outcome.Success, Evaluated: len(candidates)}
}
