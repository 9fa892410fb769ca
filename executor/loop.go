package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/checkpoint"
	"github.com/BaSui01/pipeflow/events"
	"github.com/BaSui01/pipeflow/goal"
	"github.com/BaSui01/pipeflow/graph"
	"github.com/BaSui01/pipeflow/routing"
	"github.com/BaSui01/pipeflow/state"
	"github.com/BaSui01/pipeflow/step"
)

// drive runs the scheduler loop until rs leaves the running state, then
// persists the outcome. rs is owned by the loop for its whole duration.
func (e *Executor) drive(ctx context.Context, reg registered, rs *state.RunState, ar *activeRun) (*state.RunState, error) {
	g := reg.graph
	ctx, span := e.tracer.Start(ctx, "run.drive",
		trace.WithAttributes(
			attribute.String("pipeflow.run_id", rs.RunID),
			attribute.String("pipeflow.graph_id", rs.GraphID),
			attribute.String("pipeflow.step_id", rs.CurrentStep),
		))
	defer span.End()

	limits := g.Limits()
	maxIterations := limits.MaxIterations
	if maxIterations <= 0 {
		maxIterations = e.maxIterations
	}
	logger := e.logger.With(zap.String("run_id", rs.RunID), zap.String("graph_id", rs.GraphID))

	for rs.Status == state.StatusRunning {
		ar.publish(rs)

		// Step boundary: abort requests and cancellation are honored here only.
		if reason, ok := ar.abortRequested(); ok {
			rs.Abort(reason)
			break
		}
		if ctx.Err() != nil {
			cause := context.Cause(ctx)
			switch {
			case errors.Is(cause, checkpoint.ErrLeaseLost):
				span.SetStatus(codes.Error, cause.Error())
				return rs, cause
			case errors.Is(cause, ErrInterrupted):
				span.SetStatus(codes.Error, cause.Error())
				return e.interrupt(ctx, rs)
			}
			rs.Abort(cause.Error())
			break
		}

		s, ok := g.Step(rs.CurrentStep)
		if !ok {
			rs.Fail(state.CodeUnknownStep, rs.CurrentStep, fmt.Sprintf("step %q is not part of graph %s", rs.CurrentStep, g.ID()))
			break
		}

		var outcome state.Outcome
		if rs.Approved && rs.PendingOutcome != nil {
			// Resumed at a pause step: route on the approved outcome.
			outcome = *rs.PendingOutcome
		} else {
			if rs.Iterations >= maxIterations {
				rs.Fail(state.CodeIterationLimitExceeded, s.ID, fmt.Sprintf("iteration limit of %d reached", maxIterations))
				break
			}
			rs.Iterations++

			outcome = e.runStep(ctx, g, s, rs, limits.MaxToolCallsPerTurn)

			if err := rs.Context.MergeStep(s.ID, outcome.Data, s.Exports); err != nil {
				rs.Fail(state.CodeContextInvalid, s.ID, err.Error())
				break
			}
			if n, over := e.historyExceeded(rs.Context, limits.MaxHistoryTokens); over {
				rs.Fail(state.CodeResourceLimitExceeded, s.ID,
					fmt.Sprintf("history is %d tokens, limit is %d", n, limits.MaxHistoryTokens))
				break
			}

			if s.Terminal {
				e.finishTerminal(reg, s, rs, outcome)
				break
			}
			if s.Pause {
				rs.PendingOutcome = outcome.Clone()
				rs.Status = state.StatusPaused
				rs.Touch()
				break
			}
		}

		t, err := routing.Select(g, s.ID, &outcome, rs.Context)
		if err != nil {
			rs.Fail(state.CodeNoMatchingTransition, s.ID, err.Error())
			break
		}
		logger.Debug("transition",
			zap.String("transition_id", t.ID),
			zap.String("from", s.ID),
			zap.String("to", t.Target),
			zap.Bool("success", outcome.Success),
		)
		rs.Advance(t.ID, t.Target, outcome.Success)
		if e.observer != nil {
			e.observer.ObserveTransition(g.ID(), s.ID, t.Target)
		}

		if e.checkpointEveryStep {
			if err := e.save(ctx, rs); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return rs, err
			}
		}
	}

	if rs.Status == state.StatusPaused {
		// Abort arrived while the pause step was running.
		if reason, ok := ar.abortRequested(); ok {
			rs.Abort(reason)
		}
	}

	ar.publish(rs)
	rs, err := e.settle(ctx, rs)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	} else if rs.Status == state.StatusFailed {
		span.SetStatus(codes.Error, rs.Failure.Error())
	}
	span.SetAttributes(attribute.String("pipeflow.status", string(rs.Status)))
	return rs, err
}

func (e *Executor) runStep(ctx context.Context, g *graph.Graph, s *graph.Step, rs *state.RunState, maxToolCalls int) state.Outcome {
	visit := rs.Visits[s.ID]
	e.events.Publish(events.Event{
		Type:    events.StepStarted,
		RunID:   rs.RunID,
		GraphID: rs.GraphID,
		StepID:  s.ID,
		Data:    map[string]any{"visit": visit, "iteration": rs.Iterations},
	})

	// The step is never preempted by cancellation of the run.
	out := e.runner.Execute(context.WithoutCancel(ctx), s, step.Request{
		RunID:   rs.RunID,
		GraphID: g.ID(),
		Visit:   visit,
		Context: rs.Context.Clone(),
	}, maxToolCalls)

	data := map[string]any{
		"success":     out.Success,
		"duration_ms": out.Duration.Milliseconds(),
	}
	if out.Error != "" {
		data["error"] = out.Error
	}
	e.events.Publish(events.Event{
		Type:    events.StepCompleted,
		RunID:   rs.RunID,
		GraphID: rs.GraphID,
		StepID:  s.ID,
		Data:    data,
	})
	return out
}

// finishTerminal ends the run at a terminal step. A successful body scores
// the goal and succeeds the run.
func (e *Executor) finishTerminal(reg registered, s *graph.Step, rs *state.RunState, outcome state.Outcome) {
	if !outcome.Success {
		rs.Fail(state.CodeStepFailed, s.ID, outcome.Error)
		return
	}
	if reg.goal != nil {
		res := goal.Score(reg.goal, rs.Context)
		rs.Score = &res
	}
	rs.Status = state.StatusSucceeded
	rs.Touch()
}

// historyExceeded counts tokens of the serialized context.
func (e *Executor) historyExceeded(ctx state.Context, limit int) (int, bool) {
	if limit <= 0 {
		return 0, false
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return 0, false
	}
	n := e.tokens.Count(string(b))
	return n, n > limit
}

// interrupt checkpoints a run stopped with ErrInterrupted. It stays running
// at a step that has not executed yet, so Recover can continue it.
func (e *Executor) interrupt(ctx context.Context, rs *state.RunState) (*state.RunState, error) {
	rs.Touch()
	if err := e.save(ctx, rs); err != nil {
		return rs, fmt.Errorf("checkpoint interrupted run: %w", err)
	}
	e.logger.Info("run interrupted",
		zap.String("run_id", rs.RunID),
		zap.String("step_id", rs.CurrentStep),
		zap.Int("iterations", rs.Iterations),
	)
	return rs, fmt.Errorf("%w: %s at step %s", ErrInterrupted, rs.RunID, rs.CurrentStep)
}

func (e *Executor) save(ctx context.Context, rs *state.RunState) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return e.store.Save(pctx, rs.RunID, rs)
}

// settle persists a run that left the running state and emits its event.
// Paused runs are always checkpointed; finished runs are deleted unless
// retention is on. Persistence ignores cancellation of ctx so that an
// aborted run is still recorded.
func (e *Executor) settle(ctx context.Context, rs *state.RunState) (*state.RunState, error) {
	logger := e.logger.With(zap.String("run_id", rs.RunID), zap.String("graph_id", rs.GraphID))
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	ev := events.Event{RunID: rs.RunID, GraphID: rs.GraphID, StepID: rs.CurrentStep}

	if rs.Status == state.StatusPaused {
		if err := e.store.Save(pctx, rs.RunID, rs); err != nil {
			return rs, fmt.Errorf("checkpoint paused run: %w", err)
		}
		ev.Type = events.RunPaused
		e.events.Publish(ev)
		logger.Info("run paused", zap.String("step_id", rs.CurrentStep), zap.Int("iterations", rs.Iterations))
		return rs, nil
	}

	var err error
	if e.retainCompleted {
		err = e.store.Save(pctx, rs.RunID, rs)
	} else {
		err = e.store.Delete(pctx, rs.RunID)
	}
	if err != nil {
		err = fmt.Errorf("finalize checkpoint: %w", err)
	}

	switch rs.Status {
	case state.StatusSucceeded:
		ev.Type = events.RunSucceeded
		if rs.Score != nil {
			ev.Data = map[string]any{"score": rs.Score.Overall}
		}
		logger.Info("run succeeded", zap.Int("iterations", rs.Iterations), zap.Int("transitions", rs.Transitions))
	case state.StatusAborted:
		ev.Type = events.RunAborted
		ev.Data = map[string]any{"reason": rs.Failure.Message}
		logger.Info("run aborted", zap.String("reason", rs.Failure.Message))
	default:
		ev.Type = events.RunFailed
		ev.Data = map[string]any{"code": string(rs.Failure.Code), "message": rs.Failure.Message}
		logger.Warn("run failed",
			zap.String("code", string(rs.Failure.Code)),
			zap.String("step_id", rs.Failure.StepID),
			zap.String("message", rs.Failure.Message),
		)
	}
	e.events.Publish(ev)
	if e.observer != nil {
		e.observer.ObserveRunFinished(rs.GraphID, rs.Status, time.Since(rs.CreatedAt))
	}
	return rs, err
}
