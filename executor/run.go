package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/pipeflow/checkpoint"
	"github.com/BaSui01/pipeflow/events"
	"github.com/BaSui01/pipeflow/state"
)

// RunRequest describes a new run. RunID and EntryPoint are optional.
type RunRequest struct {
	RunID      string         `json:"run_id,omitempty"`
	GraphID    string         `json:"graph_id"`
	EntryPoint string         `json:"entry_point,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
}

// Start begins a run of graphID at its entry step and drives it until it
// pauses or finishes.
//
// The returned error is reserved for problems outside the run itself
// (unknown graph, lease held, storage failures). A run that fails or is
// aborted is returned with a nil error; inspect Status and Err().
func (e *Executor) Start(ctx context.Context, graphID string, input map[string]any) (*state.RunState, error) {
	return e.Run(ctx, RunRequest{GraphID: graphID, Input: input})
}

// StartAt is Start from a named entry point.
func (e *Executor) StartAt(ctx context.Context, graphID, entryPoint string, input map[string]any) (*state.RunState, error) {
	return e.Run(ctx, RunRequest{GraphID: graphID, EntryPoint: entryPoint, Input: input})
}

// Run starts the run described by req.
func (e *Executor) Run(ctx context.Context, req RunRequest) (*state.RunState, error) {
	reg, err := e.lookup(req.GraphID)
	if err != nil {
		return nil, err
	}
	g := reg.graph

	entry, ok := g.EntryPoint(req.EntryPoint)
	if !ok {
		return nil, fmt.Errorf("%w: %q in graph %s", ErrUnknownEntryPoint, req.EntryPoint, g.ID())
	}
	initial, err := state.NewContext(req.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	runCtx, ar, release, err := e.begin(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	if req.RunID != "" {
		_, err := e.store.Load(ctx, runID)
		switch {
		case err == nil:
			return nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
		case !errors.Is(err, checkpoint.ErrNotFound):
			return nil, err
		}
	}

	rs := state.NewRun(runID, g.ID(), entry, initial)
	rs.GraphVersion = g.Version()

	e.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("graph_id", g.ID()),
		zap.String("entry", entry),
	)
	if e.observer != nil {
		e.observer.ObserveRunStarted(g.ID())
	}
	return e.drive(runCtx, reg, rs, ar)
}

// Resume continues a paused run. humanInput is merged into the context and
// over the paused step's outcome data; the paused step is then treated as
// approved and routing continues from it without re-running its body.
func (e *Executor) Resume(ctx context.Context, runID string, humanInput map[string]any) (*state.RunState, error) {
	runCtx, ar, release, err := e.begin(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	rs, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rs.Status != state.StatusPaused {
		return rs, fmt.Errorf("%w: %s is %s", ErrNotPaused, runID, rs.Status)
	}
	reg, err := e.lookup(rs.GraphID)
	if err != nil {
		return rs, err
	}

	if err := rs.Context.Merge(humanInput); err != nil {
		return rs, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if rs.PendingOutcome == nil {
		rs.PendingOutcome = &state.Outcome{Success: true}
	}
	if rs.PendingOutcome.Data == nil {
		rs.PendingOutcome.Data = map[string]any{}
	}
	for k := range humanInput {
		rs.PendingOutcome.Data[k] = rs.Context[k]
	}
	rs.Approved = true
	rs.Status = state.StatusRunning
	rs.Touch()

	e.events.Publish(events.Event{
		Type:    events.RunResumed,
		RunID:   rs.RunID,
		GraphID: rs.GraphID,
		StepID:  rs.CurrentStep,
	})
	e.logger.Info("run resumed",
		zap.String("run_id", runID),
		zap.String("step_id", rs.CurrentStep),
		zap.Strings("input_keys", state.Context(humanInput).Keys()),
	)
	return e.drive(runCtx, reg, rs, ar)
}

// Recover continues a run that was stopped with ErrInterrupted, or whose
// process died while it was checkpointed as running. The run continues at
// its current step, which had not executed when the checkpoint was written.
func (e *Executor) Recover(ctx context.Context, runID string) (*state.RunState, error) {
	runCtx, ar, release, err := e.begin(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	rs, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rs.Status != state.StatusRunning {
		return rs, fmt.Errorf("%w: %s is %s", ErrNotInterrupted, runID, rs.Status)
	}
	reg, err := e.lookup(rs.GraphID)
	if err != nil {
		return rs, err
	}

	e.events.Publish(events.Event{
		Type:    events.RunResumed,
		RunID:   rs.RunID,
		GraphID: rs.GraphID,
		StepID:  rs.CurrentStep,
		Data:    map[string]any{"recovered": true},
	})
	e.logger.Info("run recovered",
		zap.String("run_id", runID),
		zap.String("step_id", rs.CurrentStep),
		zap.Int("iterations", rs.Iterations),
	)
	return e.drive(runCtx, reg, rs, ar)
}

// Abort stops a run. A run executing in this process is flagged and stops at
// its next step boundary; the returned state is a snapshot taken before that
// happens. A paused run, or a stale running checkpoint, is aborted directly.
func (e *Executor) Abort(ctx context.Context, runID, reason string) (*state.RunState, error) {
	if reason == "" {
		reason = "aborted by caller"
	}
	if ar, ok := e.activeRun(runID); ok {
		ar.requestAbort(reason)
		e.logger.Info("abort requested", zap.String("run_id", runID), zap.String("reason", reason))
		if rs := ar.snapshot.Load(); rs != nil {
			return rs.Clone(), nil
		}
		// The loop has not published yet: report the checkpoint, or a bare
		// running state for a run that was never saved.
		rs, err := e.store.Load(ctx, runID)
		if errors.Is(err, checkpoint.ErrNotFound) {
			return &state.RunState{RunID: runID, Status: state.StatusRunning}, nil
		}
		return rs, err
	}

	_, ar, release, err := e.begin(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	rs, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rs.Status.Terminal() {
		return rs, fmt.Errorf("%w: %s is %s", ErrRunFinished, runID, rs.Status)
	}
	rs.Abort(reason)
	ar.publish(rs)
	return e.settle(ctx, rs)
}

// Get returns the latest known state of a run: the live snapshot of a run
// executing in this process, otherwise its checkpoint.
func (e *Executor) Get(ctx context.Context, runID string) (*state.RunState, error) {
	if ar, ok := e.activeRun(runID); ok {
		if rs := ar.snapshot.Load(); rs != nil {
			return rs.Clone(), nil
		}
	}
	return e.store.Load(ctx, runID)
}

// List returns the ids of checkpointed runs.
func (e *Executor) List(ctx context.Context) ([]string, error) {
	return e.store.List(ctx)
}

// RunMany executes independent runs with at most parallelism in flight
// (the configured default when parallelism <= 0). Results are positional;
// a request that could not be run has a nil state and contributes to the
// joined error.
func (e *Executor) RunMany(ctx context.Context, reqs []RunRequest, parallelism int) ([]*state.RunState, error) {
	if parallelism <= 0 {
		parallelism = e.parallelism
	}
	results := make([]*state.RunState, len(reqs))
	errs := make([]error, len(reqs))

	var eg errgroup.Group
	eg.SetLimit(parallelism)
	for i, req := range reqs {
		eg.Go(func() error {
			rs, err := e.Run(ctx, req)
			results[i] = rs
			if err != nil {
				errs[i] = fmt.Errorf("run %d (%s): %w", i, req.GraphID, err)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return results, errors.Join(errs...)
}
