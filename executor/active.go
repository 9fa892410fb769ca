package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/checkpoint"
	"github.com/BaSui01/pipeflow/state"
)

// activeRun is the in-process handle of a running scheduler loop.
type activeRun struct {
	runID    string
	reason   atomic.Pointer[string]
	snapshot atomic.Pointer[state.RunState]
}

func (a *activeRun) publish(rs *state.RunState) {
	a.snapshot.Store(rs.Clone())
}

// requestAbort only flags the run. The step in flight keeps its context and
// the loop stops at the next boundary.
func (a *activeRun) requestAbort(reason string) {
	a.reason.CompareAndSwap(nil, &reason)
}

func (a *activeRun) abortRequested() (string, bool) {
	if r := a.reason.Load(); r != nil {
		return *r, true
	}
	return "", false
}

// begin acquires the lease for runID, registers the run as active and keeps
// the lease alive until the returned release func is called.
func (e *Executor) begin(ctx context.Context, runID string) (context.Context, *activeRun, func(), error) {
	lease, err := e.locker.Acquire(ctx, runID, e.leaseTTL)
	if err != nil {
		return nil, nil, nil, err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	ar := &activeRun{runID: runID}

	e.mu.Lock()
	e.active[runID] = ar
	e.mu.Unlock()

	stop := make(chan struct{})
	done := make(chan struct{})
	go e.keepAlive(runCtx, lease, stop, done, cancel)

	release := func() {
		close(stop)
		<-done
		e.mu.Lock()
		delete(e.active, runID)
		e.mu.Unlock()
		cancel(nil)

		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer rcancel()
		if err := lease.Release(rctx); err != nil {
			e.logger.Warn("failed to release run lease", zap.String("run_id", runID), zap.Error(err))
		}
	}
	return runCtx, ar, release, nil
}

// keepAlive refreshes the lease at a third of its ttl. Losing the lease
// cancels the run with checkpoint.ErrLeaseLost.
func (e *Executor) keepAlive(ctx context.Context, lease checkpoint.Lease, stop <-chan struct{}, done chan<- struct{}, cancel context.CancelCauseFunc) {
	defer close(done)
	interval := e.leaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Refresh(ctx); err != nil {
				if errors.Is(err, checkpoint.ErrLeaseLost) {
					e.logger.Error("run lease lost", zap.String("run_id", lease.RunID()))
					cancel(err)
					return
				}
				e.logger.Warn("failed to refresh run lease", zap.String("run_id", lease.RunID()), zap.Error(err))
			}
		}
	}
}

func (e *Executor) activeRun(runID string) (*activeRun, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ar, ok := e.active[runID]
	return ar, ok
}
