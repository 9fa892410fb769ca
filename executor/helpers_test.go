package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/checkpoint"
	"github.com/BaSui01/pipeflow/events"
	"github.com/BaSui01/pipeflow/goal"
	"github.com/BaSui01/pipeflow/graph"
	"github.com/BaSui01/pipeflow/state"
	"github.com/BaSui01/pipeflow/step"
)

// counter counts capability invocations by name.
type counter struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *counter) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = map[string]int{}
	}
	c.n[name]++
}

func (c *counter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

type harness struct {
	exec     *Executor
	registry *step.Registry
	store    checkpoint.Store
	locker   *checkpoint.MemoryLocker
	calls    *counter
	events   *recorder
}

// recorder collects published events in order.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type runObserver struct {
	started     atomic.Int32
	finished    atomic.Int32
	transitions atomic.Int32
	lastStatus  atomic.Value
}

func (o *runObserver) ObserveRunStarted(string) { o.started.Add(1) }

func (o *runObserver) ObserveRunFinished(_ string, s state.Status, _ time.Duration) {
	o.finished.Add(1)
	o.lastStatus.Store(s)
}

func (o *runObserver) ObserveTransition(string, string, string) { o.transitions.Add(1) }

func newHarness(t *testing.T, store checkpoint.Store, opts ...Option) *harness {
	t.Helper()
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	h := &harness{
		registry: step.NewRegistry(),
		store:    store,
		locker:   checkpoint.NewMemoryLocker(),
		calls:    &counter{},
		events:   &recorder{},
	}
	runner := step.NewRunner(h.registry, step.WithLogger(zap.NewNop()))
	base := []Option{
		WithLocker(h.locker),
		WithEvents(h.events),
		WithLogger(zap.NewNop()),
	}
	h.exec = New(runner, store, append(base, opts...)...)
	return h
}

// capability registers name; fn decides the outcome.
func (h *harness) capability(t *testing.T, name string, fn func(ctx context.Context, req step.Request) state.Outcome) {
	t.Helper()
	require.NoError(t, h.registry.Register(name, step.CapabilityFunc(func(ctx context.Context, req step.Request) (state.Outcome, error) {
		h.calls.inc(name)
		return fn(ctx, req), nil
	})))
}

// succeed registers a capability that always succeeds with data.
func (h *harness) succeed(t *testing.T, name string, data map[string]any) {
	h.capability(t, name, func(context.Context, step.Request) state.Outcome {
		return state.Succeeded(data)
	})
}

func (h *harness) register(t *testing.T, g *graph.Graph, gl *goal.Goal) {
	t.Helper()
	require.NoError(t, h.exec.RegisterGraph(g, gl))
}

// reviewGraph is intake -> review (pause) -> publish, with review looping
// back to intake unless approved.
func reviewGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.NewBuilder("review").
		WithGoal("review-goal").
		WithInputs("topic").
		Step(graph.StepDef{ID: "intake", Capability: "intake", Outputs: []string{"brief"}}).
		Step(graph.StepDef{ID: "review", Capability: "review", Pause: true, Outputs: []string{"outline"}, HumanInputs: []string{"approved", "notes"}}).
		Step(graph.StepDef{ID: "publish", Capability: "publish", Terminal: true, Exports: []string{"published"}}).
		Transition("intake", "review", graph.OnSuccess, 1).
		When("review", "publish", "str(approved).lower() == 'true'", 1).
		When("review", "intake", "str(approved).lower() != 'true'", 2).
		Build()
	require.NoError(t, err)
	return g
}

func reviewGoal() *goal.Goal {
	return &goal.Goal{
		ID: "review-goal",
		SuccessCriteria: []goal.Criterion{
			{ID: "published", Metric: "published", Target: "true", Weight: 0.5},
			{ID: "approved", Metric: "approved", Target: "true", Weight: 0.5},
		},
	}
}

func (h *harness) reviewPipeline(t *testing.T) {
	t.Helper()
	h.capability(t, "intake", func(_ context.Context, req step.Request) state.Outcome {
		return state.Succeeded(map[string]any{"brief": "about " + condString(req.Context["topic"])})
	})
	h.succeed(t, "review", map[string]any{"outline": "1. intro 2. body"})
	h.succeed(t, "publish", map[string]any{"published": true})
	h.register(t, reviewGraph(t), reviewGoal())
}

func condString(v any) string {
	s, _ := v.(string)
	return s
}
