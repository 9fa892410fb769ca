// Package executor drives runs of a compiled graph: it executes steps through
// the step Runner, selects transitions, bounds loops, suspends at pause steps
// and persists checkpoints so that paused runs survive restarts.
//
// Each run is owned by exactly one scheduler loop. The loop holds a lease on
// the run id for as long as it is running; a concurrent Resume of the same run
// fails with checkpoint.ErrLeaseHeld.
package executor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/checkpoint"
	"github.com/BaSui01/pipeflow/config"
	"github.com/BaSui01/pipeflow/events"
	"github.com/BaSui01/pipeflow/goal"
	"github.com/BaSui01/pipeflow/graph"
	"github.com/BaSui01/pipeflow/internal/tokens"
	"github.com/BaSui01/pipeflow/state"
	"github.com/BaSui01/pipeflow/step"
)

const instrumentationName = "github.com/BaSui01/pipeflow/executor"

// Run failure codes. They match RunState.Err() with errors.Is.
var (
	ErrIterationLimitExceeded error = state.CodeIterationLimitExceeded
	ErrResourceLimitExceeded  error = state.CodeResourceLimitExceeded
	ErrNoMatchingTransition   error = state.CodeNoMatchingTransition
	ErrStepFailed             error = state.CodeStepFailed
	ErrAborted                error = state.CodeAborted
)

var (
	ErrUnknownGraph      = errors.New("unknown graph")
	ErrDuplicateGraph    = errors.New("graph already registered")
	ErrUnknownEntryPoint = errors.New("unknown entry point")
	ErrInvalidInput      = errors.New("invalid run input")
	ErrRunExists         = errors.New("run already exists")
	ErrNotPaused         = errors.New("run is not paused")
	ErrRunFinished       = errors.New("run already finished")
	ErrNotInterrupted    = errors.New("run is not interrupted")
)

// ErrInterrupted is the cancel cause a host uses to stop runs without
// finishing them, typically on shutdown. The loop stops at the next step
// boundary and checkpoints the run as running; Recover continues it.
var ErrInterrupted = errors.New("run interrupted")

const (
	defaultMaxIterations = 100
	defaultLeaseTTL      = 30 * time.Second
	defaultParallelism   = 4
	persistTimeout       = 10 * time.Second
)

// Observer receives run level measurements.
type Observer interface {
	ObserveRunStarted(graphID string)
	ObserveRunFinished(graphID string, status state.Status, d time.Duration)
	ObserveTransition(graphID, from, to string)
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxIterations sets the iteration cap for graphs that declare none.
func WithMaxIterations(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithCheckpointEveryStep saves a checkpoint after every transition, not
// only when pausing.
func WithCheckpointEveryStep(on bool) Option {
	return func(e *Executor) { e.checkpointEveryStep = on }
}

// WithRetainCompleted keeps the final checkpoint of finished runs instead of
// deleting it.
func WithRetainCompleted(on bool) Option {
	return func(e *Executor) { e.retainCompleted = on }
}

func WithLocker(l checkpoint.Locker) Option {
	return func(e *Executor) { e.locker = l }
}

func WithLeaseTTL(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.leaseTTL = d
		}
	}
}

// WithParallelism is the default concurrency of RunMany.
func WithParallelism(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

func WithEvents(p events.Publisher) Option {
	return func(e *Executor) {
		if p != nil {
			e.events = p
		}
	}
}

// WithTokenCounter sets the counter used for MaxHistoryTokens.
func WithTokenCounter(c tokens.Counter) Option {
	return func(e *Executor) {
		if c != nil {
			e.tokens = c
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l.With(zap.String("component", "executor"))
		}
	}
}

// ConfigOptions translates the executor section of the configuration.
func ConfigOptions(cfg config.ExecutorConfig, logger *zap.Logger) []Option {
	return []Option{
		WithMaxIterations(cfg.MaxIterations),
		WithCheckpointEveryStep(cfg.CheckpointEveryStep),
		WithRetainCompleted(cfg.RetainCompleted),
		WithLeaseTTL(cfg.LeaseTTL),
		WithParallelism(cfg.Parallelism),
		WithTokenCounter(tokens.NewTiktoken(cfg.TokenEncoding, logger)),
	}
}

type registered struct {
	graph *graph.Graph
	goal  *goal.Goal
}

// Executor runs graphs. It is safe for concurrent use; independent runs
// proceed in parallel.
type Executor struct {
	runner *step.Runner
	store  checkpoint.Store
	locker checkpoint.Locker

	maxIterations       int
	checkpointEveryStep bool
	retainCompleted     bool
	leaseTTL            time.Duration
	parallelism         int

	events   events.Publisher
	tokens   tokens.Counter
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger

	mu     sync.RWMutex
	graphs map[string]registered
	active map[string]*activeRun
}

// New creates an Executor persisting to store. Without WithLocker leases are
// process-local.
func New(runner *step.Runner, store checkpoint.Store, opts ...Option) *Executor {
	e := &Executor{
		runner:        runner,
		store:         store,
		maxIterations: defaultMaxIterations,
		leaseTTL:      defaultLeaseTTL,
		parallelism:   defaultParallelism,
		events:        events.Nop{},
		tokens:        tokens.Estimator{},
		tracer:        otel.Tracer(instrumentationName),
		logger:        zap.NewNop(),
		graphs:        make(map[string]registered),
		active:        make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locker == nil {
		e.locker = checkpoint.NewMemoryLocker()
	}
	return e
}

// RegisterGraph makes g runnable. gl is the goal scored when runs of g
// succeed and may be nil.
func (e *Executor) RegisterGraph(g *graph.Graph, gl *goal.Goal) error {
	if gl != nil {
		if err := gl.Validate(); err != nil {
			return err
		}
		if g.GoalID() != "" && g.GoalID() != gl.ID {
			return fmt.Errorf("%w: graph %s expects goal %q, got %q", goal.ErrInvalidGoal, g.ID(), g.GoalID(), gl.ID)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.graphs[g.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateGraph, g.ID())
	}
	e.graphs[g.ID()] = registered{graph: g, goal: gl}

	if missing := e.runner.Registry().MissingFor(g); len(missing) > 0 {
		e.logger.Warn("graph references unregistered capabilities",
			zap.String("graph_id", g.ID()),
			zap.Strings("capabilities", missing),
		)
	}
	for _, w := range g.Lint() {
		e.logger.Info("graph lint", zap.String("graph_id", g.ID()), zap.String("warning", w.String()))
	}
	return nil
}

// Graph returns a registered graph.
func (e *Executor) Graph(id string) (*graph.Graph, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.graphs[id]
	return r.graph, ok
}

// Graphs returns the registered graphs sorted by id.
func (e *Executor) Graphs() []*graph.Graph {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*graph.Graph, 0, len(e.graphs))
	for _, r := range e.graphs {
		out = append(out, r.graph)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (e *Executor) lookup(graphID string) (registered, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.graphs[graphID]
	if !ok {
		return registered{}, fmt.Errorf("%w: %s", ErrUnknownGraph, graphID)
	}
	return r, nil
}
