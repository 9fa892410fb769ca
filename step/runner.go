package step

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/pipeflow/credentials"
	"github.com/BaSui01/pipeflow/graph"
	"github.com/BaSui01/pipeflow/state"
)

const instrumentationName = "github.com/BaSui01/pipeflow/step"

// ErrTimeout is reported in the outcome of a step that overran its deadline.
var ErrTimeout = errors.New("step timed out")

// Observer receives per-step measurements.
type Observer interface {
	ObserveStep(graphID, stepID string, success bool, d time.Duration)
}

// Runner executes step bodies.
type Runner struct {
	registry       *Registry
	defaultTimeout time.Duration
	limiter        *rate.Limiter
	catalog        *credentials.Catalog
	lookupEnv      credentials.LookupEnv
	observer       Observer
	tracer         trace.Tracer
	logger         *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithDefaultTimeout applies to steps that declare no timeout. Zero disables it.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Runner) { r.defaultTimeout = d }
}

// WithRateLimiter throttles capability calls across all runs sharing the Runner.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(r *Runner) { r.limiter = l }
}

// WithCredentials enables credential preflight for step tools.
func WithCredentials(c *credentials.Catalog, lookup credentials.LookupEnv) Option {
	return func(r *Runner) {
		r.catalog = c
		r.lookupEnv = lookup
	}
}

func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l.With(zap.String("component", "step_runner"))
		}
	}
}

// NewRunner creates a Runner over reg.
func NewRunner(reg *Registry, opts ...Option) *Runner {
	r := &Runner{
		registry: reg,
		tracer:   otel.Tracer(instrumentationName),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the capability registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Execute runs the body of s. It never returns an error: every failure,
// including timeouts, panics, missing capabilities and tool call overruns,
// is a failed outcome. A step without a capability succeeds with no data.
// maxToolCalls of zero disables the tool call check.
func (r *Runner) Execute(ctx context.Context, s *graph.Step, req Request, maxToolCalls int) state.Outcome {
	req.Step = s
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "step.execute",
		trace.WithAttributes(
			attribute.String("pipeflow.run_id", req.RunID),
			attribute.String("pipeflow.graph_id", req.GraphID),
			attribute.String("pipeflow.step_id", s.ID),
			attribute.String("pipeflow.capability", s.Capability),
			attribute.Int("pipeflow.visit", req.Visit),
		))
	defer span.End()

	out := r.execute(ctx, s, req, maxToolCalls)
	out.Duration = time.Since(start)

	if out.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, out.Error)
	}
	if r.observer != nil {
		r.observer.ObserveStep(req.GraphID, s.ID, out.Success, out.Duration)
	}
	r.logger.Debug("step finished",
		zap.String("run_id", req.RunID),
		zap.String("step_id", s.ID),
		zap.Bool("success", out.Success),
		zap.Duration("duration", out.Duration),
		zap.String("error", out.Error),
	)
	return out
}

func (r *Runner) execute(ctx context.Context, s *graph.Step, req Request, maxToolCalls int) state.Outcome {
	if s.Capability == "" {
		return state.Succeeded(nil)
	}

	c, ok := r.registry.Lookup(s.Capability)
	if !ok {
		return state.Failed(fmt.Sprintf("%v: %s", ErrCapabilityNotFound, s.Capability))
	}

	if r.catalog != nil {
		if err := r.catalog.Check(s.Tools, r.lookupEnv); err != nil {
			return state.Failed(err.Error())
		}
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return state.Failed(fmt.Sprintf("rate limiter: %v", err))
		}
	}

	out := r.invoke(ctx, c, req)

	if out.Success && maxToolCalls > 0 && out.ToolCalls > maxToolCalls {
		return state.Outcome{
			Success:   false,
			Data:      out.Data,
			ToolCalls: out.ToolCalls,
			Error:     fmt.Sprintf("step made %d tool calls, limit is %d", out.ToolCalls, maxToolCalls),
		}
	}
	return out
}

type result struct {
	out state.Outcome
	err error
}

// invoke runs the capability in its own goroutine so that a body ignoring
// ctx is abandoned at the deadline instead of blocking the run.
func (r *Runner) invoke(ctx context.Context, c Capability, req Request) state.Outcome {
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("step panicked",
					zap.String("run_id", req.RunID),
					zap.String("step_id", req.Step.ID),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()),
				)
				done <- result{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		out, err := c.Execute(ctx, req)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return state.Failed(ErrTimeout.Error())
			}
			return state.Outcome{Success: false, Data: res.out.Data, Error: res.err.Error(), ToolCalls: res.out.ToolCalls}
		}
		if !res.out.Success && res.out.Error == "" {
			res.out.Error = "step reported failure"
		}
		return res.out
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return state.Failed(ErrTimeout.Error())
		}
		return state.Failed(ctx.Err().Error())
	}
}
