package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/checkpoint"
	"github.com/BaSui01/pipeflow/events"
	"github.com/BaSui01/pipeflow/executor"
	"github.com/BaSui01/pipeflow/graph"
	"github.com/BaSui01/pipeflow/state"
	"github.com/BaSui01/pipeflow/step"
)

// envelope mirrors Response with the payload left raw.
type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *ErrorInfo      `json:"error"`
	RequestID string          `json:"request_id"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env
}

func decodeRun(t *testing.T, env envelope) state.RunState {
	t.Helper()
	var rs state.RunState
	require.NoError(t, json.Unmarshal(env.Data, &rs))
	return rs
}

// reviewExecutor runs intake -> review (pause) -> publish with review
// looping back to intake unless approved.
func reviewExecutor(t *testing.T, bus events.Publisher) *executor.Executor {
	t.Helper()
	reg := step.NewRegistry()
	reg.MustRegister("intake", step.CapabilityFunc(func(context.Context, step.Request) (state.Outcome, error) {
		return state.Succeeded(map[string]any{"brief": "b"}), nil
	}))
	reg.MustRegister("review", step.CapabilityFunc(func(context.Context, step.Request) (state.Outcome, error) {
		return state.Succeeded(map[string]any{"outline": "o"}), nil
	}))
	reg.MustRegister("publish", step.CapabilityFunc(func(context.Context, step.Request) (state.Outcome, error) {
		return state.Succeeded(map[string]any{"published": true}), nil
	}))

	if bus == nil {
		bus = events.Nop{}
	}
	exec := executor.New(step.NewRunner(reg), checkpoint.NewMemoryStore(),
		executor.WithEvents(bus),
		executor.WithRetainCompleted(true),
		executor.WithLogger(zap.NewNop()),
	)

	g, err := graph.NewBuilder("review").
		WithInputs("topic").
		Step(graph.StepDef{ID: "intake", Capability: "intake", Outputs: []string{"brief"}}).
		Step(graph.StepDef{ID: "review", Capability: "review", Pause: true, HumanInputs: []string{"approved"}}).
		Step(graph.StepDef{ID: "publish", Capability: "publish", Terminal: true}).
		Transition("intake", "review", graph.OnSuccess, 1).
		When("review", "publish", "str(approved).lower() == 'true'", 1).
		When("review", "intake", "str(approved).lower() != 'true'", 2).
		Build()
	require.NoError(t, err)
	require.NoError(t, exec.RegisterGraph(g, nil))
	return exec
}

func newRunMux(t *testing.T, svc RunService) (*http.ServeMux, *RunHandler) {
	t.Helper()
	h := NewRunHandler(svc, zap.NewNop())
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	mux := http.NewServeMux()
	h.Register(mux)
	return mux, h
}

func do(mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var r *http.Request
	if body == nil {
		r = httptest.NewRequest(method, path, nil)
	} else {
		b, _ := json.Marshal(body)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}
