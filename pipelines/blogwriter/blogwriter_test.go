package blogwriter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/checkpoint"
	"github.com/BaSui01/pipeflow/executor"
	"github.com/BaSui01/pipeflow/graph"
	"github.com/BaSui01/pipeflow/state"
	"github.com/BaSui01/pipeflow/step"
)

func TestGraph(t *testing.T) {
	g, err := Graph()
	require.NoError(t, err)

	assert.Equal(t, GraphID, g.ID())
	assert.Equal(t, GoalID, g.GoalID())
	assert.Equal(t, "1.0.0", g.Version())
	assert.Equal(t, "intake", g.Entry())
	assert.Equal(t, graph.Limits{MaxIterations: 120, MaxToolCallsPerTurn: 20, MaxHistoryTokens: 32000}, g.Limits())
	assert.Equal(t, []string{"publish"}, g.TerminalSteps())
	assert.ElementsMatch(t, []string{"outline_review", "quality_gate"}, g.PauseSteps())
	assert.Equal(t, 8, g.NumSteps())
	assert.Equal(t, 9, g.NumTransitions())

	entry, ok := g.EntryPoint("start")
	require.True(t, ok)
	assert.Equal(t, "intake", entry)

	out := g.Outgoing("outline_review")
	require.Len(t, out, 2)
	assert.Equal(t, "outline-review-to-draft", out[0].ID)
	assert.Equal(t, "outline-review-to-positioning", out[1].ID)

	var caps []string
	for _, s := range g.Steps() {
		caps = append(caps, s.Capability)
	}
	assert.Equal(t, Steps, caps)
	for _, w := range g.Lint() {
		assert.NotContains(t, w.Message, "unreachable", w.StepID)
	}
}

func TestGoal(t *testing.T) {
	gl, err := Goal()
	require.NoError(t, err)
	assert.Equal(t, GoalID, gl.ID)
	require.Len(t, gl.SuccessCriteria, 5)
	for _, c := range gl.SuccessCriteria {
		assert.InDelta(t, 0.2, c.Weight, 1e-9, c.ID)
	}
	assert.Len(t, gl.Advisories(), 3)
}

func TestGraphYAMLIsCopy(t *testing.T) {
	b := GraphYAML()
	b[0] = '#'
	_, err := Graph()
	assert.NoError(t, err)
}

// scripted registers a capability per step that returns fixed data.
func scripted(t *testing.T, visits map[string]int) *step.Registry {
	t.Helper()
	data := map[string]map[string]any{
		"intake":      {"audience": "ops leaders", "objective": "book demos"},
		"research":    {"sources": []any{"a", "b", "c", "d", "e", "f"}, "source_count": 6},
		"positioning": {"thesis": "automation pays", "outline": []any{"why", "how", "cta"}},
		"write_draft": {"draft": "...", "citation_coverage": 100, "cta_present": true},
		"seo_optimize": {
			"title": "Automation pays", "meta_description": "",
			"keywords": []any{"automation"}, "seo_metadata_complete": false,
		},
		"publish": {"published_path": "posts/automation-pays.md"},
	}
	reg := step.NewRegistry()
	for _, name := range Steps {
		out := data[name]
		reg.MustRegister(name, step.CapabilityFunc(func(context.Context, step.Request) (state.Outcome, error) {
			visits[name]++
			return state.Succeeded(out), nil
		}))
	}
	return reg
}

func TestScenario_OutlineLoopThenPublish(t *testing.T) {
	visits := map[string]int{}
	runner := step.NewRunner(scripted(t, visits), step.WithLogger(zap.NewNop()))
	exec := executor.New(runner, checkpoint.NewMemoryStore(), executor.WithLogger(zap.NewNop()))
	require.NoError(t, Register(exec))
	ctx := context.Background()

	rs, err := exec.Start(ctx, GraphID, map[string]any{"topic": "workflow automation"})
	require.NoError(t, err)
	require.Equal(t, state.StatusPaused, rs.Status)
	assert.Equal(t, "outline_review", rs.CurrentStep)

	rs, err = exec.Resume(ctx, rs.RunID, map[string]any{
		"needs_outline_changes": true,
		"outline_feedback":      "lead with the cost numbers",
	})
	require.NoError(t, err)
	require.Equal(t, state.StatusPaused, rs.Status)
	assert.Equal(t, "outline_review", rs.CurrentStep)
	assert.Equal(t, 2, rs.Visits["positioning"])

	rs, err = exec.Resume(ctx, rs.RunID, map[string]any{
		"needs_outline_changes": false,
		"user_approval":         true,
	})
	require.NoError(t, err)
	require.Equal(t, state.StatusPaused, rs.Status)
	assert.Equal(t, "quality_gate", rs.CurrentStep)

	rs, err = exec.Resume(ctx, rs.RunID, map[string]any{"needs_revision": "False"})
	require.NoError(t, err)

	require.Equal(t, state.StatusSucceeded, rs.Status)
	assert.Equal(t, "publish", rs.CurrentStep)
	assert.Equal(t, 2, rs.Visits["positioning"])
	assert.Equal(t, 2, visits["positioning"])
	assert.Equal(t, 2, visits["outline_review"])
	assert.Equal(t, 1, visits["write_draft"])
	assert.Equal(t, 10, rs.Iterations)
	assert.Equal(t, "lead with the cost numbers", rs.Context["outline_feedback"])
	assert.Equal(t, "posts/automation-pays.md", rs.Context["published_path"])

	require.NotNil(t, rs.Score)
	assert.InDelta(t, 0.8, rs.Score.Overall, 1e-9)
	assert.True(t, rs.Score.Met("source-quality"))
	assert.True(t, rs.Score.Met("citation-coverage"))
	assert.True(t, rs.Score.Met("outline-approval"))
	assert.False(t, rs.Score.Met("seo-basics"))
	assert.True(t, rs.Score.Met("cta-present"))
}

func TestScenario_RevisionLoop(t *testing.T) {
	visits := map[string]int{}
	runner := step.NewRunner(scripted(t, visits))
	exec := executor.New(runner, checkpoint.NewMemoryStore(), executor.WithLogger(zap.NewNop()))
	require.NoError(t, Register(exec))
	ctx := context.Background()

	rs, err := exec.Start(ctx, GraphID, map[string]any{"topic": "x"})
	require.NoError(t, err)
	rs, err = exec.Resume(ctx, rs.RunID, map[string]any{"user_approval": true})
	require.NoError(t, err)
	require.Equal(t, "quality_gate", rs.CurrentStep)

	rs, err = exec.Resume(ctx, rs.RunID, map[string]any{"needs_revision": true, "revision_notes": "shorter"})
	require.NoError(t, err)
	require.Equal(t, "quality_gate", rs.CurrentStep)
	assert.Equal(t, 2, visits["write_draft"])
	assert.Equal(t, 2, visits["seo_optimize"])

	// needs_revision stays in context, so it must be cleared explicitly
	rs, err = exec.Resume(ctx, rs.RunID, map[string]any{"needs_revision": false})
	require.NoError(t, err)
	assert.Equal(t, state.StatusSucceeded, rs.Status)
}
