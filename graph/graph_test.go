package graph

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewYAML = `
id: review
version: "1"
entry: draft
inputs: [topic]
limits:
  max_iterations: 10
steps:
  - id: draft
    capability: write
    timeout: 30s
    outputs: [text]
  - id: review
    pause: true
    human_inputs: [needs_changes]
  - id: done
    terminal: true
transitions:
  - id: draft-review
    source: draft
    target: review
    condition: on_success
  - id: review-draft
    source: review
    target: draft
    condition: conditional
    expr: "str(needs_changes).lower() == 'true'"
    priority: 2
  - id: review-done
    source: review
    target: done
    condition: expression
    expr: "str(needs_changes).lower() != 'true'"
    priority: 1
`

func TestParseYAML(t *testing.T) {
	g, err := ParseYAML([]byte(reviewYAML))
	require.NoError(t, err)

	assert.Equal(t, "review", g.ID())
	assert.Equal(t, "draft", g.Entry())
	assert.Equal(t, 3, g.NumSteps())
	assert.Equal(t, 10, g.Limits().MaxIterations)
	assert.True(t, g.IsPause("review"))
	assert.True(t, g.IsTerminal("done"))
	assert.Equal(t, []string{"done"}, g.TerminalSteps())
	assert.Equal(t, []string{"review"}, g.PauseSteps())

	draft, ok := g.Step("draft")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, draft.Timeout)

	out := g.Outgoing("review")
	require.Len(t, out, 2)
	assert.Equal(t, "review-done", out[0].ID)
	assert.Equal(t, "review-draft", out[1].ID)
	assert.Equal(t, Expression, out[1].Condition.Kind)
}

func TestOutgoing_PriorityThenDeclarationOrder(t *testing.T) {
	g := NewBuilder("order").
		Step(StepDef{ID: "a"}).
		Step(StepDef{ID: "b", Terminal: true}).
		Step(StepDef{ID: "c", Terminal: true}).
		Step(StepDef{ID: "d", Terminal: true}).
		Transition("a", "b", Always, 5).
		Transition("a", "c", Always, 1).
		Transition("a", "d", Always, 1).
		MustBuild()

	out := g.Outgoing("a")
	require.Len(t, out, 3)
	assert.Equal(t, "c", out[0].Target)
	assert.Equal(t, "d", out[1].Target)
	assert.Equal(t, "b", out[2].Target)

	// Mutating the returned slice does not affect the graph.
	out[0] = nil
	assert.NotNil(t, g.Outgoing("a")[0])
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  *Definition
		kind error
	}{
		{
			name: "missing entry",
			def: &Definition{ID: "x", Entry: "nope",
				Steps: []StepDef{{ID: "a", Terminal: true}}},
			kind: ErrNoEntry,
		},
		{
			name: "empty entry",
			def:  &Definition{ID: "x", Steps: []StepDef{{ID: "a", Terminal: true}}},
			kind: ErrNoEntry,
		},
		{
			name: "dangling target",
			def: &Definition{ID: "x", Entry: "a",
				Steps:       []StepDef{{ID: "a"}},
				Transitions: []TransitionDef{{Source: "a", Target: "ghost"}}},
			kind: ErrDanglingReference,
		},
		{
			name: "dangling terminal marker",
			def: &Definition{ID: "x", Entry: "a", Terminal: []string{"ghost"},
				Steps: []StepDef{{ID: "a", Terminal: true}}},
			kind: ErrDanglingReference,
		},
		{
			name: "dead end",
			def: &Definition{ID: "x", Entry: "a",
				Steps:       []StepDef{{ID: "a"}, {ID: "b"}},
				Transitions: []TransitionDef{{Source: "a", Target: "b"}}},
			kind: ErrDeadEnd,
		},
		{
			name: "duplicate step",
			def: &Definition{ID: "x", Entry: "a",
				Steps: []StepDef{{ID: "a", Terminal: true}, {ID: "a", Terminal: true}}},
			kind: ErrDuplicateStep,
		},
		{
			name: "pause terminal",
			def: &Definition{ID: "x", Entry: "a",
				Steps: []StepDef{{ID: "a", Terminal: true, Pause: true}}},
			kind: ErrPauseTerminal,
		},
		{
			name: "bad expression",
			def: &Definition{ID: "x", Entry: "a",
				Steps: []StepDef{{ID: "a", Outputs: []string{"k"}}, {ID: "b", Terminal: true}},
				Transitions: []TransitionDef{{Source: "a", Target: "b", Condition: Expression, Expr: "k >"}}},
			kind: ErrInvalidCondition,
		},
		{
			name: "unknown kind",
			def: &Definition{ID: "x", Entry: "a",
				Steps:       []StepDef{{ID: "a"}, {ID: "b", Terminal: true}},
				Transitions: []TransitionDef{{Source: "a", Target: "b", Condition: "sometimes"}}},
			kind: ErrInvalidCondition,
		},
		{
			name: "unknown key",
			def: &Definition{ID: "x", Entry: "a",
				Steps:       []StepDef{{ID: "a"}, {ID: "b", Terminal: true}},
				Transitions: []TransitionDef{{Source: "a", Target: "b", Condition: Expression, Expr: "mystery == 1"}}},
			kind: ErrUnknownContextKey,
		},
		{
			name: "negative limits",
			def: &Definition{ID: "x", Entry: "a", Limits: Limits{MaxIterations: -1},
				Steps: []StepDef{{ID: "a", Terminal: true}}},
			kind: ErrInvalidLimits,
		},
		{
			name: "duplicate transition id",
			def: &Definition{ID: "x", Entry: "a",
				Steps: []StepDef{{ID: "a"}, {ID: "b", Terminal: true}},
				Transitions: []TransitionDef{
					{ID: "t", Source: "a", Target: "b"},
					{ID: "t", Source: "a", Target: "b", Condition: OnFailure},
				}},
			kind: ErrDuplicateTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Compile(tt.def)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestCompile_CollectsAllDefects(t *testing.T) {
	_, err := Compile(&Definition{
		ID:    "x",
		Entry: "missing",
		Steps: []StepDef{{ID: "a"}, {ID: "b", Pause: true, Terminal: true}, {ID: "c"}},
		Transitions: []TransitionDef{
			{Source: "a", Target: "ghost"},
		},
	})
	require.Error(t, err)

	defects := Errors(err)
	kinds := map[error]bool{}
	for _, d := range defects {
		kinds[d.Kind] = true
	}
	assert.True(t, kinds[ErrNoEntry])
	assert.True(t, kinds[ErrDanglingReference])
	assert.True(t, kinds[ErrDeadEnd])
	assert.True(t, kinds[ErrPauseTerminal])
}

func TestLoadFile_ReportsEveryDefect(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
id: broken
entry: missing
steps:
  - id: a
transitions:
  - id: a-ghost
    source: a
    target: ghost
    condition: always
`), 0o644))

	_, err := LoadFile(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), p)

	defects := Errors(err)
	require.Len(t, defects, 2)
	assert.ErrorIs(t, defects[0], ErrNoEntry)
	assert.ErrorIs(t, defects[1], ErrDanglingReference)
	assert.Equal(t, "a-ghost", defects[1].TransitionID)
}

func TestCompile_KnownKeys(t *testing.T) {
	_, err := NewBuilder("keys").
		WithInputs("topic").
		Step(StepDef{ID: "a", Outputs: []string{"score", "meta"}, Exports: []string{"approved"}}).
		Step(StepDef{ID: "b", Terminal: true}).
		When("a", "b", "topic == 'go' || score == 1 || a.score == 1 || approved || meta.depth == 2", 1).
		Transition("a", "b", Always, 2).
		Build()
	assert.NoError(t, err)
}

func TestDecodeYAML_SchemaViolation(t *testing.T) {
	_, err := DecodeYAML([]byte("id: x\nentry: a\nsteps: []\ntransitions: []\nbogus: 1\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchema))
}

func TestDefinition_RoundTrip(t *testing.T) {
	g, err := ParseYAML([]byte(reviewYAML))
	require.NoError(t, err)
	def := g.Definition()

	data, err := def.ToJSON()
	require.NoError(t, err)
	g2, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Equal(t, g.Entry(), g2.Entry())
	assert.Equal(t, len(g.Transitions()), len(g2.Transitions()))

	y, err := def.ToYAML()
	require.NoError(t, err)
	g3, err := ParseYAML(y)
	require.NoError(t, err)
	s, _ := g3.Step("draft")
	assert.Equal(t, 30*time.Second, s.Timeout)
}

func TestCompile_DefinitionIsIsolated(t *testing.T) {
	def := &Definition{
		ID:          "iso",
		Entry:       "a",
		EntryPoints: map[string]string{"alt": "a"},
		Steps: []StepDef{
			{ID: "a", Tools: []string{"search"}, Outputs: []string{"x"}, Config: map[string]any{"model": map[string]any{"name": "m1"}, "tags": []any{"t1"}}},
			{ID: "b", Terminal: true},
		},
		Transitions: []TransitionDef{{ID: "ab", Source: "a", Target: "b", Condition: Always}},
	}
	g, err := Compile(def)
	require.NoError(t, err)

	def.EntryPoints["alt"] = "b"
	def.Steps[0].Tools[0] = "mutated"
	def.Steps[0].Config["model"].(map[string]any)["name"] = "mutated"

	out := g.Definition()
	assert.Equal(t, "a", out.EntryPoints["alt"])
	assert.Equal(t, "search", out.Steps[0].Tools[0])
	assert.Equal(t, "m1", out.Steps[0].Config["model"].(map[string]any)["name"])

	out.Steps[0].Outputs[0] = "mutated"
	out.Steps[0].Config["tags"].([]any)[0] = "mutated"
	again := g.Definition()
	assert.Equal(t, "x", again.Steps[0].Outputs[0])
	assert.Equal(t, "t1", again.Steps[0].Config["tags"].([]any)[0])

	s, ok := g.Step("a")
	require.True(t, ok)
	assert.Equal(t, "m1", s.Config["model"].(map[string]any)["name"])
	ep, _ := g.EntryPoint("alt")
	assert.Equal(t, "a", ep)
}

func TestLoadGlob(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "review.yaml"), []byte(reviewYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	graphs, err := LoadGlob(filepath.Join(dir, "**", "*.yaml"))
	require.NoError(t, err)
	require.Contains(t, graphs, "review")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "copy.yaml"), []byte(reviewYAML), 0o644))
	_, err = LoadGlob(filepath.Join(dir, "**", "*.yaml"))
	assert.Error(t, err)
}

func TestEntryPoints(t *testing.T) {
	def := &Definition{
		ID:          "ep",
		Entry:       "a",
		EntryPoints: map[string]string{"resume_review": "b"},
		Steps:       []StepDef{{ID: "a"}, {ID: "b", Terminal: true}},
		Transitions: []TransitionDef{{Source: "a", Target: "b"}},
	}
	g, err := Compile(def)
	require.NoError(t, err)

	id, ok := g.EntryPoint("resume_review")
	assert.True(t, ok)
	assert.Equal(t, "b", id)
	id, ok = g.EntryPoint("")
	assert.True(t, ok)
	assert.Equal(t, "a", id)
	_, ok = g.EntryPoint("nope")
	assert.False(t, ok)
}

func TestLint(t *testing.T) {
	g := NewBuilder("lint").
		Step(StepDef{ID: "a"}).
		Step(StepDef{ID: "b", Terminal: true}).
		Step(StepDef{ID: "orphan", Terminal: true}).
		Transition("a", "b", OnSuccess, 1).
		MustBuild()

	warnings := g.Lint()
	var msgs []string
	for _, w := range warnings {
		msgs = append(msgs, w.String())
	}
	assert.Contains(t, msgs, `step "orphan": unreachable from any entry point`)
	assert.Contains(t, msgs, `step "a": no transition matches a failed outcome; failures end the run`)
}
