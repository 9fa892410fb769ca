package graph

import (
	"sort"
	"time"

	"github.com/BaSui01/pipeflow/condition"
)

// Step is a compiled step. Values returned from a Graph must not be modified.
type Step struct {
	ID          string
	Name        string
	Description string
	Capability  string
	Pause       bool
	Terminal    bool
	Timeout     time.Duration
	Tools       []string
	Outputs     []string
	Exports     []string
	HumanInputs []string
	Config      map[string]any
}

// Condition is a compiled transition gate.
type Condition struct {
	Kind ConditionKind
	Expr *condition.Expr
}

func (c Condition) String() string {
	if c.Kind == Expression && c.Expr != nil {
		return c.Expr.String()
	}
	return string(c.Kind)
}

// Transition is a compiled edge. Order is its declaration index and breaks
// priority ties.
type Transition struct {
	ID        string
	Source    string
	Target    string
	Condition Condition
	Priority  int
	Label     string
	Order     int
}

// Graph is an immutable, validated workflow graph.
type Graph struct {
	def         *Definition
	entry       string
	entryPoints map[string]string
	steps       map[string]*Step
	stepOrder   []string
	transitions []*Transition
	outgoing    map[string][]*Transition
	inputs      []string
	limits      Limits
}

func (g *Graph) ID() string          { return g.def.ID }
func (g *Graph) Name() string        { return g.def.Name }
func (g *Graph) Version() string     { return g.def.Version }
func (g *Graph) GoalID() string      { return g.def.Goal }
func (g *Graph) Entry() string       { return g.entry }
func (g *Graph) Limits() Limits      { return g.limits }
func (g *Graph) Inputs() []string    { return append([]string(nil), g.inputs...) }
func (g *Graph) NumSteps() int       { return len(g.stepOrder) }
func (g *Graph) NumTransitions() int { return len(g.transitions) }

// EntryPoint resolves a named entry point. The empty name and "start"
// resolve to the default entry.
func (g *Graph) EntryPoint(name string) (string, bool) {
	if name == "" || name == "start" {
		return g.entry, true
	}
	id, ok := g.entryPoints[name]
	return id, ok
}

// Step returns the step with the given id.
func (g *Graph) Step(id string) (*Step, bool) {
	s, ok := g.steps[id]
	return s, ok
}

// Steps returns steps in declaration order.
func (g *Graph) Steps() []*Step {
	out := make([]*Step, 0, len(g.stepOrder))
	for _, id := range g.stepOrder {
		out = append(out, g.steps[id])
	}
	return out
}

// Transitions returns all transitions in declaration order.
func (g *Graph) Transitions() []*Transition {
	return append([]*Transition(nil), g.transitions...)
}

// Outgoing returns the transitions leaving stepID ordered by ascending
// priority, then declaration order.
func (g *Graph) Outgoing(stepID string) []*Transition {
	return append([]*Transition(nil), g.outgoing[stepID]...)
}

func (g *Graph) IsTerminal(stepID string) bool {
	s, ok := g.steps[stepID]
	return ok && s.Terminal
}

func (g *Graph) IsPause(stepID string) bool {
	s, ok := g.steps[stepID]
	return ok && s.Pause
}

// TerminalSteps returns terminal step ids in declaration order.
func (g *Graph) TerminalSteps() []string {
	var out []string
	for _, id := range g.stepOrder {
		if g.steps[id].Terminal {
			out = append(out, id)
		}
	}
	return out
}

// PauseSteps returns pause step ids in declaration order.
func (g *Graph) PauseSteps() []string {
	var out []string
	for _, id := range g.stepOrder {
		if g.steps[id].Pause {
			out = append(out, id)
		}
	}
	return out
}

// Definition returns a deep copy of the definition the graph was compiled from.
func (g *Graph) Definition() Definition {
	return *cloneDefinition(g.def)
}

func sortOutgoing(ts []*Transition) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].Priority != ts[j].Priority {
			return ts[i].Priority < ts[j].Priority
		}
		return ts[i].Order < ts[j].Order
	})
}
