package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/pipeflow/condition"
)

// Validate reports every structural defect in def, joined with errors.Join.
func Validate(def *Definition) error {
	_, err := Compile(def)
	return err
}

// Compile validates def and builds an immutable Graph. All defects are
// collected; the returned error unwraps to one *Error per defect.
func Compile(def *Definition) (*Graph, error) {
	if def == nil {
		return nil, &Error{Kind: ErrNoEntry, Detail: "nil definition"}
	}

	c := &compiler{def: def}
	g := c.compile()
	if len(c.errs) > 0 {
		return nil, errors.Join(c.errs...)
	}
	return g, nil
}

type compiler struct {
	def  *Definition
	errs []error
}

func (c *compiler) fail(kind error, stepID, transitionID, format string, args ...any) {
	c.errs = append(c.errs, &Error{
		Kind:         kind,
		StepID:       stepID,
		TransitionID: transitionID,
		Detail:       fmt.Sprintf(format, args...),
	})
}

func (c *compiler) compile() *Graph {
	def := c.def
	g := &Graph{
		def:         cloneDefinition(def),
		entryPoints: map[string]string{},
		steps:       map[string]*Step{},
		outgoing:    map[string][]*Transition{},
		inputs:      append([]string(nil), def.Inputs...),
		limits:      def.Limits,
	}

	for _, sd := range def.Steps {
		if sd.ID == "" {
			c.fail(ErrSchema, "", "", "step without id")
			continue
		}
		if _, dup := g.steps[sd.ID]; dup {
			c.fail(ErrDuplicateStep, sd.ID, "", "declared more than once")
			continue
		}
		g.steps[sd.ID] = &Step{
			ID:          sd.ID,
			Name:        sd.Name,
			Description: sd.Description,
			Capability:  sd.Capability,
			Pause:       sd.Pause,
			Terminal:    sd.Terminal,
			Timeout:     sd.Timeout.Std(),
			Tools:       append([]string(nil), sd.Tools...),
			Outputs:     append([]string(nil), sd.Outputs...),
			Exports:     append([]string(nil), sd.Exports...),
			HumanInputs: append([]string(nil), sd.HumanInputs...),
			Config:      cloneConfig(sd.Config),
		}
		g.stepOrder = append(g.stepOrder, sd.ID)
	}

	for _, id := range def.Terminal {
		if s, ok := g.steps[id]; ok {
			s.Terminal = true
		} else {
			c.fail(ErrDanglingReference, id, "", "terminal marker names an unknown step")
		}
	}
	for _, id := range def.Pause {
		if s, ok := g.steps[id]; ok {
			s.Pause = true
		} else {
			c.fail(ErrDanglingReference, id, "", "pause marker names an unknown step")
		}
	}
	for _, id := range g.stepOrder {
		if s := g.steps[id]; s.Pause && s.Terminal {
			c.fail(ErrPauseTerminal, id, "", "")
		}
	}

	if def.Entry == "" {
		c.fail(ErrNoEntry, "", "", "entry is empty")
	} else if _, ok := g.steps[def.Entry]; !ok {
		c.fail(ErrNoEntry, def.Entry, "", "entry names an unknown step")
	}
	g.entry = def.Entry
	for name, id := range def.EntryPoints {
		if _, ok := g.steps[id]; !ok {
			c.fail(ErrDanglingReference, id, "", "entry point %q names an unknown step", name)
			continue
		}
		g.entryPoints[name] = id
	}

	l := def.Limits
	if l.MaxIterations < 0 || l.MaxToolCallsPerTurn < 0 || l.MaxHistoryTokens < 0 {
		c.fail(ErrInvalidLimits, "", "", "limits must not be negative")
	}

	global := c.globalKeys(g)
	ids := map[string]bool{}
	for i, td := range def.Transitions {
		t := &Transition{
			ID:       td.ID,
			Source:   td.Source,
			Target:   td.Target,
			Priority: td.Priority,
			Label:    td.Label,
			Order:    i,
		}
		if t.ID == "" {
			t.ID = fmt.Sprintf("%s->%s#%d", td.Source, td.Target, i)
		}
		if ids[t.ID] {
			c.fail(ErrDuplicateTransition, "", t.ID, "declared more than once")
			continue
		}
		ids[t.ID] = true

		src, srcOK := g.steps[td.Source]
		if !srcOK {
			c.fail(ErrDanglingReference, td.Source, t.ID, "unknown source step")
		}
		if _, ok := g.steps[td.Target]; !ok {
			c.fail(ErrDanglingReference, td.Target, t.ID, "unknown target step")
		}

		cond, ok := c.condition(t.ID, td)
		if !ok {
			continue
		}
		t.Condition = cond
		if cond.Expr != nil && srcOK {
			c.checkKeys(t, src, cond.Expr, global)
		}
		if srcOK {
			g.transitions = append(g.transitions, t)
			g.outgoing[t.Source] = append(g.outgoing[t.Source], t)
		}
	}

	for _, id := range g.stepOrder {
		sortOutgoing(g.outgoing[id])
		s := g.steps[id]
		if !s.Terminal && len(g.outgoing[id]) == 0 {
			c.fail(ErrDeadEnd, id, "", "non-terminal step has no outgoing transitions")
		}
	}

	return g
}

func (c *compiler) condition(transitionID string, td TransitionDef) (Condition, bool) {
	kind := td.Condition
	switch kind {
	case "":
		kind = OnSuccess
	case conditionalAlias:
		kind = Expression
	}

	switch kind {
	case OnSuccess, OnFailure, Always:
		if strings.TrimSpace(td.Expr) != "" {
			c.fail(ErrInvalidCondition, "", transitionID, "expr is only allowed with condition %q", Expression)
			return Condition{}, false
		}
		return Condition{Kind: kind}, true
	case Expression:
		if strings.TrimSpace(td.Expr) == "" {
			c.fail(ErrInvalidCondition, "", transitionID, "expression condition without expr")
			return Condition{}, false
		}
		expr, err := condition.Parse(td.Expr)
		if err != nil {
			c.fail(ErrInvalidCondition, "", transitionID, "%v", err)
			return Condition{}, false
		}
		return Condition{Kind: Expression, Expr: expr}, true
	default:
		c.fail(ErrInvalidCondition, "", transitionID, "unknown condition kind %q", td.Condition)
		return Condition{}, false
	}
}

// globalKeys returns the context keys any step may observe: graph inputs,
// exported and human-supplied keys, and every namespaced step output.
func (c *compiler) globalKeys(g *Graph) map[string]bool {
	keys := map[string]bool{}
	for _, k := range g.inputs {
		keys[k] = true
	}
	for _, id := range g.stepOrder {
		s := g.steps[id]
		for _, k := range s.Exports {
			keys[k] = true
			keys[id+"."+k] = true
		}
		for _, k := range s.HumanInputs {
			keys[k] = true
		}
		for _, k := range s.Outputs {
			keys[id+"."+k] = true
		}
	}
	return keys
}

func (c *compiler) checkKeys(t *Transition, src *Step, expr *condition.Expr, global map[string]bool) {
	local := map[string]bool{}
	for _, list := range [][]string{src.Outputs, src.Exports, src.HumanInputs} {
		for _, k := range list {
			local[k] = true
		}
	}
	for _, key := range expr.Keys() {
		if keyKnown(key, global) || keyKnown(key, local) {
			continue
		}
		c.fail(ErrUnknownContextKey, t.Source, t.ID, "expression reads %q which no input, step output or human input provides", key)
	}
}

// keyKnown accepts a key or any dotted path below a known key.
func keyKnown(key string, known map[string]bool) bool {
	if known[key] {
		return true
	}
	for i := strings.LastIndexByte(key, '.'); i > 0; i = strings.LastIndexByte(key[:i], '.') {
		if known[key[:i]] {
			return true
		}
	}
	return false
}

// cloneDefinition deep-copies def so a compiled Graph shares no slices or
// maps with its caller.
func cloneDefinition(def *Definition) *Definition {
	cp := *def
	cp.Inputs = cloneStrings(def.Inputs)
	cp.Terminal = cloneStrings(def.Terminal)
	cp.Pause = cloneStrings(def.Pause)
	if def.EntryPoints != nil {
		cp.EntryPoints = make(map[string]string, len(def.EntryPoints))
		for k, v := range def.EntryPoints {
			cp.EntryPoints[k] = v
		}
	}
	if def.Steps != nil {
		cp.Steps = make([]StepDef, len(def.Steps))
		for i, sd := range def.Steps {
			sd.Tools = cloneStrings(sd.Tools)
			sd.Outputs = cloneStrings(sd.Outputs)
			sd.Exports = cloneStrings(sd.Exports)
			sd.HumanInputs = cloneStrings(sd.HumanInputs)
			sd.Config = cloneConfig(sd.Config)
			cp.Steps[i] = sd
		}
	}
	cp.Transitions = append([]TransitionDef(nil), def.Transitions...)
	return &cp
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneConfig(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneConfig(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
