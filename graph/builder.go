package graph

// Builder assembles a Definition in code.
type Builder struct {
	def Definition
}

// NewBuilder starts a definition with the given id.
func NewBuilder(id string) *Builder {
	return &Builder{def: Definition{ID: id}}
}

func (b *Builder) WithName(name string) *Builder {
	b.def.Name = name
	return b
}

func (b *Builder) WithGoal(goalID string) *Builder {
	b.def.Goal = goalID
	return b
}

func (b *Builder) WithInputs(keys ...string) *Builder {
	b.def.Inputs = append(b.def.Inputs, keys...)
	return b
}

func (b *Builder) WithLimits(l Limits) *Builder {
	b.def.Limits = l
	return b
}

// Entry sets the default entry step.
func (b *Builder) Entry(stepID string) *Builder {
	b.def.Entry = stepID
	return b
}

// Step appends a step. The first step added becomes the entry unless Entry is called.
func (b *Builder) Step(s StepDef) *Builder {
	if b.def.Entry == "" {
		b.def.Entry = s.ID
	}
	b.def.Steps = append(b.def.Steps, s)
	return b
}

// Transition appends a transition with the given condition kind and priority.
func (b *Builder) Transition(source, target string, kind ConditionKind, priority int) *Builder {
	b.def.Transitions = append(b.def.Transitions, TransitionDef{
		Source:    source,
		Target:    target,
		Condition: kind,
		Priority:  priority,
	})
	return b
}

// When appends an expression-gated transition.
func (b *Builder) When(source, target, expr string, priority int) *Builder {
	b.def.Transitions = append(b.def.Transitions, TransitionDef{
		Source:    source,
		Target:    target,
		Condition: Expression,
		Expr:      expr,
		Priority:  priority,
	})
	return b
}

// Definition returns the definition built so far.
func (b *Builder) Definition() *Definition {
	return cloneDefinition(&b.def)
}

// Build compiles the definition.
func (b *Builder) Build() (*Graph, error) {
	return Compile(b.Definition())
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}
