package graph

import "fmt"

// Warning is a non-fatal observation about a compiled graph.
type Warning struct {
	StepID  string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("step %q: %s", w.StepID, w.Message)
}

// Lint reports steps that cannot be reached from any entry point and steps
// whose failure outcome has no matching transition. Steps with expression
// transitions are not checked for coverage since their routing depends on
// run-time context.
func (g *Graph) Lint() []Warning {
	var out []Warning

	reached := map[string]bool{}
	var visit func(string)
	visit = func(id string) {
		if reached[id] {
			return
		}
		reached[id] = true
		for _, t := range g.outgoing[id] {
			visit(t.Target)
		}
	}
	visit(g.entry)
	for _, id := range g.entryPoints {
		visit(id)
	}

	for _, id := range g.stepOrder {
		if !reached[id] {
			out = append(out, Warning{StepID: id, Message: "unreachable from any entry point"})
		}
		if g.steps[id].Terminal {
			continue
		}
		success, failure, dynamic := false, false, false
		for _, t := range g.outgoing[id] {
			switch t.Condition.Kind {
			case OnSuccess:
				success = true
			case OnFailure:
				failure = true
			case Always:
				success, failure = true, true
			case Expression:
				dynamic = true
			}
		}
		if dynamic {
			continue
		}
		if !success {
			out = append(out, Warning{StepID: id, Message: "no transition matches a successful outcome"})
		}
		if !failure {
			out = append(out, Warning{StepID: id, Message: "no transition matches a failed outcome; failures end the run"})
		}
	}
	return out
}
