// Package blogwriter embeds the business blog-writer pipeline: an 8-step
// graph with two human review gates and a weighted goal.
//
//	intake -> research -> positioning -> outline_review -> write_draft
//	                      ^                   |               ^
//	                      +-- outline loop ---+               |
//	                                          seo_optimize -> quality_gate -> publish
//	                                                          +-- revision loop
package blogwriter

import (
	_ "embed"
	"fmt"

	"github.com/BaSui01/pipeflow/goal"
	"github.com/BaSui01/pipeflow/graph"
)

const (
	// GraphID is the id of the embedded graph.
	GraphID = "blog-writer"
	// GoalID is the id of the embedded goal.
	GoalID = "business-blog-writer"
)

// Steps lists the capability names the graph expects to be registered.
var Steps = []string{
	"intake",
	"research",
	"positioning",
	"outline_review",
	"write_draft",
	"seo_optimize",
	"quality_gate",
	"publish",
}

var (
	//go:embed blog_writer.yaml
	graphYAML []byte

	//go:embed goal.yaml
	goalYAML []byte
)

// GraphYAML returns the raw graph definition.
func GraphYAML() []byte { return append([]byte(nil), graphYAML...) }

// Graph compiles the embedded definition.
func Graph() (*graph.Graph, error) {
	g, err := graph.ParseYAML(graphYAML)
	if err != nil {
		return nil, fmt.Errorf("blog writer graph: %w", err)
	}
	return g, nil
}

// Goal parses the embedded goal.
func Goal() (*goal.Goal, error) {
	gl, err := goal.ParseYAML(goalYAML)
	if err != nil {
		return nil, fmt.Errorf("blog writer goal: %w", err)
	}
	return gl, nil
}

// Registrar is satisfied by *executor.Executor.
type Registrar interface {
	RegisterGraph(g *graph.Graph, gl *goal.Goal) error
}

// Register compiles the pipeline and registers it with r.
func Register(r Registrar) error {
	g, err := Graph()
	if err != nil {
		return err
	}
	gl, err := Goal()
	if err != nil {
		return err
	}
	return r.RegisterGraph(g, gl)
}
