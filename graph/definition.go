package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ConditionKind selects how a transition is gated.
type ConditionKind string

const (
	OnSuccess  ConditionKind = "on_success"
	OnFailure  ConditionKind = "on_failure"
	Always     ConditionKind = "always"
	Expression ConditionKind = "expression"
)

// conditionalAlias is accepted on input as a synonym for Expression.
const conditionalAlias ConditionKind = "conditional"

// Definition is the serializable description of a workflow graph.
type Definition struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	Goal        string            `json:"goal,omitempty" yaml:"goal,omitempty"`
	Entry       string            `json:"entry" yaml:"entry"`
	EntryPoints map[string]string `json:"entry_points,omitempty" yaml:"entry_points,omitempty"`
	Inputs      []string          `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Terminal    []string          `json:"terminal,omitempty" yaml:"terminal,omitempty"`
	Pause       []string          `json:"pause,omitempty" yaml:"pause,omitempty"`
	Limits      Limits            `json:"limits,omitempty" yaml:"limits,omitempty"`
	Steps       []StepDef         `json:"steps" yaml:"steps"`
	Transitions []TransitionDef   `json:"transitions" yaml:"transitions"`
}

// Limits bounds a single run.
type Limits struct {
	// MaxIterations caps executed steps per run. Zero means the executor default.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	// MaxToolCallsPerTurn caps tool calls a step may report. Zero disables the check.
	MaxToolCallsPerTurn int `json:"max_tool_calls_per_turn,omitempty" yaml:"max_tool_calls_per_turn,omitempty"`
	// MaxHistoryTokens caps the token size of the run context. Zero disables the check.
	MaxHistoryTokens int `json:"max_history_tokens,omitempty" yaml:"max_history_tokens,omitempty"`
}

// StepDef describes one step.
type StepDef struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Capability  string         `json:"capability,omitempty" yaml:"capability,omitempty"`
	Pause       bool           `json:"pause,omitempty" yaml:"pause,omitempty"`
	Terminal    bool           `json:"terminal,omitempty" yaml:"terminal,omitempty"`
	Timeout     Duration       `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Tools       []string       `json:"tools,omitempty" yaml:"tools,omitempty"`
	Outputs     []string       `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Exports     []string       `json:"exports,omitempty" yaml:"exports,omitempty"`
	HumanInputs []string       `json:"human_inputs,omitempty" yaml:"human_inputs,omitempty"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// TransitionDef describes one directed, gated edge.
type TransitionDef struct {
	ID        string        `json:"id" yaml:"id"`
	Source    string        `json:"source" yaml:"source"`
	Target    string        `json:"target" yaml:"target"`
	Condition ConditionKind `json:"condition" yaml:"condition"`
	Expr      string        `json:"expr,omitempty" yaml:"expr,omitempty"`
	Priority  int           `json:"priority,omitempty" yaml:"priority,omitempty"`
	Label     string        `json:"label,omitempty" yaml:"label,omitempty"`
}

// Duration is a time.Duration that serializes as a Go duration string.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case nil:
		*d = 0
	case string:
		if v == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}
