// Package goal scores the final context of a run against a weighted set of
// success criteria.
package goal

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidGoal is matched by every Validate failure.
var ErrInvalidGoal = errors.New("invalid goal")

// Criterion is one weighted success condition on a context metric.
type Criterion struct {
	ID          string  `json:"id" yaml:"id"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Metric      string  `json:"metric" yaml:"metric"`
	Target      string  `json:"target" yaml:"target"`
	Weight      float64 `json:"weight" yaml:"weight"`
}

// Constraint is advisory metadata. It is reported but never scored.
type Constraint struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string `json:"constraint_type,omitempty" yaml:"constraint_type,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
}

// Goal is a named set of criteria and constraints.
type Goal struct {
	ID              string       `json:"id" yaml:"id"`
	Name            string       `json:"name,omitempty" yaml:"name,omitempty"`
	Description     string       `json:"description,omitempty" yaml:"description,omitempty"`
	SuccessCriteria []Criterion  `json:"success_criteria" yaml:"success_criteria"`
	Constraints     []Constraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Validate checks ids, weights and targets.
func (g *Goal) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidGoal)
	}
	seen := map[string]bool{}
	var errs []error
	for i, c := range g.SuccessCriteria {
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("%w: criterion %d has no id", ErrInvalidGoal, i))
		} else if seen[c.ID] {
			errs = append(errs, fmt.Errorf("%w: duplicate criterion %q", ErrInvalidGoal, c.ID))
		}
		seen[c.ID] = true
		if c.Metric == "" {
			errs = append(errs, fmt.Errorf("%w: criterion %q has no metric", ErrInvalidGoal, c.ID))
		}
		if math.IsNaN(c.Weight) || c.Weight < 0 || c.Weight > 1 {
			errs = append(errs, fmt.Errorf("%w: criterion %q weight %v outside [0,1]", ErrInvalidGoal, c.ID, c.Weight))
		}
		if _, err := parseTarget(c.Target); err != nil {
			errs = append(errs, fmt.Errorf("%w: criterion %q: %v", ErrInvalidGoal, c.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Advisories returns the goal's constraints for reporting.
func (g *Goal) Advisories() []Constraint {
	return append([]Constraint(nil), g.Constraints...)
}

// ParseYAML decodes and validates a goal.
func ParseYAML(data []byte) (*Goal, error) {
	var g Goal
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal goal: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadFile reads a goal from a YAML file.
func LoadFile(path string) (*Goal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read goal file: %w", err)
	}
	return ParseYAML(data)
}
