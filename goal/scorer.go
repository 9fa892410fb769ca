package goal

import (
	"github.com/BaSui01/pipeflow/condition"
)

// Metrics resolves metric names against a run's final context.
type Metrics interface {
	Lookup(key string) (any, bool)
}

// CriterionResult is the score of a single criterion.
type CriterionResult struct {
	ID       string  `json:"id"`
	Metric   string  `json:"metric"`
	Target   string  `json:"target"`
	Weight   float64 `json:"weight"`
	Observed any     `json:"observed,omitempty"`
	Met      bool    `json:"met"`
	Score    float64 `json:"score"`
}

// Result is the weighted evaluation of a goal.
type Result struct {
	GoalID   string            `json:"goal_id"`
	Overall  float64           `json:"overall"`
	Criteria []CriterionResult `json:"criteria"`
}

// Met reports whether the named criterion was satisfied.
func (r *Result) Met(id string) bool {
	for _, c := range r.Criteria {
		if c.ID == id {
			return c.Met
		}
	}
	return false
}

// Score evaluates every criterion against m. Missing or unparsable metrics
// score 0. Overall is the weight-normalized sum and is 0 when all weights are 0.
func Score(g *Goal, m Metrics) Result {
	res := Result{GoalID: g.ID, Criteria: make([]CriterionResult, 0, len(g.SuccessCriteria))}

	var weighted, total float64
	for _, c := range g.SuccessCriteria {
		cr := CriterionResult{ID: c.ID, Metric: c.Metric, Target: c.Target, Weight: c.Weight}
		if v, ok := lookup(m, c.Metric); ok {
			cr.Observed = v
			if t, err := parseTarget(c.Target); err == nil && t.satisfiedBy(condition.Stringify(v)) {
				cr.Met = true
				cr.Score = 1
			}
		}
		weighted += c.Weight * cr.Score
		total += c.Weight
		res.Criteria = append(res.Criteria, cr)
	}
	if total > 0 {
		res.Overall = weighted / total
	}
	return res
}

func lookup(m Metrics, key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.Lookup(key)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
