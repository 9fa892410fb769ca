package goal

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/pipeflow/condition"
)

func blogGoal() *Goal {
	return &Goal{
		ID: "business-blog-writer",
		SuccessCriteria: []Criterion{
			{ID: "source-count", Metric: "source_count", Target: ">=5", Weight: 0.2},
			{ID: "citation-coverage", Metric: "citation_coverage", Target: "100%", Weight: 0.2},
			{ID: "user-approval", Metric: "user_approval", Target: "true", Weight: 0.2},
			{ID: "seo-metadata", Metric: "seo_metadata_complete", Target: "true", Weight: 0.2},
			{ID: "cta", Metric: "cta_present", Target: "true", Weight: 0.2},
		},
		Constraints: []Constraint{{ID: "no-hallucination", Type: "hard", Category: "quality"}},
	}
}

func TestScore_ThreeOfFive(t *testing.T) {
	res := Score(blogGoal(), condition.Map{
		"source_count":          7.0,
		"citation_coverage":     "100%",
		"user_approval":         true,
		"seo_metadata_complete": false,
	})
	assert.InDelta(t, 0.6, res.Overall, 1e-9)
	assert.True(t, res.Met("source-count"))
	assert.True(t, res.Met("citation-coverage"))
	assert.True(t, res.Met("user-approval"))
	assert.False(t, res.Met("seo-metadata"))
	assert.False(t, res.Met("cta"))
	assert.Len(t, res.Criteria, 5)
}

func TestTargets(t *testing.T) {
	tests := []struct {
		target   string
		observed any
		met      bool
	}{
		{">=5", 5.0, true},
		{">=5", 4.0, false},
		{">5", "6", true},
		{"<=2", 2, true},
		{"<2", 2, false},
		{"==3", 3.0, true},
		{"!=3", 3.0, false},
		{"100%", 100.0, true},
		{"100%", "99%", false},
		{"80%", "85.5%", true},
		{"true", true, true},
		{"true", "True", true},
		{"true", "yes", false},
		{"published", "Published", true},
		{"3", 3.0, true},
		{">=5", "many", false},
		{">=5", true, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.target, tt.observed), func(t *testing.T) {
			g := &Goal{ID: "g", SuccessCriteria: []Criterion{{ID: "c", Metric: "m", Target: tt.target, Weight: 1}}}
			res := Score(g, condition.Map{"m": tt.observed})
			assert.Equal(t, tt.met, res.Met("c"))
		})
	}
}

func TestScore_MissingMetricAndZeroWeights(t *testing.T) {
	g := &Goal{ID: "g", SuccessCriteria: []Criterion{{ID: "c", Metric: "absent", Target: "true", Weight: 0}}}
	res := Score(g, condition.Map{})
	assert.Equal(t, 0.0, res.Overall)
	assert.False(t, res.Met("c"))

	res = Score(&Goal{ID: "empty"}, nil)
	assert.Equal(t, 0.0, res.Overall)
}

func TestValidate(t *testing.T) {
	require.NoError(t, blogGoal().Validate())

	g := blogGoal()
	g.SuccessCriteria[0].Weight = 1.5
	g.SuccessCriteria[1].Target = ">=abc"
	g.SuccessCriteria[2].ID = "source-count"
	err := g.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGoal))
	assert.Contains(t, err.Error(), "outside [0,1]")
	assert.Contains(t, err.Error(), "invalid numeric target")
	assert.Contains(t, err.Error(), "duplicate criterion")

	g = blogGoal()
	g.SuccessCriteria[0].Weight = math.NaN()
	err = g.Validate()
	require.ErrorIs(t, err, ErrInvalidGoal)
	assert.Contains(t, err.Error(), "outside [0,1]")
}

func TestParseYAML_RejectsNaNWeight(t *testing.T) {
	_, err := ParseYAML([]byte(`
id: demo
success_criteria:
  - id: a
    metric: score
    target: ">=0.8"
    weight: .nan
`))
	require.ErrorIs(t, err, ErrInvalidGoal)
}

func TestParseYAML(t *testing.T) {
	g, err := ParseYAML([]byte(`
id: demo
name: Demo
success_criteria:
  - id: a
    metric: score
    target: ">=0.8"
    weight: 1
constraints:
  - id: c1
    description: advisory
    constraint_type: soft
    category: style
`))
	require.NoError(t, err)
	assert.Equal(t, "demo", g.ID)
	require.Len(t, g.Advisories(), 1)
	assert.Equal(t, "soft", g.Advisories()[0].Type)
}

func TestProperty_OverallBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "criteria")
		g := &Goal{ID: "p"}
		metrics := condition.Map{}
		for i := 0; i < n; i++ {
			metric := fmt.Sprintf("m%d", i)
			g.SuccessCriteria = append(g.SuccessCriteria, Criterion{
				ID:     metric,
				Metric: metric,
				Target: "true",
				Weight: rapid.Float64Range(0, 1).Draw(rt, fmt.Sprintf("weight_%d", i)),
			})
			metrics[metric] = rapid.Bool().Draw(rt, fmt.Sprintf("met_%d", i))
		}

		res := Score(g, metrics)
		if res.Overall < 0 || res.Overall > 1+1e-9 {
			rt.Fatalf("overall %v out of range", res.Overall)
		}
	})
}

func TestProperty_UniformWeightsCountMet(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "criteria")
		w := rapid.Float64Range(0.01, 1).Draw(rt, "weight")
		g := &Goal{ID: "u"}
		metrics := condition.Map{}
		met := 0
		for i := 0; i < n; i++ {
			metric := fmt.Sprintf("m%d", i)
			g.SuccessCriteria = append(g.SuccessCriteria, Criterion{ID: metric, Metric: metric, Target: ">=1", Weight: w})
			ok := rapid.Bool().Draw(rt, fmt.Sprintf("met_%d", i))
			if ok {
				met++
				metrics[metric] = 1.0
			} else {
				metrics[metric] = 0.0
			}
		}

		res := Score(g, metrics)
		want := float64(met) / float64(n)
		if math.Abs(res.Overall-want) > 1e-9 {
			rt.Fatalf("overall %v, want %v", res.Overall, want)
		}
	})
}
