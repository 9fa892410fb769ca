package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimator(t *testing.T) {
	var e Estimator
	assert.Equal(t, 0, e.Count(""))
	assert.Equal(t, 1, e.Count("ab"))
	assert.Equal(t, 25, e.Count(strings.Repeat("a", 100)))
	// 6 CJK runes ≈ 4 tokens
	assert.Equal(t, 4, e.Count("工作流执行器"))
}

func TestTiktoken_FallsBackOnUnknownEncoding(t *testing.T) {
	c := NewTiktoken("no_such_encoding", nil)
	text := strings.Repeat("word ", 40)
	assert.Equal(t, Estimator{}.Count(text), c.Count(text))
	assert.Equal(t, "tiktoken[no_such_encoding]->estimator", c.Name())
}

func TestTiktoken_DefaultEncoding(t *testing.T) {
	c := NewTiktoken("", nil)
	assert.Equal(t, "cl100k_base", c.encoding)
}
