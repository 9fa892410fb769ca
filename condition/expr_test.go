package condition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpr_Eval(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		vars     Map
		expected bool
	}{
		{
			name:     "lowered bool not true",
			expr:     `str(needs_revision).lower() != 'true'`,
			vars:     Map{"needs_revision": false},
			expected: true,
		},
		{
			name:     "lowered bool true",
			expr:     `str(needs_revision).lower() == 'true'`,
			vars:     Map{"needs_revision": true},
			expected: true,
		},
		{
			name:     "string True lowered",
			expr:     `str(needs_revision).lower() == 'true'`,
			vars:     Map{"needs_revision": "True"},
			expected: true,
		},
		{
			name:     "missing key is empty",
			expr:     `str(needs_revision).lower() != 'true'`,
			vars:     Map{},
			expected: true,
		},
		{
			name:     "method on bare key",
			expr:     `status.upper() == "DONE"`,
			vars:     Map{"status": "done"},
			expected: true,
		},
		{
			name:     "strip",
			expr:     `tone.strip() == 'formal'`,
			vars:     Map{"tone": "  formal \n"},
			expected: true,
		},
		{
			name:     "number normalization",
			expr:     `count == 3`,
			vars:     Map{"count": 3.0},
			expected: true,
		},
		{
			name:     "number literal with fraction",
			expr:     `ratio == 0.50`,
			vars:     Map{"ratio": 0.5},
			expected: true,
		},
		{
			name:     "and or precedence",
			expr:     `a == 1 || b == 2 && c == 3`,
			vars:     Map{"a": 1, "b": 2, "c": 4},
			expected: true,
		},
		{
			name:     "word operators",
			expr:     `a == 'x' and not (b == 'y' or c == 'z')`,
			vars:     Map{"a": "x", "b": "n", "c": "n"},
			expected: true,
		},
		{
			name:     "truthiness of bare key",
			expr:     `approved`,
			vars:     Map{"approved": "no"},
			expected: false,
		},
		{
			name:     "none literal matches missing",
			expr:     `missing == none`,
			vars:     Map{},
			expected: true,
		},
		{
			name:     "namespaced flat key",
			expr:     `quality_gate.needs_revision == true`,
			vars:     Map{"quality_gate.needs_revision": true},
			expected: true,
		},
		{
			name:     "nested dot path",
			expr:     `result.score == 7`,
			vars:     Map{"result": map[string]any{"score": 7.0}},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, e.Eval(tt.vars))
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, src := range []string{
		"",
		"a ==",
		"(a == 'b'",
		"a == 'unterminated",
		"exec('rm')",
		"a.lower(",
		"a > 3",
		"str(a).title()",
		"a == b c",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSyntax))
			var se *SyntaxError
			assert.True(t, errors.As(err, &se))
		})
	}
}

func TestExpr_Keys(t *testing.T) {
	e := MustParse(`str(b).lower() == 'true' || a == 1 || b != 'x' || x.lower() == 'y'`)
	assert.Equal(t, []string{"a", "b", "x"}, e.Keys())
	assert.Equal(t, `str(b).lower() == 'true' || a == 1 || b != 'x' || x.lower() == 'y'`, e.String())
}

func TestOverlay_FirstLayerWins(t *testing.T) {
	vars := Overlay(Map{"k": "outcome"}, nil, Map{"k": "context", "other": 1})
	v, ok := vars.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, "outcome", v)

	v, ok = vars.Lookup("other")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = vars.Lookup("absent")
	assert.False(t, ok)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "5", Stringify(5.0))
	assert.Equal(t, "2.5", Stringify(2.5))
	assert.Equal(t, "42", Stringify(int64(42)))
	assert.Equal(t, `["a"]`, Stringify([]string{"a"}))
}
