package condition

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrSyntax is matched by every parse failure.
var ErrSyntax = errors.New("condition syntax error")

// SyntaxError describes where an expression failed to parse.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("condition %q: %s at position %d", e.Expr, e.Msg, e.Pos)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

func syntaxErr(expr string, pos int, format string, args ...any) error {
	return &SyntaxError{Expr: expr, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Vars resolves context keys during evaluation.
type Vars interface {
	Lookup(key string) (any, bool)
}

// Map is a Vars backed by a plain map. Keys are matched exactly first, then
// as a dot path into nested maps.
type Map map[string]any

// Lookup implements Vars.
func (m Map) Lookup(key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}
	var current any = map[string]any(m)
	for _, part := range strings.Split(key, ".") {
		nested, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = nested[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Overlay returns Vars that consult each layer in order and return the first hit.
func Overlay(layers ...Vars) Vars { return overlay(layers) }

type overlay []Vars

func (o overlay) Lookup(key string) (any, bool) {
	for _, l := range o {
		if l == nil {
			continue
		}
		if v, ok := l.Lookup(key); ok {
			return v, true
		}
	}
	return nil, false
}

// Expr is a compiled condition. It is immutable and safe for concurrent use.
type Expr struct {
	src  string
	root node
	keys []string
}

// Parse compiles an expression.
func Parse(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, syntaxErr(src, 0, "empty expression")
	}
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t != nil {
		return nil, syntaxErr(src, t.pos, "unexpected token %q", t.value)
	}

	seen := map[string]bool{}
	var keys []string
	root.walk(func(n node) {
		if r, ok := n.(*refNode); ok && !seen[r.key] {
			seen[r.key] = true
			keys = append(keys, r.key)
		}
	})
	sort.Strings(keys)
	return &Expr{src: src, root: root, keys: keys}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level expressions.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Eval reports whether the expression holds for vars. Missing keys evaluate
// to the empty string.
func (e *Expr) Eval(vars Vars) bool {
	return Truthy(e.root.eval(vars))
}

// Keys returns the sorted set of context keys the expression reads.
func (e *Expr) Keys() []string {
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

func (e *Expr) String() string { return e.src }

// Stringify renders a context value the way comparisons see it. Booleans are
// lower case, whole numbers have no fraction and nil is empty.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return boolString(val)
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case json.Number:
		return normalizeNumber(val.String())
	case fmt.Stringer:
		return val.String()
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}

// Truthy reports whether a stringified value counts as true.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "0", "no", "none", "null":
		return false
	}
	return true
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func normalizeNumber(lit string) string {
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return lit
	}
	return formatFloat(f)
}
