package condition

import "strings"

// node is one variant of the expression tree. Every node evaluates to a
// string; logical nodes produce "true" or "false".
type node interface {
	eval(v Vars) string
	walk(fn func(node))
}

type orNode struct{ left, right node }

func (n *orNode) eval(v Vars) string {
	return boolString(Truthy(n.left.eval(v)) || Truthy(n.right.eval(v)))
}
func (n *orNode) walk(fn func(node)) { fn(n); n.left.walk(fn); n.right.walk(fn) }

type andNode struct{ left, right node }

func (n *andNode) eval(v Vars) string {
	return boolString(Truthy(n.left.eval(v)) && Truthy(n.right.eval(v)))
}
func (n *andNode) walk(fn func(node)) { fn(n); n.left.walk(fn); n.right.walk(fn) }

type notNode struct{ operand node }

func (n *notNode) eval(v Vars) string  { return boolString(!Truthy(n.operand.eval(v))) }
func (n *notNode) walk(fn func(node)) { fn(n); n.operand.walk(fn) }

type cmpNode struct {
	op          string // == or !=
	left, right node
}

func (n *cmpNode) eval(v Vars) string {
	eq := n.left.eval(v) == n.right.eval(v)
	if n.op == "!=" {
		return boolString(!eq)
	}
	return boolString(eq)
}
func (n *cmpNode) walk(fn func(node)) { fn(n); n.left.walk(fn); n.right.walk(fn) }

type refNode struct{ key string }

func (n *refNode) eval(v Vars) string {
	if v == nil {
		return ""
	}
	val, ok := v.Lookup(n.key)
	if !ok {
		return ""
	}
	return Stringify(val)
}
func (n *refNode) walk(fn func(node)) { fn(n) }

type litNode struct{ value string }

func (n *litNode) eval(Vars) string   { return n.value }
func (n *litNode) walk(fn func(node)) { fn(n) }

// callNode applies str() or a string method to its operand. Operands are
// already strings, so str() is the identity.
type callNode struct {
	fn      string
	operand node
}

func (n *callNode) eval(v Vars) string {
	s := n.operand.eval(v)
	switch n.fn {
	case "lower":
		return strings.ToLower(s)
	case "upper":
		return strings.ToUpper(s)
	case "strip":
		return strings.TrimSpace(s)
	default:
		return s
	}
}
func (n *callNode) walk(fn func(node)) { fn(n); n.operand.walk(fn) }

func isMethod(name string) bool {
	switch name {
	case "lower", "upper", "strip":
		return true
	}
	return false
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
