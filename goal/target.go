package goal

import (
	"fmt"
	"strconv"
	"strings"
)

type targetKind int

const (
	targetExact targetKind = iota
	targetNumeric
)

type target struct {
	kind      targetKind
	op        string
	threshold float64
	exact     string
}

// parseTarget understands ">=N", ">N", "<=N", "<N", "==N", "!=N", "N%" (at
// least N percent), bare numbers and, for everything else, a case-insensitive
// exact match.
func parseTarget(raw string) (target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return target{}, fmt.Errorf("empty target")
	}

	if strings.HasSuffix(s, "%") {
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil {
			return target{}, fmt.Errorf("invalid percentage target %q", raw)
		}
		return target{kind: targetNumeric, op: ">=", threshold: n}, nil
	}

	for _, op := range []string{">=", "<=", "!=", "==", ">", "<"} {
		if rest, ok := strings.CutPrefix(s, op); ok {
			n, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
			if err != nil {
				return target{}, fmt.Errorf("invalid numeric target %q", raw)
			}
			return target{kind: targetNumeric, op: op, threshold: n}, nil
		}
	}

	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return target{kind: targetNumeric, op: "==", threshold: n}, nil
	}
	return target{kind: targetExact, exact: strings.ToLower(s)}, nil
}

func (t target) satisfiedBy(observed string) bool {
	if t.kind == targetExact {
		return strings.EqualFold(strings.TrimSpace(observed), t.exact)
	}
	v, ok := parseMetricNumber(observed)
	if !ok {
		return false
	}
	switch t.op {
	case ">=":
		return v >= t.threshold
	case ">":
		return v > t.threshold
	case "<=":
		return v <= t.threshold
	case "<":
		return v < t.threshold
	case "!=":
		return v != t.threshold
	default:
		return v == t.threshold
	}
}

func parseMetricNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}
