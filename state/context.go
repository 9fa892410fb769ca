package state

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/BaSui01/pipeflow/condition"
)

// Context is the key/value store a run accumulates. Values are kept in
// JSON-canonical form: numbers are float64, objects are map[string]any and
// arrays are []any. This keeps snapshots identical across codecs.
type Context map[string]any

// NewContext builds a normalized context from initial values.
func NewContext(initial map[string]any) (Context, error) {
	c := make(Context, len(initial))
	if err := c.Merge(initial); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup implements condition.Vars.
func (c Context) Lookup(key string) (any, bool) {
	return condition.Map(c).Lookup(key)
}

// Set stores a normalized copy of v under key.
func (c Context) Set(key string, v any) error {
	n, err := Normalize(v)
	if err != nil {
		return fmt.Errorf("context key %q: %w", key, err)
	}
	c[key] = n
	return nil
}

// Merge sets every entry of m at the top level.
func (c Context) Merge(m map[string]any) error {
	for _, k := range sortedKeys(m) {
		if err := c.Set(k, m[k]); err != nil {
			return err
		}
	}
	return nil
}

// MergeStep records a step's outcome data under "<stepID>.<key>" and
// additionally at the top level for keys listed in exports.
func (c Context) MergeStep(stepID string, data map[string]any, exports []string) error {
	exported := make(map[string]bool, len(exports))
	for _, k := range exports {
		exported[k] = true
	}
	for _, k := range sortedKeys(data) {
		if err := c.Set(stepID+"."+k, data[k]); err != nil {
			return err
		}
		if exported[k] {
			c[k] = c[stepID+"."+k]
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = deepCopy(v)
	}
	return out
}

// Keys returns the context keys in sorted order.
func (c Context) Keys() []string {
	return sortedKeys(c)
}

// Normalize converts v to its JSON-canonical form.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val, nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case float32:
		return float64(val), nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			n, err := Normalize(inner)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			n, err := Normalize(inner)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value of type %T is not serializable: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = deepCopy(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = deepCopy(inner)
		}
		return out
	default:
		return v
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
