package state

import "time"

// Outcome is the result of executing one step body.
type Outcome struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	ToolCalls int            `json:"tool_calls,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
}

// Succeeded builds a successful outcome.
func Succeeded(data map[string]any) Outcome {
	return Outcome{Success: true, Data: data}
}

// Failed builds a failed outcome.
func Failed(msg string) Outcome {
	return Outcome{Success: false, Error: msg}
}

// Lookup implements condition.Vars over the outcome data.
func (o *Outcome) Lookup(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.Data[key]
	return v, ok
}

// Clone returns a deep copy.
func (o *Outcome) Clone() *Outcome {
	if o == nil {
		return nil
	}
	cp := *o
	if o.Data != nil {
		cp.Data = Context(o.Data).Clone()
	}
	return &cp
}
