package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Validation error kinds. Every *Error matches exactly one of these with errors.Is.
var (
	ErrNoEntry             = errors.New("no entry step")
	ErrDanglingReference   = errors.New("dangling reference")
	ErrDeadEnd             = errors.New("dead end")
	ErrDuplicateStep       = errors.New("duplicate step")
	ErrDuplicateTransition = errors.New("duplicate transition")
	ErrPauseTerminal       = errors.New("step is both pause and terminal")
	ErrInvalidCondition    = errors.New("invalid condition")
	ErrUnknownContextKey   = errors.New("unknown context key")
	ErrInvalidLimits       = errors.New("invalid limits")
	ErrSchema              = errors.New("definition does not match schema")
)

// Error is a single graph validation defect.
type Error struct {
	Kind         error
	StepID       string
	TransitionID string
	Detail       string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("graph: ")
	b.WriteString(e.Kind.Error())
	if e.StepID != "" {
		fmt.Fprintf(&b, " (step %q)", e.StepID)
	}
	if e.TransitionID != "" {
		fmt.Fprintf(&b, " (transition %q)", e.TransitionID)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// Errors flattens an error returned by Validate, Compile or LoadFile into its
// defects, looking through wrapping.
func Errors(err error) []*Error {
	var out []*Error
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if ge, ok := err.(*Error); ok {
			out = append(out, ge)
			return
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			// fmt.Errorf("%s: %w", path, joined) from LoadFile and friends
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
