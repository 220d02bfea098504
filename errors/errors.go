package errors

import (
	// Go Internal Packages
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind uint8

const (
	Other       Kind = iota // unclassified
	Invalid                 // bad input, never retried
	Conflict                // duplicate key / stale compare-and-set
	NotFound                // referenced entity does not exist
	Unavailable             // transient dependency failure, retryable
	Internal                // invariant violation, escalate
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Unavailable:
		return "unavailable"
	case Internal:
		return "internal"
	}
	return "other"
}

// Error is the engine error type carrying a Kind and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// E builds an *Error from a kind, a message and an optional wrapped cause.
func E(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Err.Error())
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the outermost *Error in err's chain,
// or Other if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

type fieldError struct {
	Field string
	Msg   string
}

// ValidationErrors accumulates per-field validation failures.
type ValidationErrors struct {
	fields []fieldError
}

// ValidationErrs returns an empty accumulator.
func ValidationErrs() *ValidationErrors {
	return &ValidationErrors{}
}

// Add records a failure for the given field.
func (v *ValidationErrors) Add(field, msg string) {
	v.fields = append(v.fields, fieldError{Field: field, Msg: msg})
}

// Err returns nil when no failures were recorded, otherwise a single
// Invalid error listing every field.
func (v *ValidationErrors) Err() error {
	if len(v.fields) == 0 {
		return nil
	}
	parts := make([]string, len(v.fields))
	for i, f := range v.fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Msg)
	}
	return E(Invalid, strings.Join(parts, "; "), nil)
}
