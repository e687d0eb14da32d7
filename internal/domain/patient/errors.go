package patient

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports local form or domain rule failures. It aborts the
// save before any mutation or network call, so resubmission is always safe.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

func (e *ValidationError) hasErrors() bool { return len(e.Fields) > 0 }

// PersistenceError reports a local save failure after reconciliation has
// already mutated the in-memory graph. Mutated tells the caller whether a
// void-and-replace already happened, in which case re-submitting the same
// form would duplicate voided history.
type PersistenceError struct {
	Err     error
	Mutated bool
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("saving patient: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// AsPersistenceError unwraps err into a *PersistenceError if it is one.
func AsPersistenceError(err error) (*PersistenceError, bool) {
	var pe *PersistenceError
	ok := errors.As(err, &pe)
	return pe, ok
}
