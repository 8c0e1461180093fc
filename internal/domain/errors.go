package domain

import (
	"errors"
	"fmt"
)

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// ErrAuthRequired is returned by mutation operations attempted without an
// authenticated session. Callers surface it instead of failing silently.
var ErrAuthRequired = errors.New("authentication required")

// ErrForbidden is the courtesy pre-check failure for role or ownership.
// The store's access rules remain the actual security boundary.
var ErrForbidden = errors.New("forbidden")

// ErrValidation wraps client-side validation failures that block a
// submission before any remote call.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }

// Is enables errors.Is matching on ValidationError.
func (e ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	if ok {
		return true
	}
	_, ok = target.(*ValidationError)
	return ok
}

// ErrInvalid is the sentinel for validation failures.
var ErrInvalid = ValidationError{}
