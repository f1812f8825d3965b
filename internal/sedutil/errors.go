package sedutil

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailure matches every AuthError regardless of its reason.
	ErrAuthFailure = errors.New("authentication failure")
	// ErrNotAuthorized is the reason for a rejected credential. The attempt may be retried.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrAuthorityLockedOut is the reason for an authority that refuses further attempts until power cycle.
	ErrAuthorityLockedOut = errors.New("authority locked out")
)

// InvocationError is returned when the tool could not be run at all (e.g. the binary is missing).
type InvocationError struct {
	Command string
	Err     error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("cannot invoke %q: %v", e.Command, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// AuthError is returned when the tool output reports a rejected or locked out authority.
type AuthError struct {
	Command string
	// Reason is either ErrNotAuthorized or ErrAuthorityLockedOut.
	Reason error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%q: %v: %v", e.Command, ErrAuthFailure, e.Reason)
}

// Is reports ErrAuthFailure as well as the specific reason.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthFailure || target == e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Reason
}

// LockedOut reports whether the authority is locked out for the rest of the session.
func (e *AuthError) LockedOut() bool {
	return errors.Is(e.Reason, ErrAuthorityLockedOut)
}

// ExitError is returned for a nonzero exit without a recognizable failure marker.
type ExitError struct {
	Command string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%q exited with status %d", e.Command, e.Code)
}
