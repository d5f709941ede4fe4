// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a conditional update matched no row (the row moved on).
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation marks missing or invalid identifiers, raised before any I/O.
	ErrValidation = errors.New("validation")

	// ErrIllegalTransition rejects a status write the lifecycle does not allow.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrLockHeld indicates the lease lock is owned by someone else.
	ErrLockHeld = errors.New("lock held")

	// ErrGuardCheck indicates the live risk state could not be confirmed.
	ErrGuardCheck = errors.New("guard check failed")

	// ErrNoCredential indicates the owner has no usable credential for a platform.
	ErrNoCredential = errors.New("no usable credential")
)

// Validation returns an error wrapping ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// UpstreamError reports a failed call to a rental platform.
type UpstreamError struct {
	Platform string
	Op       string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s %s: %v", e.Platform, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream wraps err as an UpstreamError. A nil err stays nil.
func Upstream(platform, op string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Platform: platform, Op: op, Err: err}
}

// IsUpstream reports whether err came from a platform call.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
