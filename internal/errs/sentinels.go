// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrInvalidIdentifier indicates a target id that is not a well-formed UUID.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthenticated indicates the request carries no valid identity.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnauthorized indicates the actor may not perform the operation on the target.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRequired indicates a mandatory field was missing or empty.
	ErrRequired = errors.New("required")

	// ErrMismatchedConfirmation indicates password and its confirmation differ.
	ErrMismatchedConfirmation = errors.New("mismatched confirmation")

	// ErrWrongPassword indicates the supplied current password did not verify.
	ErrWrongPassword = errors.New("wrong password")

	// ErrDuplicateName indicates a unique constraint violation on the user name.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrExternalService indicates the external scrobbling service failed.
	ErrExternalService = errors.New("external service error")

	// ErrMissingToken indicates the external link request had no token.
	ErrMissingToken = errors.New("missing token")

	// ErrStorageUnavailable indicates the record store could not be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")
)

// ValidationError names the offending field of a request. It matches ErrRequired.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s is required", e.Field)
}

// Unwrap makes errors.Is(err, ErrRequired) hold.
func (e *ValidationError) Unwrap() error { return ErrRequired }

// Required builds a ValidationError for field.
func Required(field string) error {
	return &ValidationError{Field: field}
}

// RequiredMsg builds a ValidationError with a custom message.
func RequiredMsg(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// ExternalError carries the upstream message of a failed external call.
type ExternalError struct {
	Message string
	Err     error
}

func (e *ExternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("external service: %s: %v", e.Message, e.Err)
	}
	return "external service: " + e.Message
}

// Is reports ErrExternalService and the wrapped cause.
func (e *ExternalError) Is(target error) bool { return target == ErrExternalService }

func (e *ExternalError) Unwrap() error { return e.Err }

// External wraps cause as an ExternalError with a user-facing message.
func External(msg string, cause error) error {
	return &ExternalError{Message: msg, Err: cause}
}

// Storage marks err as a storage failure while keeping the cause for logs.
func Storage(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
