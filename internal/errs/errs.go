// Package errs contains sentinel errors shared by the store, service and HTTP layers.
package errs

import "errors"

var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness violation (for example a duplicate email).
	ErrConflict = errors.New("conflict")

	// ErrVersionConflict indicates an optimistic-lock precondition mismatch.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidInput indicates a malformed request value.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthenticated indicates a missing, invalid or orphaned credential.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrForbidden indicates an authenticated caller with an insufficient role.
	ErrForbidden = errors.New("insufficient permissions")

	// ErrAccountDisabled indicates valid credentials for an inactive account.
	ErrAccountDisabled = errors.New("account is disabled")

	// ErrRateLimited indicates too many attempts from one client.
	ErrRateLimited = errors.New("rate limited")
)
