package store

import "errors"

// Common errors returned by store operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, store.ErrInvalidChange) {
//	    // Reject the malformed change, nothing was written
//	}
var (
	// ErrInvalidChange is returned when a queued change fails validation.
	// Nothing is written to the queue in that case.
	ErrInvalidChange = errors.New("invalid change")

	// ErrConflictNotFound is returned when a conflict ID does not exist.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrConflictResolved is returned when attempting to resolve a conflict
	// that has already been resolved. Resolution history is immutable.
	ErrConflictResolved = errors.New("conflict already resolved")

	// ErrMissingManualPayload is returned when a MANUAL resolution is
	// requested without a payload.
	ErrMissingManualPayload = errors.New("manual resolution requires a payload")

	// ErrInvalidResolution is returned for a resolution type outside
	// LOCAL, REMOTE, MANUAL.
	ErrInvalidResolution = errors.New("invalid resolution type")
)
