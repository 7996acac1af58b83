package domain

import "errors"

var (
	// ErrInvalidIdentifier is returned for identifiers that normalize to nothing.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrConflict reports that the identifier is already claimed. It is the
	// expected outcome of losing a claim race and is not an internal failure.
	ErrConflict = errors.New("identifier already taken")

	// ErrNotFound reports that no claim exists for the identifier.
	ErrNotFound = errors.New("identifier not claimed")

	// ErrStoreUnavailable wraps I/O and timeout failures of the authoritative store.
	ErrStoreUnavailable = errors.New("authoritative store unavailable")

	// ErrInternal is returned by the write path for store failures other than a conflict.
	ErrInternal = errors.New("internal error")

	// ErrCapacityExhausted is returned when the membership filter cannot place
	// an insert and is not permitted to grow further.
	ErrCapacityExhausted = errors.New("membership filter capacity exhausted")

	// ErrFilterFaulted is returned by writes to a filter whose previous writer
	// aborted mid-mutation.
	ErrFilterFaulted = errors.New("membership filter faulted")
)
