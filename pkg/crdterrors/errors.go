// Package crdterrors defines the typed error surface of the sync engine.
package crdterrors

import "errors"

var (
	// ErrClockSkew is returned when a received HLC's wall time exceeds the
	// local physical clock by more than the configured max drift.
	ErrClockSkew = errors.New("crdtsync: clock skew exceeds max drift")

	// ErrCounterOverflow is returned when an HLC's logical counter cannot
	// be incremented within the current millisecond.
	ErrCounterOverflow = errors.New("crdtsync: hlc counter overflow")

	// ErrCorruptMetadata is returned when a stored metadata value fails its
	// length or structure checks on decode.
	ErrCorruptMetadata = errors.New("crdtsync: corrupt metadata record")

	// ErrKeyNotFound is returned by internal lookups that require a value
	// to already exist (e.g. site identity read during an already-open
	// engine).
	ErrKeyNotFound = errors.New("crdtsync: key not found")

	// ErrStoreError wraps passthrough failures from the underlying KV
	// store. Use errors.Is(err, ErrStoreError) to detect them.
	ErrStoreError = errors.New("crdtsync: store error")
)

// ApplyCallbackError wraps an error returned by the host's ApplyToStore
// callback. Phase 1 (resolve) has already run with no metadata writes, so
// the caller may retry the same changesets safely.
type ApplyCallbackError struct {
	Err error
}

func (e *ApplyCallbackError) Error() string {
	return "crdtsync: apply callback failed: " + e.Err.Error()
}

func (e *ApplyCallbackError) Unwrap() error {
	return e.Err
}

// StoreError wraps an error from the KV store with the operation that
// produced it, while remaining comparable via errors.Is(err, ErrStoreError).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "crdtsync: store error during " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return ErrStoreError
}

// WrapStore wraps err (if non-nil) as a *StoreError tagged with op.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
