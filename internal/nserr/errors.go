// Package nserr defines the error taxonomy shared across NightSafe
// services. Handlers map these sentinels to HTTP status codes; callers
// test with errors.Is after wrapping with %w.
package nserr

import "errors"

var (
	// ErrUnavailable means a required platform capability is denied or
	// missing (no location sensor, no speech feed). Detected once at
	// setup and surfaced immediately, never retried.
	ErrUnavailable = errors.New("capability unavailable")

	// ErrInvalidInput covers empty identifiers, empty messages and
	// other caller mistakes.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLocationUnavailable means the operation needs a position that
	// is not yet known.
	ErrLocationUnavailable = errors.New("location unavailable")

	// ErrPermissionDenied is returned for non-owner mutations.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStorageFailure wraps network/write failures against shared
	// storage.
	ErrStorageFailure = errors.New("storage failure")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")
)
