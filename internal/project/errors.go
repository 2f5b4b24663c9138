package project

import "errors"

// Failure classes shared across the fetch, normalize, and storage layers.
// Callers match them with errors.Is; concrete errors wrap them with detail.
var (
	// ErrFetchFailed covers transport failures, non-2xx responses and timeouts.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrParseFailed signals an unrecognized transport envelope or an empty payload.
	ErrParseFailed = errors.New("parse failed")
	// ErrValidationFailed signals a canonical record that fails sanity checks.
	ErrValidationFailed = errors.New("validation failed")
	// ErrStorageIO wraps read/write failures of the index or project artifacts.
	ErrStorageIO = errors.New("storage io failed")
)
