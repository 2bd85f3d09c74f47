package store

import "errors"

// Sentinel errors returned by Store, matching the taxonomy in spec §4.1/§7.
// Callers compare with errors.Is.
var (
	// ErrDuplicateID is returned by Insert when log_id already exists.
	ErrDuplicateID = errors.New("store: duplicate log_id")
	// ErrStoreUnavailable is returned when the backing medium cannot be reached.
	ErrStoreUnavailable = errors.New("store: unavailable")
	// ErrMalformedRecord is returned when a record fails validation before insert.
	ErrMalformedRecord = errors.New("store: malformed record")
	// ErrNotFound is returned by GetByID when no record matches.
	ErrNotFound = errors.New("store: record not found")
)
