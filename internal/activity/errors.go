package activity

import "errors"

var (
	// ErrValidation is wrapped by every rejection of a malformed request
	ErrValidation = errors.New("invalid activity")

	// ErrNotFound is returned when a requested record doesn't exist
	ErrNotFound = errors.New("activity not found")
)
