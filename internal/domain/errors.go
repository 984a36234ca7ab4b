package domain

import "errors"

var (
	ErrInvalidSelection  = errors.New("invalid selection")
	ErrInvalidSlot       = errors.New("invalid time slot")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrHoldNotFound      = errors.New("hold not found")
	ErrNotFound          = errors.New("booking not found")
	ErrResourceNotFound  = errors.New("resource not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrForbidden         = errors.New("actor not allowed")
	ErrDuplicateRequest  = errors.New("duplicate booking request")
	ErrRateLimited       = errors.New("too many booking requests")

	// ErrConcurrentModification is returned by storage when a version check fails.
	ErrConcurrentModification = errors.New("concurrent modification")
)
