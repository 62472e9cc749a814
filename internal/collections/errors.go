package collections

import "errors"

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("collections: not found")
	// ErrScheduleConflict is returned when inserting would violate a pending
	// schedule uniqueness rule.
	ErrScheduleConflict = errors.New("collections: conflicting pending schedule")
	// ErrPrecondition marks a send that could not be attempted.
	ErrPrecondition = errors.New("collections: precondition failed")
	// ErrUnsupportedChannel is returned for channels that cannot be sent on demand.
	ErrUnsupportedChannel = errors.New("collections: unsupported channel")
)
