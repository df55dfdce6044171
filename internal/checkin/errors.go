package checkin

import "errors"

// Caller-facing rejections for the on-demand operations. Operators need
// to tell these apart, so they are distinct sentinels rather than one
// generic failure.
var (
	ErrNotFound    = errors.New("no record matches the given identifier")
	ErrAlreadyDone = errors.New("reminder already completed for this record")
	ErrPastDue     = errors.New("computed fire time is already in the past")
)
