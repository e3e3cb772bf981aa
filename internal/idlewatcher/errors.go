package idlewatcher

import "errors"

// Error kinds from spec section 7, each a sentinel so callers can
// classify a failure with errors.Is.
var (
	ErrNoDisplay     = errors.New("cannot open display")
	ErrNoSync        = errors.New("server doesn't support the SYNC extension")
	ErrNoIdleCounter = errors.New("IDLETIME counter not found")
	ErrBadCounter    = errors.New("counter reports a negative value")
	ErrAlarmFailure  = errors.New("alarm creation or modification failed")
)
