package sim

import "errors"

// Configuration errors. Setup calls return these wrapped with context;
// callers test them with errors.Is.
var (
	ErrInvalidDelay   = errors.New("invalid delay")
	ErrInvalidRate    = errors.New("invalid rate")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrUnknownNode    = errors.New("unknown node")
	ErrUnknownDevice  = errors.New("unknown device")
	ErrUnknownChannel = errors.New("unknown channel")
)

// ErrDestroyed is returned by any operation on a run that has been destroyed,
// including a second Destroy.
var ErrDestroyed = errors.New("simulation already destroyed")
