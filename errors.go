package flexcan

import "errors"

// Driver status taxonomy. Every operation reports failure through one of
// these, possibly wrapped with call context.
var (
	ErrHardware       = errors.New("hardware error")
	ErrBusy           = errors.New("mailbox is busy, try again")
	ErrTimeout        = errors.New("function timeout")
	ErrInvalidParam   = errors.New("error in function arguments")
	ErrNotInitialized = errors.New("driver not ready")
	ErrNoMessage      = errors.New("no message available")
)
