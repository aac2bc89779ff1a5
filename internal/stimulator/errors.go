package stimulator

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedBaud  = errors.New("stimulator: unsupported baud rate")
	ErrInvalidChannel   = errors.New("stimulator: test channel out of range")
	ErrTestInProgress   = errors.New("stimulator: test already in progress")
	ErrNotConnected     = errors.New("stimulator: session not connected")
	ErrLinkFailed       = errors.New("stimulator: serial link failed")
	ErrIdentifyTimeout  = errors.New("stimulator: identify response timed out")
	ErrSessionClosed    = errors.New("stimulator: session closed")
	ErrSessionNotFound  = errors.New("stimulator: session not found")
	ErrSessionHasHooks  = errors.New("stimulator: session still has bound hooks")
	ErrSessionBusy      = errors.New("stimulator: session is testing")
	ErrHookExists       = errors.New("stimulator: hook already exists")
	ErrHookNotFound     = errors.New("stimulator: hook not found")
	ErrHookBound        = errors.New("stimulator: hook is bound to a session")
	ErrHookNotBound     = errors.New("stimulator: hook is not bound to the stated session")
	ErrHookBusy         = errors.New("stimulator: hook has a test in flight")
	ErrSameSession      = errors.New("stimulator: source and destination sessions are the same")
	ErrNilObserver      = errors.New("stimulator: observer is nil")
	ErrObserverMismatch = errors.New("stimulator: observer reports a different hook id")
	ErrNoPlugin         = errors.New("stimulator: hook has no plugin selected")
	ErrInvalidHookID    = errors.New("stimulator: hook id must be positive")
)

// InvariantError reports registry state that validation should have ruled
// out. The operation is abandoned; callers must not retry it.
type InvariantError struct {
	Op     string
	HookID int
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("stimulator: invariant violated in %s hook=%d: %s", e.Op, e.HookID, e.Detail)
}
