package station

import "errors"

var (
	// ErrUnknownSocket means the named socket does not exist on the device.
	ErrUnknownSocket = errors.New("unknown socket")
	// ErrInvalidTransition means the operation is not allowed from the
	// socket's current state. The state is left untouched.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotCharging is returned by charging-only queries.
	ErrNotCharging = errors.New("socket is not charging")
	// ErrCallTimedOut means no correlated response arrived in time, or the
	// transport closed while the call was outstanding.
	ErrCallTimedOut = errors.New("call timed out")
	// ErrNoActiveSession means no session is registered for the device.
	ErrNoActiveSession = errors.New("no active session for device")
	// ErrSessionExists means a session is already registered for the device.
	ErrSessionExists = errors.New("session already registered for device")
)
