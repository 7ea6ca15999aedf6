package registration

import "errors"

// Domain-specific errors for the registration handshake.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrProtocol is returned when an inbound payload is malformed:
	// unparseable JSON, a missing status discriminator, or a required
	// field absent or mistyped. Protocol errors are logged and dropped;
	// they never advance or corrupt the state machine.
	ErrProtocol = errors.New("registration: protocol error")

	// ErrRequestPending is returned when a new request would be issued
	// while one is already outstanding for the current phase.
	ErrRequestPending = errors.New("registration: request already pending")
)
