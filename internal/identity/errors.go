package identity

import "errors"

// Domain-specific errors for identity operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidMAC is returned when a MAC address string cannot be parsed.
	ErrInvalidMAC = errors.New("identity: invalid MAC address")

	// ErrNoHardwareMAC is returned when no usable hardware interface exists.
	ErrNoHardwareMAC = errors.New("identity: no non-loopback interface with a hardware address")

	// ErrEmptyPrefix is returned when credential derivation is attempted
	// without a username prefix configured.
	ErrEmptyPrefix = errors.New("identity: credential prefix is empty")

	// ErrEmptySalt is returned when credential derivation is attempted
	// without a shared salt configured.
	ErrEmptySalt = errors.New("identity: credential salt is empty")
)
