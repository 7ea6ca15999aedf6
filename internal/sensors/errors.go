package sensors

import "errors"

// ErrInvalidDescriptor is returned when a sensor descriptor is incomplete
// or conflicts with another descriptor in the same set.
var ErrInvalidDescriptor = errors.New("sensors: invalid descriptor")
