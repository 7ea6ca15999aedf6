package registration

// Phase is a named state in the registration state machine. Progression is
// monotonic for the lifetime of the process; the only way back to
// PhaseUnregistered is a full process restart.
type Phase int

// Registration phases, in handshake order.
const (
	// PhaseUnregistered is the initial state: no request sent yet.
	PhaseUnregistered Phase = iota

	// PhaseAwaitingDeviceAck means the device-registration request has been
	// published and the authority has not yet answered.
	PhaseAwaitingDeviceAck

	// PhaseDeviceRegistered means a numeric identity has been assigned and
	// the session is switching to operational credentials.
	PhaseDeviceRegistered

	// PhaseAwaitingSensorAck means the sensor-registration request has been
	// published on the operational connection.
	PhaseAwaitingSensorAck

	// PhaseFullyRegistered is the terminal success state.
	PhaseFullyRegistered

	// PhaseFailed is the terminal failure state, entered only when the
	// overall registration deadline expires.
	PhaseFailed
)

// String returns the phase name for logging and journalling.
func (p Phase) String() string {
	switch p {
	case PhaseUnregistered:
		return "unregistered"
	case PhaseAwaitingDeviceAck:
		return "awaiting_device_ack"
	case PhaseDeviceRegistered:
		return "device_registered"
	case PhaseAwaitingSensorAck:
		return "awaiting_sensor_ack"
	case PhaseFullyRegistered:
		return "fully_registered"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state machine can leave this phase.
func (p Phase) Terminal() bool {
	return p == PhaseFullyRegistered || p == PhaseFailed
}
