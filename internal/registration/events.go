package registration

// EventKind identifies which handshake phase a response event belongs to.
// It is derived from the topic the payload arrived on, never from payload
// content, so a confused authority cannot cross the phases up.
type EventKind int

// Event kinds.
const (
	// EventDeviceResponse is an answer on the device-registration topic.
	EventDeviceResponse EventKind = iota

	// EventSensorResponse is an answer on the sensor-registration topic.
	EventSensorResponse
)

// String returns the kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventDeviceResponse:
		return "device_response"
	case EventSensorResponse:
		return "sensor_response"
	default:
		return "unknown"
	}
}

// Status is the response discriminator sent by the authority.
type Status string

// Response statuses.
const (
	StatusRegistered Status = "registered"
	StatusError      Status = "error"
)

// Event is the parsed, validated form of an inbound response payload.
// The router only ever emits events that passed schema validation; anything
// malformed is logged and dropped before reaching the coordinator.
type Event struct {
	Kind   EventKind
	Status Status

	// NumericID is the authority-assigned identity. Set only for
	// device-response events with StatusRegistered.
	NumericID int

	// Counts holds per-kind registration counts from a sensor-response
	// event with StatusRegistered, e.g. {"sensors": 2, "cameras": 1}.
	Counts map[string]int

	// Message carries the authority's error text for StatusError events.
	Message string
}
