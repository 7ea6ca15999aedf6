package registration

import (
	"encoding/json"
	"fmt"

	"github.com/findspot/device-agent/internal/identity"
	"github.com/findspot/device-agent/internal/sensors"
)

// DeviceMetadata is the descriptive part of the device-registration payload,
// taken from configuration at startup.
type DeviceMetadata struct {
	Name      string
	Location  string
	Latitude  float64
	Longitude float64
}

// deviceRequest is the wire form of a device-registration request. The
// operational credentials ride along so the authority can provision the
// broker account it independently re-derives; this is the single place the
// derived password appears in a payload.
type deviceRequest struct {
	MACAddress   string  `json:"mac_address"`
	Name         string  `json:"name"`
	Location     string  `json:"location"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	MQTTUsername string  `json:"mqtt_username"`
	MQTTPassword string  `json:"mqtt_password"`
}

// sensorEntry is one peripheral in the sensor-registration request.
type sensorEntry struct {
	DeviceID   int    `json:"device_id"`
	Name       string `json:"name"`
	Index      int    `json:"index"`
	Type       string `json:"type"`
	Technology string `json:"technology"`
}

// buildDeviceRequest encodes the device-registration request payload.
func buildDeviceRequest(mac identity.MAC, meta DeviceMetadata, operational identity.CredentialSet) ([]byte, error) {
	req := deviceRequest{
		MACAddress:   mac.String(),
		Name:         meta.Name,
		Location:     meta.Location,
		Latitude:     meta.Latitude,
		Longitude:    meta.Longitude,
		MQTTUsername: operational.Username,
		MQTTPassword: operational.Password,
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding device request: %w", err)
	}
	return payload, nil
}

// buildSensorRequest encodes the sensor-registration request payload:
// an object keyed by technology, each value an array of sensor entries
// carrying the assigned numeric device identity.
func buildSensorRequest(numericID int, descriptors []sensors.Descriptor) ([]byte, error) {
	grouped := sensors.GroupByTechnology(descriptors)

	req := make(map[string][]sensorEntry, len(grouped))
	for tech, group := range grouped {
		entries := make([]sensorEntry, 0, len(group))
		for _, d := range group {
			entries = append(entries, sensorEntry{
				DeviceID:   numericID,
				Name:       d.Name,
				Index:      d.Index,
				Type:       string(d.Kind),
				Technology: string(d.Technology),
			})
		}
		req[string(tech)] = entries
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding sensor request: %w", err)
	}
	return payload, nil
}

// deviceResponse is the wire form of a device-registration response.
// Required fields are pointers so absence is distinguishable from zero:
// a missing field is a protocol error, never a silent default.
type deviceResponse struct {
	Status  *string `json:"status"`
	ID      *int    `json:"id"`
	Message string  `json:"message"`
}

// sensorResponse is the wire form of a sensor-registration response.
type sensorResponse struct {
	Status            *string `json:"status"`
	SensorsRegistered *int    `json:"sensors_registered"`
	CamerasRegistered *int    `json:"cameras_registered"`
	Message           string  `json:"message"`
}

// parseDeviceResponse validates a device-response payload into an Event.
//
// Returns:
//   - Event: kind EventDeviceResponse, status per the payload
//   - error: ErrProtocol (wrapped) on unparseable JSON, missing status,
//     unknown status, or a registered response without an integer id
func parseDeviceResponse(payload []byte) (Event, error) {
	var resp deviceResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Event{}, fmt.Errorf("%w: decoding device response: %w", ErrProtocol, err)
	}
	if resp.Status == nil {
		return Event{}, fmt.Errorf("%w: device response missing status", ErrProtocol)
	}

	switch Status(*resp.Status) {
	case StatusRegistered:
		if resp.ID == nil {
			return Event{}, fmt.Errorf("%w: registered device response missing id", ErrProtocol)
		}
		return Event{
			Kind:      EventDeviceResponse,
			Status:    StatusRegistered,
			NumericID: *resp.ID,
		}, nil

	case StatusError:
		return Event{
			Kind:    EventDeviceResponse,
			Status:  StatusError,
			Message: resp.Message,
		}, nil

	default:
		return Event{}, fmt.Errorf("%w: unknown device response status %q", ErrProtocol, *resp.Status)
	}
}

// parseSensorResponse validates a sensor-response payload into an Event.
// The per-kind counts are optional on the wire; only counts actually present
// appear in the event.
func parseSensorResponse(payload []byte) (Event, error) {
	var resp sensorResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Event{}, fmt.Errorf("%w: decoding sensor response: %w", ErrProtocol, err)
	}
	if resp.Status == nil {
		return Event{}, fmt.Errorf("%w: sensor response missing status", ErrProtocol)
	}

	switch Status(*resp.Status) {
	case StatusRegistered:
		counts := make(map[string]int)
		if resp.SensorsRegistered != nil {
			counts["sensors"] = *resp.SensorsRegistered
		}
		if resp.CamerasRegistered != nil {
			counts["cameras"] = *resp.CamerasRegistered
		}
		return Event{
			Kind:   EventSensorResponse,
			Status: StatusRegistered,
			Counts: counts,
		}, nil

	case StatusError:
		return Event{
			Kind:    EventSensorResponse,
			Status:  StatusError,
			Message: resp.Message,
		}, nil

	default:
		return Event{}, fmt.Errorf("%w: unknown sensor response status %q", ErrProtocol, *resp.Status)
	}
}
