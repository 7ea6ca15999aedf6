package mqtt

import (
	"fmt"

	"github.com/findspot/device-agent/internal/identity"
)

// Registration topic segments. The response topics are addressed: they embed
// the device's normalised MAC so the authority answers one device, not all
// listeners on a broadcast topic.
const (
	// topicDeviceRegister is the base for device registration topics.
	topicDeviceRegister = "device/register"

	// topicSensorRegister is the base for sensor registration topics.
	topicSensorRegister = "sensors/register"
)

// Topics provides builders for the registration topic layout.
// Using these helpers keeps agent and authority naming in lockstep.
//
//	topics := mqtt.Topics{}
//	topics.DeviceRegisterResponse(mac)
//	// Returns: "device/register/aabbccddeeff/response"
type Topics struct{}

// DeviceRegisterRequest returns the shared topic devices publish
// device-registration requests to.
//
// Example: device/register/request
func (Topics) DeviceRegisterRequest() string {
	return topicDeviceRegister + "/request"
}

// DeviceRegisterResponse returns the addressed topic the authority answers
// a specific device's registration request on.
//
// Example: device/register/aabbccddeeff/response
func (Topics) DeviceRegisterResponse(mac identity.MAC) string {
	return fmt.Sprintf("%s/%s/response", topicDeviceRegister, mac.Normalized())
}

// SensorRegisterRequest returns the shared topic devices publish
// sensor-registration requests to.
//
// Example: sensors/register/request
func (Topics) SensorRegisterRequest() string {
	return topicSensorRegister + "/request"
}

// SensorRegisterResponse returns the addressed topic the authority answers
// a specific device's sensor registration on.
//
// Example: sensors/register/aabbccddeeff/response
func (Topics) SensorRegisterResponse(mac identity.MAC) string {
	return fmt.Sprintf("%s/%s/response", topicSensorRegister, mac.Normalized())
}
