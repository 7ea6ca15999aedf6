package mqtt

import (
	"testing"

	"github.com/findspot/device-agent/internal/identity"
)

func TestTopics(t *testing.T) {
	mac, err := identity.ParseMAC("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("ParseMAC() error = %v", err)
	}

	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"device request", topics.DeviceRegisterRequest(), "device/register/request"},
		{"device response", topics.DeviceRegisterResponse(mac), "device/register/aabbccddeeff/response"},
		{"sensor request", topics.SensorRegisterRequest(), "sensors/register/request"},
		{"sensor response", topics.SensorRegisterResponse(mac), "sensors/register/aabbccddeeff/response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}
