package registration

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/findspot/device-agent/internal/identity"
	"github.com/findspot/device-agent/internal/sensors"
)

// fakeChannel is a scriptable Channel implementation. Tests flip its
// connection state and inspect what the coordinator published.
type fakeChannel struct {
	connected  bool
	generation uint64
	active     identity.CredentialSet

	published  []fakePublish
	publishErr error

	switches []identity.CredentialSet
}

type fakePublish struct {
	topic   string
	payload []byte
}

func (f *fakeChannel) Publish(topic string, payload []byte, retained bool) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, fakePublish{topic: topic, payload: payload})
	return nil
}

func (f *fakeChannel) UseCredentials(creds identity.CredentialSet) {
	f.switches = append(f.switches, creds)
}

func (f *fakeChannel) IsConnected() bool { return f.connected }

func (f *fakeChannel) Generation() uint64 { return f.generation }

func (f *fakeChannel) ActiveCredentials() identity.CredentialSet { return f.active }

// connect simulates a successful (re)connect with the given credential set,
// the way a session tick would report it.
func (f *fakeChannel) connect(creds identity.CredentialSet) {
	f.connected = true
	f.active = creds
	f.generation++
}

func (f *fakeChannel) drop() {
	f.connected = false
}

func testMAC(t *testing.T) identity.MAC {
	t.Helper()
	mac, err := identity.ParseMAC("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("ParseMAC() error = %v", err)
	}
	return mac
}

func testOperational() identity.CredentialSet {
	return identity.CredentialSet{
		Username: "esp32_dev_aabbccddeeff",
		Password: "0123456789abcdef0123456789abcdef",
		Kind:     identity.KindOperational,
	}
}

func testCoordinator(t *testing.T) (*Coordinator, *fakeChannel, chan Event) {
	t.Helper()

	ch := &fakeChannel{}
	events := make(chan Event, eventQueueSize)

	coord := NewCoordinator(Config{
		MAC: testMAC(t),
		Metadata: DeviceMetadata{
			Name:      "lot-a-entrance",
			Location:  "Complexul Studentesc P1",
			Latitude:  45.749565,
			Longitude: 21.240075,
		},
		Operational: testOperational(),
		Descriptors: []sensors.Descriptor{
			{Technology: sensors.TechnologyUltrasonic, Kind: sensors.KindDistance, Index: 0, Name: "spot-front"},
			{Technology: sensors.TechnologyCamera, Kind: sensors.KindCamera, Index: 0, Name: "overview"},
		},
		ResponseTimeout: 15 * time.Second,
		OverallDeadline: 120 * time.Second,
	}, ch, events)

	return coord, ch, events
}

// registeredDeviceEvent is the event the router emits for
// {"status":"registered","id":7}.
func registeredDeviceEvent(id int) Event {
	return Event{Kind: EventDeviceResponse, Status: StatusRegistered, NumericID: id}
}

func registeredSensorEvent() Event {
	return Event{
		Kind:   EventSensorResponse,
		Status: StatusRegistered,
		Counts: map[string]int{"sensors": 1, "cameras": 1},
	}
}

// =============================================================================
// Device Registration Phase
// =============================================================================

func TestBootstrapConnectPublishesDeviceRequest(t *testing.T) {
	coord, ch, _ := testCoordinator(t)
	now := time.Now()

	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(now)

	if got := coord.Phase(); got != PhaseAwaitingDeviceAck {
		t.Fatalf("Phase() = %v, want PhaseAwaitingDeviceAck", got)
	}
	if len(ch.published) != 1 {
		t.Fatalf("published %d requests, want 1", len(ch.published))
	}
	if ch.published[0].topic != "device/register/request" {
		t.Errorf("published to %q, want device/register/request", ch.published[0].topic)
	}

	pending, ok := coord.Pending()
	if !ok {
		t.Fatal("Pending() = none, want an outstanding request")
	}
	if pending.Topic != "device/register/request" {
		t.Errorf("pending topic = %q, want device/register/request", pending.Topic)
	}
	if !pending.TimeoutAt.Equal(now.Add(15 * time.Second)) {
		t.Errorf("pending timeout = %v, want sentAt+15s", pending.TimeoutAt)
	}
}

func TestDeviceRequestPayloadCarriesOperationalCredentials(t *testing.T) {
	coord, ch, _ := testCoordinator(t)

	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(time.Now())

	var req map[string]any
	if err := json.Unmarshal(ch.published[0].payload, &req); err != nil {
		t.Fatalf("unmarshalling request: %v", err)
	}

	if req["mac_address"] != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("mac_address = %v, want AA:BB:CC:DD:EE:FF", req["mac_address"])
	}
	if req["mqtt_username"] != "esp32_dev_aabbccddeeff" {
		t.Errorf("mqtt_username = %v, want derived username", req["mqtt_username"])
	}
	if req["mqtt_password"] != "0123456789abcdef0123456789abcdef" {
		t.Errorf("mqtt_password = %v, want derived password", req["mqtt_password"])
	}
	if req["name"] != "lot-a-entrance" {
		t.Errorf("name = %v, want lot-a-entrance", req["name"])
	}
}

func TestRepeatStepsDoNotRepublish(t *testing.T) {
	coord, ch, _ := testCoordinator(t)

	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(time.Now())
	coord.Step(time.Now())
	coord.Step(time.Now())

	if len(ch.published) != 1 {
		t.Errorf("published %d requests across idle steps, want 1", len(ch.published))
	}
}

func TestDeviceRegisteredAssignsIdentityAndSwitchesOnce(t *testing.T) {
	coord, ch, events := testCoordinator(t)

	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(time.Now())

	events <- registeredDeviceEvent(7)
	coord.Step(time.Now())

	if got := coord.Phase(); got != PhaseDeviceRegistered {
		t.Fatalf("Phase() = %v, want PhaseDeviceRegistered", got)
	}
	id, ok := coord.NumericID()
	if !ok || id != 7 {
		t.Errorf("NumericID() = (%d, %v), want (7, true)", id, ok)
	}
	if _, pendingLeft := coord.Pending(); pendingLeft {
		t.Error("pending request not cleared by device response")
	}
	if len(ch.switches) != 1 {
		t.Fatalf("credential switches = %d, want exactly 1", len(ch.switches))
	}
	if ch.switches[0].Kind != identity.KindOperational {
		t.Errorf("switched to %q, want operational", ch.switches[0].Kind)
	}
}

func TestDuplicateDeviceResponseIsNoOp(t *testing.T) {
	coord, ch, events := testCoordinator(t)

	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(time.Now())

	events <- registeredDeviceEvent(7)
	coord.Step(time.Now())

	// Simulate the operational reconnect, then redeliver the same response.
	ch.drop()
	ch.connect(testOperational())
	coord.Step(time.Now())

	if got := coord.Phase(); got != PhaseAwaitingSensorAck {
		t.Fatalf("Phase() = %v, want PhaseAwaitingSensorAck", got)
	}

	events <- registeredDeviceEvent(99)
	coord.Step(time.Now())

	if got := coord.Phase(); got != PhaseAwaitingSensorAck {
		t.Errorf("Phase() = %v after duplicate, want PhaseAwaitingSensorAck", got)
	}
	if id, _ := coord.NumericID(); id != 7 {
		t.Errorf("NumericID() = %d after duplicate, want 7 (write-once)", id)
	}
	if len(ch.switches) != 1 {
		t.Errorf("credential switches = %d after duplicate, want 1", len(ch.switches))
	}
}

// =============================================================================
// Sensor Registration Phase
// =============================================================================

func TestOperationalReconnectPublishesSensorRequest(t *testing.T) {
	coord, ch, events := testCoordinator(t)

	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(time.Now())
	events <- registeredDeviceEvent(7)
	coord.Step(time.Now())

	ch.drop()
	ch.connect(testOperational())
	coord.Step(time.Now())

	if got := coord.Phase(); got != PhaseAwaitingSensorAck {
		t.Fatalf("Phase() = %v, want PhaseAwaitingSensorAck", got)
	}
	if len(ch.published) != 2 {
		t.Fatalf("published %d requests, want 2", len(ch.published))
	}
	if ch.published[1].topic != "sensors/register/request" {
		t.Errorf("published to %q, want sensors/register/request", ch.published[1].topic)
	}

	var req map[string][]map[string]any
	if err := json.Unmarshal(ch.published[1].payload, &req); err != nil {
		t.Fatalf("unmarshalling sensor request: %v", err)
	}
	if len(req["ultrasonic"]) != 1 {
		t.Fatalf("ultrasonic group size = %d, want 1", len(req["ultrasonic"]))
	}
	if got := req["ultrasonic"][0]["device_id"]; got != float64(7) {
		t.Errorf("device_id = %v, want 7", got)
	}
}

func TestNoSensorRequestBeforeIdentityAssigned(t *testing.T) {
	coord, ch, _ := testCoordinator(t)

	// Even a (misconfigured) operational connection before device
	// registration must not produce a sensor request.
	ch.connect(testOperational())
	coord.Step(time.Now())

	for _, pub := range ch.published {
		if pub.topic == "sensors/register/request" {
			t.Fatal("sensor request published before numeric identity was assigned")
		}
	}
	if got := coord.Phase(); got != PhaseUnregistered {
		t.Errorf("Phase() = %v, want PhaseUnregistered", got)
	}
}

func TestSensorResponseCompletesRegistration(t *testing.T) {
	coord, ch, events := testCoordinator(t)

	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(time.Now())
	events <- registeredDeviceEvent(7)
	coord.Step(time.Now())
	ch.drop()
	ch.connect(testOperational())
	coord.Step(time.Now())

	events <- registeredSensorEvent()
	coord.Step(time.Now())

	if got := coord.Phase(); got != PhaseFullyRegistered {
		t.Fatalf("Phase() = %v, want PhaseFullyRegistered", got)
	}
	if _, pendingLeft := coord.Pending(); pendingLeft {
		t.Error("pending request not cleared on completion")
	}
}

func TestStaleSensorResponseIgnored(t *testing.T) {
	coord, _, events := testCoordinator(t)

	events <- registeredSensorEvent()
	coord.Step(time.Now())

	if got := coord.Phase(); got != PhaseUnregistered {
		t.Errorf("Phase() = %v after stray sensor response, want PhaseUnregistered", got)
	}
}

// =============================================================================
// Timeouts and Errors
// =============================================================================

func TestTimeoutClearsPendingWithoutRetry(t *testing.T) {
	coord, ch, _ := testCoordinator(t)
	base := time.Now()

	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(base)

	if _, ok := coord.Pending(); !ok {
		t.Fatal("expected a pending request")
	}

	coord.Step(base.Add(16 * time.Second))

	if _, ok := coord.Pending(); ok {
		t.Error("pending request not cleared after timeout")
	}
	if got := coord.Phase(); got != PhaseAwaitingDeviceAck {
		t.Errorf("Phase() = %v after timeout, want PhaseAwaitingDeviceAck (unchanged)", got)
	}
	if len(ch.published) != 1 {
		t.Errorf("published %d requests, want 1 (no automatic re-publish)", len(ch.published))
	}
}

func TestBackendErrorClearsPendingKeepsPhase(t *testing.T) {
	coord, ch, events := testCoordinator(t)

	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(time.Now())

	events <- Event{Kind: EventDeviceResponse, Status: StatusError, Message: "duplicate mac"}
	coord.Step(time.Now())

	if got := coord.Phase(); got != PhaseAwaitingDeviceAck {
		t.Errorf("Phase() = %v after backend error, want PhaseAwaitingDeviceAck", got)
	}
	if _, ok := coord.Pending(); ok {
		t.Error("pending request not cleared by backend error")
	}
	if len(ch.published) != 1 {
		t.Errorf("published %d requests, want 1 (no automatic retry)", len(ch.published))
	}
}

func TestPublishFailureLeavesPhaseForNextEdge(t *testing.T) {
	coord, ch, _ := testCoordinator(t)

	ch.publishErr = errTest
	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(time.Now())

	if got := coord.Phase(); got != PhaseUnregistered {
		t.Fatalf("Phase() = %v after failed publish, want PhaseUnregistered", got)
	}

	// A later successful reconnect retries the publish.
	ch.publishErr = nil
	ch.drop()
	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(time.Now())

	if got := coord.Phase(); got != PhaseAwaitingDeviceAck {
		t.Errorf("Phase() = %v after retry edge, want PhaseAwaitingDeviceAck", got)
	}
}

func TestOverallDeadlineFailsRegistration(t *testing.T) {
	coord, ch, _ := testCoordinator(t)
	base := time.Now()

	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(base)
	coord.Step(base.Add(121 * time.Second))

	if got := coord.Phase(); got != PhaseFailed {
		t.Fatalf("Phase() = %v past deadline, want PhaseFailed", got)
	}
	if coord.FailureReason() == "" {
		t.Error("FailureReason() is empty")
	}

	// Terminal: later events and edges change nothing.
	ch.drop()
	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(base.Add(130 * time.Second))
	if got := coord.Phase(); got != PhaseFailed {
		t.Errorf("Phase() = %v after post-failure edge, want PhaseFailed", got)
	}
}

// errTest is a sentinel for scripted publish failures.
var errTest = errTestType{}

type errTestType struct{}

func (errTestType) Error() string { return "scripted publish failure" }

// =============================================================================
// Full Handshake
// =============================================================================

func TestFullHandshake(t *testing.T) {
	coord, ch, events := testCoordinator(t)
	now := time.Now()

	// Boot: bootstrap connect, device request goes out.
	ch.connect(identity.Bootstrap("boot", "secret"))
	coord.Step(now)

	// Authority assigns identity 42.
	events <- registeredDeviceEvent(42)
	coord.Step(now.Add(time.Second))

	if len(ch.switches) != 1 {
		t.Fatalf("credential switches = %d, want 1", len(ch.switches))
	}

	// Session executes the switch: down, then up with operational creds.
	ch.drop()
	coord.Step(now.Add(2 * time.Second))
	ch.connect(testOperational())
	coord.Step(now.Add(3 * time.Second))

	// Authority confirms the peripherals.
	events <- registeredSensorEvent()
	coord.Step(now.Add(4 * time.Second))

	if got := coord.Phase(); got != PhaseFullyRegistered {
		t.Fatalf("Phase() = %v, want PhaseFullyRegistered", got)
	}
	if id, ok := coord.NumericID(); !ok || id != 42 {
		t.Errorf("NumericID() = (%d, %v), want (42, true)", id, ok)
	}
	if len(ch.published) != 2 {
		t.Errorf("published %d requests, want 2", len(ch.published))
	}
	if len(ch.switches) != 1 {
		t.Errorf("credential switches = %d, want exactly 1", len(ch.switches))
	}
}
