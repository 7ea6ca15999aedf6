package registration

import (
	"time"

	"github.com/findspot/device-agent/internal/identity"
	"github.com/findspot/device-agent/internal/infrastructure/mqtt"
	"github.com/findspot/device-agent/internal/sensors"
)

// Channel is the part of the channel session the coordinator drives.
// *mqtt.Session satisfies it; tests use a fake.
type Channel interface {
	// Publish sends a payload; ErrNotConnected is an expected failure.
	Publish(topic string, payload []byte, retained bool) error

	// UseCredentials schedules a credential switch for the next tick.
	UseCredentials(creds identity.CredentialSet)

	// IsConnected reports whether a live connection exists.
	IsConnected() bool

	// Generation increments on every successful connect.
	Generation() uint64

	// ActiveCredentials returns the set in use for the current connection.
	ActiveCredentials() identity.CredentialSet
}

// Logger is the small logging interface the registration package needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is set.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives registration lifecycle entries for audit purposes.
// Recording is best-effort; the handshake never depends on it.
type Recorder interface {
	Record(phase, event, detail string)
}

// noopRecorder discards all entries. Used when no journal is configured.
type noopRecorder struct{}

func (noopRecorder) Record(string, string, string) {}

// PendingRequest tracks the single request that may be outstanding at a
// time. A new request is never issued while one is pending.
type PendingRequest struct {
	Topic     string
	SentAt    time.Time
	TimeoutAt time.Time
}

// Config contains the coordinator's identity, payload content and timing
// policy.
type Config struct {
	// MAC is the device's hardware identity.
	MAC identity.MAC

	// Metadata fills the descriptive fields of the device request.
	Metadata DeviceMetadata

	// Operational is the derived credential set: sent in the device request
	// for provisioning, switched to once a numeric identity is assigned.
	Operational identity.CredentialSet

	// Descriptors is the immutable peripheral snapshot to register in the
	// second phase.
	Descriptors []sensors.Descriptor

	// ResponseTimeout is how long a published request waits for a response
	// before the pending flag clears. Per observed device behaviour the
	// request is NOT re-published on timeout; recovery is the supervisor
	// restarting the whole process.
	ResponseTimeout time.Duration

	// OverallDeadline bounds the entire handshake. Zero disables it.
	OverallDeadline time.Duration
}

// Coordinator drives the registration state machine.
//
// All state is owned by the control loop: Step must only be called from that
// single goroutine, after the session's Tick. There is deliberately no lock.
type Coordinator struct {
	cfg      Config
	channel  Channel
	events   <-chan Event
	logger   Logger
	recorder Recorder

	phase      Phase
	failReason string

	// numericID is assigned at most once, on the transition out of
	// PhaseAwaitingDeviceAck. idAssigned distinguishes "not yet" from an
	// authority that hands out id 0.
	numericID  int
	idAssigned bool

	pending *PendingRequest

	// lastGen tracks the channel generation already acted on, so connection
	// edges fire exactly once per successful (re)connect.
	lastGen uint64

	// startedAt anchors the overall deadline; set on the first Step.
	startedAt time.Time
}

// NewCoordinator creates a coordinator in PhaseUnregistered.
//
// Parameters:
//   - cfg: Identity, payload content and timing policy
//   - channel: The channel session to drive
//   - events: The router's event queue
func NewCoordinator(cfg Config, channel Channel, events <-chan Event) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		channel:  channel,
		events:   events,
		logger:   noopLogger{},
		recorder: noopRecorder{},
		phase:    PhaseUnregistered,
	}
}

// SetLogger sets a logger for handshake diagnostics.
func (c *Coordinator) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetRecorder sets a journal recorder for lifecycle auditing.
func (c *Coordinator) SetRecorder(recorder Recorder) {
	if recorder != nil {
		c.recorder = recorder
	}
}

// Phase returns the current registration phase.
func (c *Coordinator) Phase() Phase {
	return c.phase
}

// NumericID returns the authority-assigned identity and whether it has been
// assigned yet.
func (c *Coordinator) NumericID() (int, bool) {
	return c.numericID, c.idAssigned
}

// Pending returns a copy of the outstanding request, if any.
func (c *Coordinator) Pending() (PendingRequest, bool) {
	if c.pending == nil {
		return PendingRequest{}, false
	}
	return *c.pending, true
}

// FailureReason returns the reason recorded when entering PhaseFailed.
func (c *Coordinator) FailureReason() string {
	return c.failReason
}

// Step advances the state machine. It must be called once per control-loop
// iteration, after the session tick, always from the same goroutine.
//
// Work per call, in order:
//  1. Drain the router's event queue in delivery order.
//  2. Act on a connection edge (new generation while connected).
//  3. Expire the pending request if its timeout has elapsed.
//  4. Enforce the overall deadline.
func (c *Coordinator) Step(now time.Time) {
	if c.startedAt.IsZero() {
		c.startedAt = now
	}

	c.drainEvents()

	if c.phase.Terminal() {
		return
	}

	if gen := c.channel.Generation(); gen != c.lastGen && c.channel.IsConnected() {
		c.lastGen = gen
		c.handleConnected(now)
	}

	c.expirePending(now)
	c.enforceDeadline(now)
}

// drainEvents processes every queued event, preserving delivery order.
func (c *Coordinator) drainEvents() {
	for {
		select {
		case ev := <-c.events:
			c.handleEvent(ev)
		default:
			return
		}
	}
}

// handleConnected reacts to a fresh connection. Which request (if any) to
// publish depends on the phase and the credential set that authenticated
// the connection.
func (c *Coordinator) handleConnected(now time.Time) {
	kind := c.channel.ActiveCredentials().Kind

	switch {
	case c.phase == PhaseUnregistered && kind == identity.KindBootstrap:
		c.publishDeviceRequest(now)

	case c.phase == PhaseDeviceRegistered && kind == identity.KindOperational:
		c.publishSensorRequest(now)

	default:
		// Reconnects in other phases carry no action. A reconnect while
		// awaiting an ack must not re-publish.
		c.logger.Debug("connection edge ignored",
			"phase", c.phase.String(),
			"credentials", kind,
		)
	}
}

// publishDeviceRequest sends the device-registration request and arms the
// pending-request timer. Publish always precedes the timer start.
func (c *Coordinator) publishDeviceRequest(now time.Time) {
	if c.pending != nil {
		c.logger.Warn("device request suppressed", "error", ErrRequestPending)
		return
	}

	payload, err := buildDeviceRequest(c.cfg.MAC, c.cfg.Metadata, c.cfg.Operational)
	if err != nil {
		c.logger.Error("building device request failed", "error", err)
		return
	}

	topic := mqtt.Topics{}.DeviceRegisterRequest()
	if err := c.channel.Publish(topic, payload, false); err != nil {
		// Stay in PhaseUnregistered; the next connection edge retries.
		c.logger.Warn("publishing device request failed", "error", err)
		return
	}

	c.pending = &PendingRequest{
		Topic:     topic,
		SentAt:    now,
		TimeoutAt: now.Add(c.cfg.ResponseTimeout),
	}
	c.transition(PhaseAwaitingDeviceAck, "device registration requested")
}

// publishSensorRequest sends the sensor-registration request. Only callable
// once the numeric identity exists: the payload embeds it.
func (c *Coordinator) publishSensorRequest(now time.Time) {
	if c.pending != nil {
		c.logger.Warn("sensor request suppressed", "error", ErrRequestPending)
		return
	}
	if !c.idAssigned {
		// Unreachable from the state machine; kept as a hard guard on the
		// invariant that sensor registration requires an identity.
		c.logger.Error("sensor request attempted without numeric identity")
		return
	}

	payload, err := buildSensorRequest(c.numericID, c.cfg.Descriptors)
	if err != nil {
		c.logger.Error("building sensor request failed", "error", err)
		return
	}

	topic := mqtt.Topics{}.SensorRegisterRequest()
	if err := c.channel.Publish(topic, payload, false); err != nil {
		// Stay in PhaseDeviceRegistered; the next connection edge retries.
		c.logger.Warn("publishing sensor request failed", "error", err)
		return
	}

	c.pending = &PendingRequest{
		Topic:     topic,
		SentAt:    now,
		TimeoutAt: now.Add(c.cfg.ResponseTimeout),
	}
	c.transition(PhaseAwaitingSensorAck, "sensor registration requested")
}

// handleEvent applies one validated response event to the state machine.
// Events for phases that are not active are stale or duplicate broker
// deliveries and must be no-ops.
func (c *Coordinator) handleEvent(ev Event) {
	if ev.Status == StatusError {
		// Backend errors clear the pending flag but never change phase and
		// never trigger an automatic retry.
		c.logger.Warn("authority reported error",
			"kind", ev.Kind.String(),
			"message", ev.Message,
		)
		c.recorder.Record(c.phase.String(), "backend_error", ev.Message)
		c.pending = nil
		return
	}

	switch ev.Kind {
	case EventDeviceResponse:
		c.handleDeviceRegistered(ev)
	case EventSensorResponse:
		c.handleSensorsRegistered(ev)
	}
}

// handleDeviceRegistered applies a successful device-registration response:
// the one-time numeric identity write and the credential switch.
func (c *Coordinator) handleDeviceRegistered(ev Event) {
	if c.phase != PhaseAwaitingDeviceAck || c.idAssigned {
		c.logger.Debug("stale device response ignored",
			"phase", c.phase.String(),
			"id", ev.NumericID,
		)
		return
	}

	c.numericID = ev.NumericID
	c.idAssigned = true
	c.pending = nil
	c.transition(PhaseDeviceRegistered, "numeric identity assigned")
	c.logger.Info("device registered",
		"id", c.numericID,
		"mac", c.cfg.MAC.String(),
	)

	// The phase guard above makes this a one-time action; a duplicate
	// response cannot schedule a second reconnect cycle.
	c.channel.UseCredentials(c.cfg.Operational)
}

// handleSensorsRegistered applies a successful sensor-registration response.
func (c *Coordinator) handleSensorsRegistered(ev Event) {
	if c.phase != PhaseAwaitingSensorAck {
		c.logger.Debug("stale sensor response ignored", "phase", c.phase.String())
		return
	}

	c.pending = nil
	c.transition(PhaseFullyRegistered, "all peripherals registered")
	c.logger.Info("device fully registered",
		"id", c.numericID,
		"sensors", ev.Counts["sensors"],
		"cameras", ev.Counts["cameras"],
	)
}

// expirePending clears an outstanding request whose timeout has elapsed.
// The phase stays put and the request is not re-published; recovery comes
// from a later reconnect or a process restart.
func (c *Coordinator) expirePending(now time.Time) {
	if c.pending == nil || now.Before(c.pending.TimeoutAt) {
		return
	}

	c.logger.Warn("request timed out",
		"topic", c.pending.Topic,
		"phase", c.phase.String(),
		"waited", now.Sub(c.pending.SentAt).String(),
	)
	c.recorder.Record(c.phase.String(), "timeout", c.pending.Topic)
	c.pending = nil
}

// enforceDeadline moves the machine to PhaseFailed once the overall
// handshake deadline expires. The enclosing process exits on PhaseFailed so
// a supervisor restart re-enters PhaseUnregistered from scratch.
func (c *Coordinator) enforceDeadline(now time.Time) {
	if c.cfg.OverallDeadline <= 0 || c.phase.Terminal() {
		return
	}
	if now.Sub(c.startedAt) < c.cfg.OverallDeadline {
		return
	}

	c.failReason = "registration did not complete within " + c.cfg.OverallDeadline.String()
	c.pending = nil
	c.transition(PhaseFailed, c.failReason)
}

// transition moves to a new phase, journalling the change. Pending-request
// bookkeeping happens at the call sites so flag and phase always change
// together, atomically from the control loop's perspective.
func (c *Coordinator) transition(to Phase, detail string) {
	from := c.phase
	c.phase = to
	c.logger.Debug("phase transition",
		"from", from.String(),
		"to", to.String(),
	)
	c.recorder.Record(to.String(), "transition", detail)
}
