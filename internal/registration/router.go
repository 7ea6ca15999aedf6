package registration

import (
	"github.com/findspot/device-agent/internal/identity"
	"github.com/findspot/device-agent/internal/infrastructure/mqtt"
)

// eventQueueSize bounds the router's event queue. The authority sends at
// most one response per outstanding request, so anything beyond a handful
// of slots is duplicate traffic.
const eventQueueSize = 16

// Subscriber is the part of the channel session the router needs.
type Subscriber interface {
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

// Router parses inbound payloads from the two addressed response topics and
// turns them into typed Events on an internal queue.
//
// Handlers run on the transport's delivery goroutines; they only parse and
// enqueue. The coordinator drains the queue once per control-loop iteration,
// which preserves delivery order and keeps all state mutation on the single
// control goroutine.
type Router struct {
	mac    identity.MAC
	events chan Event
	logger Logger
}

// NewRouter creates a router for the given device identity.
func NewRouter(mac identity.MAC) *Router {
	return &Router{
		mac:    mac,
		events: make(chan Event, eventQueueSize),
		logger: noopLogger{},
	}
}

// SetLogger sets a logger for dropped-payload diagnostics.
func (r *Router) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Events returns the queue the coordinator drains.
func (r *Router) Events() <-chan Event {
	return r.events
}

// Bind subscribes the router to both reserved response topics. The
// subscriptions survive reconnects and credential switches; the session
// restores them on every new connection.
func (r *Router) Bind(sub Subscriber) error {
	topics := mqtt.Topics{}

	if err := sub.Subscribe(topics.DeviceRegisterResponse(r.mac), r.handleDeviceResponse); err != nil {
		return err
	}
	return sub.Subscribe(topics.SensorRegisterResponse(r.mac), r.handleSensorResponse)
}

// handleDeviceResponse parses a device-registration response. Malformed
// payloads are dropped with a log line; they must never crash the process
// or reach the coordinator.
func (r *Router) handleDeviceResponse(topic string, payload []byte) error {
	ev, err := parseDeviceResponse(payload)
	if err != nil {
		r.logger.Warn("dropping malformed device response",
			"topic", topic,
			"error", err,
		)
		return nil
	}
	r.enqueue(ev)
	return nil
}

// handleSensorResponse parses a sensor-registration response.
func (r *Router) handleSensorResponse(topic string, payload []byte) error {
	ev, err := parseSensorResponse(payload)
	if err != nil {
		r.logger.Warn("dropping malformed sensor response",
			"topic", topic,
			"error", err,
		)
		return nil
	}
	r.enqueue(ev)
	return nil
}

// enqueue adds an event without ever blocking a delivery goroutine. A full
// queue means the authority is flooding duplicates; dropping is safe because
// the coordinator treats responses idempotently anyway.
func (r *Router) enqueue(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("event queue full, dropping response",
			"kind", ev.Kind.String(),
			"status", string(ev.Status),
		)
	}
}
