package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/findspot/device-agent/internal/identity"
)

// Connection constants.
const (
	// defaultKeepAlive matches the firmware's broker keepalive.
	defaultKeepAlive = 60 * time.Second

	// disconnectQuiesce is the time allowed for in-flight operations when
	// tearing a connection down (milliseconds, paho convention).
	disconnectQuiesce = 250

	// maxPayloadSize bounds outbound payloads. Matches the firmware's
	// transmit buffer; the authority never needs more for registration.
	maxPayloadSize = 2048

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Config contains everything the session needs to reach the broker.
type Config struct {
	// Host and Port locate the broker.
	Host string
	Port int

	// TLS switches the connection scheme from tcp:// to ssl://.
	TLS bool

	// ClientID identifies this device to the broker. Must be unique per
	// live connection.
	ClientID string

	// QoS is the quality-of-service level for publishes and subscriptions.
	QoS byte

	// ReconnectInterval is the fixed delay between connect attempts while
	// disconnected. There is no backoff: the registration coordinator owns
	// all give-up policy, so the session just keeps trying.
	ReconnectInterval time.Duration

	// ConnectTimeout bounds a single connect attempt.
	ConnectTimeout time.Duration

	// PublishTimeout bounds a single publish acknowledgement wait.
	PublishTimeout time.Duration
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked on paho's delivery goroutines, not the control loop.
// They must confine themselves to parsing and enqueueing; all registration
// state is owned by the control loop.
type MessageHandler func(topic string, payload []byte) error

// Logger is the small logging interface the session needs.
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

// Session owns at most one live broker connection, the active credential
// set, and the fixed-interval reconnect policy.
//
// Concurrency model: Session is NOT safe for concurrent use. It is owned by
// the single control loop, which calls Tick frequently to service
// reconnection. Message handlers run on paho goroutines but receive only
// (topic, payload); they must not touch the session.
type Session struct {
	cfg    Config
	logger Logger

	// active is the credential set used for the current/next connection.
	active identity.CredentialSet

	// pending, when non-nil, is a credential set to switch to on the next
	// Tick. The switch forces exactly one disconnect/reconnect cycle.
	pending *identity.CredentialSet

	client      pahomqtt.Client
	generation  uint64
	lastAttempt time.Time

	// subscriptions are (re-)applied after every successful connect.
	subscriptions map[string]MessageHandler
}

// NewSession creates a session that will authenticate with the given
// credential set. No connection is attempted until the first Tick.
func NewSession(cfg Config, creds identity.CredentialSet) *Session {
	return &Session{
		cfg:           cfg,
		logger:        noopLogger{},
		active:        creds,
		subscriptions: make(map[string]MessageHandler),
	}
}

// SetLogger sets a logger for connection and handler diagnostics.
func (s *Session) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// IsConnected reports whether a live broker connection exists.
func (s *Session) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

// Generation returns a counter that increments on every successful connect.
// Callers watch it for edges: a changed generation while connected means the
// session (re)connected since they last looked.
func (s *Session) Generation() uint64 {
	return s.generation
}

// ActiveCredentials returns the credential set in use for the current or
// next connection.
func (s *Session) ActiveCredentials() identity.CredentialSet {
	return s.active
}

// UseCredentials schedules a switch to a new credential set.
//
// The switch takes effect on the next Tick: the current connection (if any)
// is torn down and exactly one reconnect cycle is started with the new set.
// Calling this repeatedly before a Tick replaces the scheduled set; it never
// queues multiple cycles.
func (s *Session) UseCredentials(creds identity.CredentialSet) {
	s.pending = &creds
	s.logger.Info("credential switch scheduled",
		"from", s.active.Kind,
		"to", creds.Kind,
	)
}

// Subscribe registers a handler for a topic. The subscription is applied
// immediately if connected, and re-applied after every reconnect.
//
// Returns:
//   - error: ErrInvalidTopic, ErrSubscribeFailed, or nil. Registering while
//     disconnected succeeds; the broker-side subscribe happens on connect.
func (s *Session) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	s.subscriptions[topic] = handler

	if !s.IsConnected() {
		return nil
	}
	return s.subscribeBroker(topic, handler)
}

// Publish sends a message on the given topic using the configured QoS.
//
// Publishing while disconnected is an expected condition during the
// handshake, not a crash: it returns ErrNotConnected and the caller decides
// what to do.
//
// Parameters:
//   - topic: Destination topic
//   - payload: Message body (max 2048 bytes)
//   - retained: Whether the broker should retain the message
//
// Returns:
//   - error: ErrInvalidTopic, ErrPayloadTooLarge, ErrNotConnected, or a
//     wrapped ErrPublishFailed
func (s *Session) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Publish(topic, s.cfg.QoS, retained, payload)
	if !token.WaitTimeout(s.cfg.PublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, s.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Tick services the connection. It must be called frequently by the control
// loop.
//
// Behaviour per call:
//   - A scheduled credential switch tears down the current connection and
//     immediately attempts one reconnect with the new set.
//   - Otherwise, if disconnected and the fixed interval has elapsed since
//     the last attempt, one reconnect is attempted.
//   - Connect failures are never fatal; the next eligible Tick retries.
func (s *Session) Tick(now time.Time) {
	if s.pending != nil {
		creds := *s.pending
		s.pending = nil
		s.disconnect()
		s.active = creds
		s.attemptConnect(now)
		return
	}

	if s.IsConnected() {
		return
	}
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.cfg.ReconnectInterval {
		return
	}
	s.attemptConnect(now)
}

// Close tears down the connection. The session can be ticked again
// afterwards and will reconnect; callers that want it to stay down simply
// stop ticking.
func (s *Session) Close() {
	s.disconnect()
}

// disconnect drops the current connection, if any.
func (s *Session) disconnect() {
	if s.client == nil {
		return
	}
	s.client.Disconnect(disconnectQuiesce)
	s.client = nil
	s.logger.Debug("session disconnected")
}

// attemptConnect makes a single bounded connect attempt with the active
// credential set and, on success, restores all registered subscriptions.
func (s *Session) attemptConnect(now time.Time) {
	s.lastAttempt = now

	// Drop any stale client from a lost connection before reconnecting.
	if s.client != nil && !s.client.IsConnected() {
		s.client.Disconnect(0)
		s.client = nil
	}

	client := pahomqtt.NewClient(s.buildOptions())
	token := client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		client.Disconnect(0)
		s.logger.Warn("broker connect timed out",
			"broker", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
			"credentials", s.active.String(),
		)
		return
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		s.logger.Warn("broker connect failed",
			"broker", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
			"credentials", s.active.String(),
			"error", err,
		)
		return
	}

	s.client = client
	s.generation++
	s.logger.Info("broker connected",
		"broker", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		"credentials", s.active.String(),
		"generation", s.generation,
	)

	for topic, handler := range s.subscriptions {
		if err := s.subscribeBroker(topic, handler); err != nil {
			s.logger.Error("restoring subscription failed",
				"topic", topic,
				"error", err,
			)
		}
	}
}

// subscribeBroker performs the broker-side subscribe for one topic.
func (s *Session) subscribeBroker(topic string, handler MessageHandler) error {
	token := s.client.Subscribe(topic, s.cfg.QoS, s.wrapHandler(handler))
	if !token.WaitTimeout(s.cfg.PublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, s.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// buildOptions creates paho client options for the active credential set.
//
// Auto-reconnect is deliberately disabled: the session's Tick owns the
// fixed-interval retry policy, and paho's exponential backoff would fight it.
func (s *Session) buildOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if s.cfg.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, s.cfg.Host, s.cfg.Port))

	opts.SetClientID(s.cfg.ClientID)
	opts.SetUsername(s.active.Username)
	opts.SetPassword(s.active.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if s.cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// wrapHandler wraps a MessageHandler with panic recovery and logging, in the
// same shape paho expects.
func (s *Session) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	logger := s.logger
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("message handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			logger.Warn("message handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}
