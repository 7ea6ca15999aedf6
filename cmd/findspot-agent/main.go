// FindSpot Device Agent
//
// This is the main entry point for the FindSpot device agent: the process
// that bootstraps a parking-lot device's identity against the FindSpot
// authority over MQTT. It derives the device's operational broker
// credentials from its MAC address and a shared salt, registers the device
// under bootstrap credentials, rotates to the derived credentials once a
// numeric identity is assigned, then registers the attached sensors.
//
// Once fully registered the agent keeps the broker connection alive; the
// sensor sampling loops run outside this process.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/findspot/device-agent/internal/identity"
	"github.com/findspot/device-agent/internal/infrastructure/config"
	"github.com/findspot/device-agent/internal/infrastructure/logging"
	"github.com/findspot/device-agent/internal/infrastructure/mqtt"
	"github.com/findspot/device-agent/internal/journal"
	"github.com/findspot/device-agent/internal/registration"
	"github.com/findspot/device-agent/internal/sensors"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// controlLoopInterval is the cadence of the single cooperative loop that
// services the session and steps the registration state machine.
const controlLoopInterval = 100 * time.Millisecond

// clientIDSuffixLen is how much of the per-boot UUID goes into the broker
// client ID. Enough to never collide with this device's previous session.
const clientIDSuffixLen = 8

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// errRegistrationFailed signals that the handshake hit its overall deadline.
// The non-zero exit it causes is the restart policy: the supervisor brings
// the agent back up in a fresh Unregistered state, which is the only path
// that re-issues a registration request after a timeout.
var errRegistrationFailed = errors.New("registration failed")

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting FindSpot device agent",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Resolve the device identity
	mac, err := resolveMAC(cfg)
	if err != nil {
		return fmt.Errorf("resolving device MAC: %w", err)
	}
	log.Info("device identity resolved", "mac", mac.String())

	// Derive operational credentials. The authority re-derives the same
	// pair from its own copy of the salt when it processes registration.
	operational, err := identity.DeriveOperational(mac, cfg.Credentials.Prefix, cfg.Credentials.Salt)
	if err != nil {
		return fmt.Errorf("deriving operational credentials: %w", err)
	}
	bootstrap := identity.Bootstrap(cfg.Credentials.BootstrapUsername, cfg.Credentials.BootstrapPassword)

	// Snapshot the peripheral set
	descriptors := buildDescriptors(cfg.Sensors)
	if err := sensors.ValidateAll(descriptors); err != nil {
		return fmt.Errorf("validating sensor config: %w", err)
	}
	log.Info("sensor snapshot taken", "count", len(descriptors))

	// Open the registration journal (optional)
	var recorder registration.Recorder
	if cfg.Journal.Enabled {
		jnl, err := journal.Open(journal.Config{
			Path:        cfg.Journal.Path,
			WALMode:     cfg.Journal.WALMode,
			BusyTimeout: cfg.Journal.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening registration journal: %w", err)
		}
		defer func() {
			if closeErr := jnl.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
		}()
		jnl.SetLogger(log.With("component", "journal"))
		recorder = jnl
		log.Info("registration journal opened", "path", cfg.Journal.Path)
	}

	// Build the channel session, starting on bootstrap credentials
	session := mqtt.NewSession(mqtt.Config{
		Host:              cfg.MQTT.Broker.Host,
		Port:              cfg.MQTT.Broker.Port,
		TLS:               cfg.MQTT.Broker.TLS,
		ClientID:          buildClientID(mac, cfg.Credentials.Prefix),
		QoS:               byte(cfg.MQTT.QoS),
		ReconnectInterval: cfg.ReconnectInterval(),
		ConnectTimeout:    cfg.ConnectTimeout(),
		PublishTimeout:    cfg.PublishTimeout(),
	}, bootstrap)
	session.SetLogger(log.With("component", "session"))
	defer session.Close()

	// Route the addressed response topics into the coordinator's queue
	router := registration.NewRouter(mac)
	router.SetLogger(log.With("component", "router"))
	if err := router.Bind(session); err != nil {
		return fmt.Errorf("binding response topics: %w", err)
	}

	coordinator := registration.NewCoordinator(registration.Config{
		MAC: mac,
		Metadata: registration.DeviceMetadata{
			Name:      cfg.Device.Name,
			Location:  cfg.Device.Location,
			Latitude:  cfg.Device.Latitude,
			Longitude: cfg.Device.Longitude,
		},
		Operational:     operational,
		Descriptors:     descriptors,
		ResponseTimeout: cfg.ResponseTimeout(),
		OverallDeadline: cfg.OverallDeadline(),
	}, session, router.Events())
	coordinator.SetLogger(log.With("component", "coordinator"))
	if recorder != nil {
		coordinator.SetRecorder(recorder)
	}

	log.Info("entering control loop",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"response_timeout", cfg.ResponseTimeout().String(),
		"overall_deadline", cfg.OverallDeadline().String(),
	)

	return controlLoop(ctx, session, coordinator, log)
}

// controlLoop is the single cooperative loop: tick the session, step the
// state machine, repeat. All registration state is confined to this
// goroutine.
func controlLoop(ctx context.Context, session *mqtt.Session, coordinator *registration.Coordinator, log *logging.Logger) error {
	ticker := time.NewTicker(controlLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down", "phase", coordinator.Phase().String())
			return nil

		case now := <-ticker.C:
			session.Tick(now)
			coordinator.Step(now)

			if coordinator.Phase() == registration.PhaseFailed {
				return fmt.Errorf("%w: %s", errRegistrationFailed, coordinator.FailureReason())
			}
		}
	}
}

// resolveMAC returns the pinned MAC from config, or reads it from the first
// usable hardware interface.
func resolveMAC(cfg *config.Config) (identity.MAC, error) {
	if cfg.Device.MAC != "" {
		return identity.ParseMAC(cfg.Device.MAC)
	}
	return identity.FromHardware()
}

// buildDescriptors converts sensor config entries into the immutable
// registration snapshot.
func buildDescriptors(entries []config.SensorConfig) []sensors.Descriptor {
	descriptors := make([]sensors.Descriptor, 0, len(entries))
	for _, e := range entries {
		descriptors = append(descriptors, sensors.Descriptor{
			Technology: sensors.Technology(e.Technology),
			Kind:       sensors.Kind(e.Kind),
			Index:      e.Index,
			Name:       e.Name,
		})
	}
	return descriptors
}

// buildClientID builds the broker client ID: the derived username stem plus
// a short per-boot suffix, so a restarted agent never collides with the
// broker session of its previous life.
func buildClientID(mac identity.MAC, prefix string) string {
	return fmt.Sprintf("%s-%s", identity.DeriveUsername(mac, prefix), uuid.NewString()[:clientIDSuffixLen])
}

// getConfigPath returns the config file path from the environment or the
// default location.
func getConfigPath() string {
	if path := os.Getenv("FINDSPOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
