// Package mqtt provides the channel session for the FindSpot device agent.
//
// The Session wraps paho.mqtt.golang with the connection model the
// registration handshake needs:
//
//   - At most one live connection, authenticated with the currently active
//     credential set (bootstrap before registration, derived operational
//     credentials after).
//   - A cooperative Tick that the control loop calls frequently. All
//     reconnection happens inside Tick at a fixed retry interval — no
//     exponential backoff, no background reconnect goroutine. Connect
//     failures (unreachable broker, rejected credentials) are never fatal;
//     give-up policy belongs to the registration coordinator.
//   - Credential switching: UseCredentials schedules a switch that the next
//     Tick executes as exactly one disconnect/reconnect cycle.
//   - Subscription restoration after every reconnect.
//
// # Concurrency
//
// Session is single-owner: only the control loop may call its methods.
// Message handlers run on paho's delivery goroutines and must limit
// themselves to parsing and enqueueing; they never touch the session.
// This is what lets the session carry no locks.
package mqtt
