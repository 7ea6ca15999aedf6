// Package registration implements the device identity bootstrap and
// registration handshake.
//
// A freshly booted device authenticates to the broker with pre-shared
// bootstrap credentials, asks the authority for an authoritative numeric
// identity, rotates to its self-derived operational credentials once
// accepted, then registers its attached peripherals in a second phase.
//
// # Components
//
//	┌──────────────────────┐   events    ┌──────────────────────┐
//	│    ResponseRouter    │────────────▶│     Coordinator      │
//	│     (router.go)      │   (queue)   │   (coordinator.go)   │
//	│                      │             │                      │
//	│ • parses responses   │             │ • state machine      │
//	│ • schema validation  │             │ • pending request    │
//	│ • drops malformed    │             │ • credential switch  │
//	└──────────────────────┘             └──────────────────────┘
//	          ▲                                     │
//	          │ subscriptions                       │ publish / switch
//	          └──────────────┬──────────────────────┘
//	                         ▼
//	               ┌──────────────────┐
//	               │   mqtt.Session   │
//	               └──────────────────┘
//
// # State machine
//
// Phases progress Unregistered → AwaitingDeviceAck → DeviceRegistered →
// AwaitingSensorAck → FullyRegistered. The numeric identity is written
// exactly once; stale or duplicate responses are no-ops; a response timeout
// clears the pending-request flag without re-publishing (recovery is the
// supervisor restarting the process, which is the only path that re-issues
// a request). The overall deadline is the one route into the terminal
// PhaseFailed.
//
// # Concurrency
//
// The coordinator owns all mutable registration state and is driven solely
// by Step from the single control loop. Router handlers run on transport
// delivery goroutines but only parse and enqueue; the queue hand-off is the
// sole cross-goroutine edge, so no further locking exists anywhere in the
// package.
package registration
