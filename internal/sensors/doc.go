// Package sensors describes the peripherals attached to a FindSpot device.
//
// Descriptors are configuration, not live sensor drivers: the sampling loops
// that actually read hardware run outside this agent. The registration
// handshake only needs to tell the authority what is attached, so a
// Descriptor carries the four fields the sensor-registration payload needs
// (technology, kind, index, name) and nothing else.
package sensors
