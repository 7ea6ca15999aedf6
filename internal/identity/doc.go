// Package identity provides device identity and credential derivation for
// the FindSpot device agent.
//
// A freshly booted device knows only its hardware MAC address and a shared
// secret salt delivered out of band. From those two inputs this package
// derives the device's operational broker credentials:
//
//	username = prefix + "_" + lowercase(stripSeparators(mac))
//	password = hex(sha256(lowercase(stripSeparators(mac)) + salt))[:32]
//
// The registration authority performs the identical derivation from its own
// copy of the salt, so the device never transmits the salt — only derived
// output crosses the wire. Both sides must produce byte-identical results;
// any deviation in case handling, separator stripping or truncation length
// breaks broker authentication with no visible error.
//
// All derivation functions are pure and deterministic, with no I/O.
package identity
