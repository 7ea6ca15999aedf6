// Package journal provides an optional SQLite audit log of the registration
// handshake.
//
// Every phase transition, timeout and backend error the coordinator sees can
// be appended here, giving operators a durable record of how a device came
// to be registered (or failed to). The journal is one-way: registration
// state lives only in memory and is rebuilt from scratch on restart, so the
// journal being present, absent or wiped never changes handshake behaviour.
package journal
