// Package database provides the SQLite connection and schema migration
// support for the telemetry history store.
//
// The proxy's authoritative device state is in-memory only; SQLite holds
// the durable parts: decoded energy samples and relay transitions. The
// database is opened once at startup, migrated forward, and shared by the
// telemetry recorder and the history endpoints.
//
// Migrations are embedded into the binary by the migrations package and
// applied in version order, each in its own transaction.
package database
