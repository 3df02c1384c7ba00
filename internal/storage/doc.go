// Package storage is the key-value collaborator behind subscriptions.
//
// Drivers:
//   - memory: process-local map (tests, dry runs)
//   - sqlite: embedded database file (modernc, pure Go)
//   - postgres: shared database reached by DSN
//   - bolt: embedded B+tree file, CBOR-encoded values
package storage
