package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// ErrUnavailable marks a backend failure (I/O, connection, decode).
// Callers test for it with errors.Is; the backend cause stays wrapped.
var ErrUnavailable = errors.New("store unavailable")

// Config configures storage.
//
// Driver values:
//   - "memory": in-process map, nothing persisted
//   - "sqlite": SQLite database file at Path
//   - "postgres": database at DSN
//   - "bolt": BoltDB file at Path
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite and bolt; 0 means default
}

// Record is the persisted subscription state of one chat.
type Record struct {
	ChatID     int64
	NotifyHour int
	Active     bool
}

// Store is the minimal key-value API the subscription layer needs.
//
// Point operations are atomic per key. ScanActive is a single pass over the
// records with Active=true in no particular order; an error ends the sequence.
// No subscription path calls Delete; unsubscribing keeps the record inactive.
type Store interface {
	Get(ctx context.Context, chatID int64) (rec Record, ok bool, err error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, chatID int64) error
	ScanActive(ctx context.Context) iter.Seq2[Record, error]
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
