// Package subscription owns the lifecycle of per-chat subscription records.
//
// It is the only code that reads or writes the underlying key-value store.
// Unsubscribing flips Active to false and keeps the record, so a later
// /start restores the same record (including its notify hour).
package subscription

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"wikidaily/internal/storage"
	logx "wikidaily/pkg/logx"
)

// DefaultNotifyHour is used when the configured hour is out of range.
const DefaultNotifyHour = 19

var (
	// ErrNotFound is returned by Get for a chat that never subscribed.
	ErrNotFound = errors.New("subscription not found")

	// ErrStoreUnavailable matches any backend failure.
	ErrStoreUnavailable = storage.ErrUnavailable

	// ErrSequenceConsumed is yielded when a ListActive sequence is ranged twice.
	ErrSequenceConsumed = errors.New("active subscription sequence already consumed")
)

type Record = storage.Record

// Outcome is the result of Unsubscribe. None of the values is an error.
type Outcome int

const (
	Unsubscribed Outcome = iota + 1
	AlreadyUnsubscribed
	NeverSubscribed
)

func (o Outcome) String() string {
	switch o {
	case Unsubscribed:
		return "unsubscribed"
	case AlreadyUnsubscribed:
		return "already_unsubscribed"
	case NeverSubscribed:
		return "never_subscribed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Store struct {
	kv          storage.Store
	defaultHour int
	log         logx.Logger
}

func New(kv storage.Store, defaultHour int, log logx.Logger) *Store {
	if defaultHour < 0 || defaultHour > 23 {
		defaultHour = DefaultNotifyHour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{kv: kv, defaultHour: defaultHour, log: log}
}

// Get returns the record for chatID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, chatID int64) (Record, error) {
	rec, ok, err := s.kv.Get(ctx, chatID)
	if err != nil {
		return Record{}, fmt.Errorf("get subscription %d: %w", chatID, err)
	}
	if !ok {
		return Record{}, fmt.Errorf("get subscription %d: %w", chatID, ErrNotFound)
	}
	return rec, nil
}

// Subscribe makes chatID active, creating the record on first use.
// Calling it again is a no-op; it never resets the stored notify hour.
func (s *Store) Subscribe(ctx context.Context, chatID int64) error {
	rec, ok, err := s.kv.Get(ctx, chatID)
	if err != nil {
		return fmt.Errorf("subscribe %d: %w", chatID, err)
	}
	if ok && rec.Active {
		s.log.Debug("already subscribed", logx.Int64("chat_id", chatID))
		return nil
	}
	if !ok {
		rec = Record{ChatID: chatID, NotifyHour: s.defaultHour}
	}
	rec.Active = true
	if err := s.kv.Put(ctx, rec); err != nil {
		return fmt.Errorf("subscribe %d: %w", chatID, err)
	}
	s.log.Info("subscribed", logx.Int64("chat_id", chatID), logx.Bool("created", !ok))
	return nil
}

// Unsubscribe deactivates chatID. Only the active -> inactive transition writes.
func (s *Store) Unsubscribe(ctx context.Context, chatID int64) (Outcome, error) {
	rec, ok, err := s.kv.Get(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("unsubscribe %d: %w", chatID, err)
	}
	if !ok {
		return NeverSubscribed, nil
	}
	if !rec.Active {
		return AlreadyUnsubscribed, nil
	}
	rec.Active = false
	if err := s.kv.Put(ctx, rec); err != nil {
		return 0, fmt.Errorf("unsubscribe %d: %w", chatID, err)
	}
	s.log.Info("unsubscribed", logx.Int64("chat_id", chatID))
	return Unsubscribed, nil
}

// ListActive returns every active record as a single-pass sequence.
// Ranging over it a second time yields ErrSequenceConsumed.
func (s *Store) ListActive(ctx context.Context) iter.Seq2[Record, error] {
	var used atomic.Bool
	scan := s.kv.ScanActive(ctx)
	return func(yield func(Record, error) bool) {
		if used.Swap(true) {
			yield(Record{}, ErrSequenceConsumed)
			return
		}
		for rec, err := range scan {
			if err != nil {
				yield(Record{}, fmt.Errorf("list active: %w", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}
