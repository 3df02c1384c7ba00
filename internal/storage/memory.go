package storage

import (
	"context"
	"errors"
	"iter"
	"sync"
)

type memoryStore struct {
	mu     sync.Mutex
	recs   map[int64]Record
	closed bool
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{recs: map[int64]Record{}}
}

var errClosed = errors.New("store closed")

func (s *memoryStore) Get(ctx context.Context, chatID int64) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, unavailable("get", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, false, unavailable("get", errClosed)
	}
	r, ok := s.recs[chatID]
	return r, ok, nil
}

func (s *memoryStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return unavailable("put", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable("put", errClosed)
	}
	s.recs[rec.ChatID] = rec
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable("delete", errClosed)
	}
	delete(s.recs, chatID)
	return nil
}

func (s *memoryStore) ScanActive(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			yield(Record{}, unavailable("scan", errClosed))
			return
		}
		active := make([]Record, 0, len(s.recs))
		for _, r := range s.recs {
			if r.Active {
				active = append(active, r)
			}
		}
		s.mu.Unlock()

		for _, r := range active {
			if err := ctx.Err(); err != nil {
				yield(Record{}, unavailable("scan", err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
