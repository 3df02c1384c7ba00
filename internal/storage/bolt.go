package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boltdb/bolt"
	"github.com/fxamacker/cbor/v2"

	logx "wikidaily/pkg/logx"
)

var subscriptionsBucket = []byte("subscriptions")

// boltScanPage bounds how many records one read transaction collects during
// ScanActive, so a slow consumer never pins a transaction open.
const boltScanPage = 256

type boltStore struct {
	db  *bolt.DB
	log logx.Logger
}

// boltValue is the CBOR body stored under the chat id key.
type boltValue struct {
	NotifyHour int  `cbor:"1,keyasint"`
	Active     bool `cbor:"2,keyasint"`
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for bolt driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, unavailable("open", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(subscriptionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, unavailable("create bucket", err)
	}
	log.Info("bolt ready", logx.String("path", path))
	return &boltStore{db: db, log: log}, nil
}

func boltKey(chatID int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(chatID))
	return buf
}

func decodeBolt(k, v []byte) (Record, error) {
	var bv boltValue
	if err := cbor.Unmarshal(v, &bv); err != nil {
		return Record{}, err
	}
	return Record{ChatID: int64(binary.BigEndian.Uint64(k)), NotifyHour: bv.NotifyHour, Active: bv.Active}, nil
}

func (s *boltStore) Get(ctx context.Context, chatID int64) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, unavailable("get", err)
	}
	var (
		rec Record
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		k := boltKey(chatID)
		v := tx.Bucket(subscriptionsBucket).Get(k)
		if v == nil {
			return nil
		}
		r, err := decodeBolt(k, v)
		if err != nil {
			return err
		}
		rec, ok = r, true
		return nil
	})
	if err != nil {
		return Record{}, false, unavailable("get", err)
	}
	return rec, ok, nil
}

func (s *boltStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return unavailable("put", err)
	}
	b, err := cbor.Marshal(boltValue{NotifyHour: rec.NotifyHour, Active: rec.Active})
	if err != nil {
		return unavailable("put", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(subscriptionsBucket).Put(boltKey(rec.ChatID), b)
	})
	if err != nil {
		return unavailable("put", err)
	}
	return nil
}

func (s *boltStore) Delete(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete", err)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(subscriptionsBucket).Delete(boltKey(chatID))
	})
	if err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *boltStore) ScanActive(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		var after []byte
		for {
			if err := ctx.Err(); err != nil {
				yield(Record{}, unavailable("scan", err))
				return
			}
			page := make([]Record, 0, boltScanPage)
			var last []byte
			err := s.db.View(func(tx *bolt.Tx) error {
				c := tx.Bucket(subscriptionsBucket).Cursor()
				var k, v []byte
				if after == nil {
					k, v = c.First()
				} else {
					k, v = c.Seek(after)
					if k != nil && string(k) == string(after) {
						k, v = c.Next()
					}
				}
				seen := 0
				for ; k != nil && seen < boltScanPage; k, v = c.Next() {
					seen++
					last = append(last[:0], k...)
					r, err := decodeBolt(k, v)
					if err != nil {
						return err
					}
					if r.Active {
						page = append(page, r)
					}
				}
				return nil
			})
			if err != nil {
				yield(Record{}, unavailable("scan", err))
				return
			}
			for _, r := range page {
				if !yield(r, nil) {
					return
				}
			}
			if last == nil {
				return
			}
			after = last
		}
	}
}

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
