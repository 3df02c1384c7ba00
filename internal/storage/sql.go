package storage

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"strconv"
	"strings"

	logx "wikidaily/pkg/logx"
)

// sqlStore serves both SQLite and Postgres; the dialects differ only in
// placeholder syntax and schema DDL.
type sqlStore struct {
	db      *sql.DB
	log     logx.Logger
	dollars bool // Postgres-style $n placeholders
}

func (s *sqlStore) q(query string) string {
	if !s.dollars {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context, ddl string) error {
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Get(ctx context.Context, chatID int64) (Record, bool, error) {
	var r Record
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT chat_id, notify_hour, active FROM subscriptions WHERE chat_id = ?`),
		chatID,
	).Scan(&r.ChatID, &r.NotifyHour, &r.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, unavailable("get", err)
	}
	return r, true, nil
}

func (s *sqlStore) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO subscriptions (chat_id, notify_hour, active)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			notify_hour = excluded.notify_hour,
			active      = excluded.active`),
		rec.ChatID, rec.NotifyHour, rec.Active,
	)
	if err != nil {
		return unavailable("put", err)
	}
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM subscriptions WHERE chat_id = ?`), chatID); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *sqlStore) ScanActive(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			s.q(`SELECT chat_id, notify_hour, active FROM subscriptions WHERE active = ?`),
			true,
		)
		if err != nil {
			yield(Record{}, unavailable("scan", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var r Record
			if err := rows.Scan(&r.ChatID, &r.NotifyHour, &r.Active); err != nil {
				yield(Record{}, unavailable("scan", err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Record{}, unavailable("scan", err))
		}
	}
}
