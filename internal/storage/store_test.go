package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	logx "wikidaily/pkg/logx"
)

func openers(t *testing.T) map[string]func(t *testing.T) Store {
	m := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "subs.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return st
		},
		"bolt": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "bolt", Path: filepath.Join(t.TempDir(), "subs.bolt")}, logx.Nop())
			if err != nil {
				t.Fatalf("open bolt: %v", err)
			}
			return st
		},
	}
	if dsn := os.Getenv("WIKIDAILY_TEST_POSTGRES_DSN"); dsn != "" {
		m["postgres"] = func(t *testing.T) Store {
			st, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
			if err != nil {
				t.Fatalf("open postgres: %v", err)
			}
			ctx := context.Background()
			for _, id := range []int64{1, 2, 3, -100} {
				_ = st.Delete(ctx, id)
			}
			return st
		}
	}
	return m
}

func collectActive(t *testing.T, st Store) []int64 {
	t.Helper()
	var ids []int64
	for r, err := range st.ScanActive(context.Background()) {
		if err != nil {
			t.Fatalf("ScanActive: %v", err)
		}
		if !r.Active {
			t.Fatalf("ScanActive yielded inactive record %+v", r)
		}
		ids = append(ids, r.ChatID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestStoreContract(t *testing.T) {
	for name, open := range openers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			ctx := context.Background()

			if _, ok, err := st.Get(ctx, 1); err != nil || ok {
				t.Fatalf("Get on empty store = ok:%v err:%v", ok, err)
			}

			recs := []Record{
				{ChatID: 1, NotifyHour: 19, Active: true},
				{ChatID: 2, NotifyHour: 8, Active: false},
				{ChatID: 3, NotifyHour: 19, Active: true},
				{ChatID: -100, NotifyHour: 20, Active: true}, // group chats have negative ids
			}
			for _, r := range recs {
				if err := st.Put(ctx, r); err != nil {
					t.Fatalf("Put(%+v): %v", r, err)
				}
			}

			got, ok, err := st.Get(ctx, 2)
			if err != nil || !ok {
				t.Fatalf("Get(2) ok:%v err:%v", ok, err)
			}
			if got != recs[1] {
				t.Fatalf("Get(2) = %+v, want %+v", got, recs[1])
			}

			if ids := collectActive(t, st); len(ids) != 3 || ids[0] != -100 || ids[1] != 1 || ids[2] != 3 {
				t.Fatalf("active = %v, want [-100 1 3]", ids)
			}

			// Overwrite keeps a single record per key.
			if err := st.Put(ctx, Record{ChatID: 1, NotifyHour: 19, Active: false}); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			if ids := collectActive(t, st); len(ids) != 2 {
				t.Fatalf("active after overwrite = %v", ids)
			}

			if err := st.Delete(ctx, 3); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := st.Get(ctx, 3); ok {
				t.Fatal("record 3 still present after Delete")
			}
		})
	}
}

func TestScanActiveStopsEarly(t *testing.T) {
	for name, open := range openers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			ctx := context.Background()
			for i := int64(1); i <= 3; i++ {
				if err := st.Put(ctx, Record{ChatID: i, NotifyHour: 19, Active: true}); err != nil {
					t.Fatalf("Put: %v", err)
				}
			}
			n := 0
			for _, err := range st.ScanActive(ctx) {
				if err != nil {
					t.Fatalf("ScanActive: %v", err)
				}
				n++
				break
			}
			if n != 1 {
				t.Fatalf("consumed %d records, want 1", n)
			}
			// The store stays usable after an abandoned scan.
			if _, _, err := st.Get(ctx, 1); err != nil {
				t.Fatalf("Get after abandoned scan: %v", err)
			}
		})
	}
}

func TestBoltScanPaginates(t *testing.T) {
	st, err := Open(Config{Driver: "bolt", Path: filepath.Join(t.TempDir(), "subs.bolt")}, logx.Nop())
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	total := boltScanPage*2 + 7
	for i := 1; i <= total; i++ {
		if err := st.Put(ctx, Record{ChatID: int64(i), NotifyHour: 19, Active: i%2 == 0}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if ids := collectActive(t, st); len(ids) != total/2 {
		t.Fatalf("active count = %d, want %d", len(ids), total/2)
	}
}

func TestClosedMemoryStoreIsUnavailable(t *testing.T) {
	st := NewMemory()
	_ = st.Close()
	_, _, err := st.Get(context.Background(), 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get on closed store err = %v, want ErrUnavailable", err)
	}
	for _, err := range st.ScanActive(context.Background()) {
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("scan err = %v, want ErrUnavailable", err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "dynamo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for sqlite without path")
	}
}
