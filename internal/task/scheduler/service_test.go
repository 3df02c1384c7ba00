package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "wikidaily/pkg/logx"
)

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func TestCronScheduleFires(t *testing.T) {
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	var runs atomic.Int32
	if _, err := s.AddCron("tick", "* * * * * *", time.Second, func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 1 })

	snap := s.Snapshot()
	if snap.Timezone != "UTC" || len(snap.Schedules) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Schedules[0].Next.IsZero() {
		t.Fatal("expected next run time")
	}
}

func TestFireSkipsWhileRunning(t *testing.T) {
	s := New(Config{Enabled: true}, logx.Nop())
	release := make(chan struct{})
	var started atomic.Int32
	job := func(ctx context.Context) error {
		started.Add(1)
		<-release
		return nil
	}
	st := &runState{}
	base := context.Background()

	s.fire(base, "fanout", 0, job, st)
	waitFor(t, time.Second, func() bool { return started.Load() == 1 })
	s.fire(base, "fanout", 0, job, st)
	s.fire(base, "fanout", 0, job, st)

	if got := st.skipped.Load(); got != 2 {
		t.Fatalf("skipped = %d, want 2", got)
	}
	close(release)
	s.wg.Wait()
	if started.Load() != 1 || st.running.Load() {
		t.Fatalf("started = %d running = %v", started.Load(), st.running.Load())
	}

	// free again after the run finished
	s.fire(base, "fanout", 0, func(context.Context) error { return errors.New("boom") }, st)
	s.wg.Wait()
	if msg := st.lastErr.Load(); msg == nil || *msg != "boom" {
		t.Fatalf("lastErr = %v", msg)
	}
}

func TestFireRecoversPanicAndAppliesTimeout(t *testing.T) {
	s := New(Config{}, logx.Nop())
	st := &runState{}
	s.fire(context.Background(), "p", 0, func(context.Context) error { panic("kaboom") }, st)
	s.wg.Wait()
	if st.running.Load() {
		t.Fatal("running flag not cleared after panic")
	}

	var deadline atomic.Bool
	s.fire(context.Background(), "t", 20*time.Millisecond, func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		deadline.Store(ok)
		<-ctx.Done()
		return ctx.Err()
	}, st)
	s.wg.Wait()
	if !deadline.Load() {
		t.Fatal("job context had no deadline")
	}
}

func TestStopCancelsRunningJobs(t *testing.T) {
	s := New(Config{Enabled: true}, logx.Nop())
	s.Start(context.Background())

	cancelled := make(chan struct{})
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	s.fire(base, "long", 0, func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}, &runState{})

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)

	select {
	case <-cancelled:
	default:
		t.Fatal("running job was not cancelled by Stop")
	}
}

func TestAddUpsertsByName(t *testing.T) {
	s := New(Config{}, logx.Nop())
	noop := func(context.Context) error { return nil }
	if _, err := s.AddSchedule("fanout", "19:00", 0, noop); err != nil {
		t.Fatal(err)
	}
	if snap := s.Snapshot(); len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "0 19 * * *" {
		t.Fatalf("time of day not registered as daily cron: %+v", snap.Schedules)
	}
	if _, err := s.AddSchedule("fanout", "0 8 * * *", 0, noop); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "0 8 * * *" {
		t.Fatalf("unexpected schedules: %+v", snap.Schedules)
	}
	if _, err := s.AddCron("bad", "not cron", 0, noop); err == nil {
		t.Fatal("expected invalid cron error")
	}
	if !s.Remove("fanout") || s.Remove("fanout") {
		t.Fatal("Remove should report removal exactly once")
	}
}
