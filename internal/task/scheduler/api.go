package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "wikidaily/pkg/logx"
)

const errorWarnThrottle = 5 * time.Second

// AddSchedule parses schedule and registers a cron, daily or interval job.
//
// Supported schedule formats:
//   - Cron: "0 19 * * *", "@daily", "@every 55m"
//   - Daily time of day: "19:00", "daily:07:30"
//   - Interval: "55m", "interval:02:30"
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron, SpecDaily:
		return s.AddCron(name, ps.Cron, timeout, job)
	case SpecInterval:
		return s.AddInterval(name, ps.Every, timeout, job)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) (string, error) {
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return s.add(name, "cron", spec, timeout, job)
}

func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job Job) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.add(name, "interval", fmt.Sprintf("@every %s", every.String()), timeout, job)
}

// add upserts by name so hot reloads never duplicate a schedule. The run
// state of a replaced definition carries over, so a reload cannot start a
// second concurrent run of the same job.
func (s *Service) add(name, kind, spec string, timeout time.Duration, job Job) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &runState{}
	for _, d := range s.defs {
		if d.name == name {
			state = d.state
		}
	}
	_ = s.removeScheduleLocked(name)

	id := fmt.Sprintf("%s:%d", kind, time.Now().UnixNano())
	d := scheduleDef{id: id, name: name, spec: spec, timeout: timeout, job: job, state: state}
	s.defs = append(s.defs, d)
	if s.c == nil {
		// Not started yet: registered when Start runs.
		return name, nil
	}
	err := s.addCronLocked(&s.defs[len(s.defs)-1])
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return name, err
	}
	args := []logx.Field{logx.String("name", name), logx.String("id", id), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 4); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return name, nil
}

// Remove unschedules all schedules with the given name. It returns true if
// something was removed. Safe to call before Start.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeScheduleLocked removes all defs matching name and unregisters them
// from cron if running. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// addCronLocked registers d with the running cron. Call with s.mu held.
func (s *Service) addCronLocked(d *scheduleDef) error {
	// The cron job must not take s.mu: restartLocked waits for running cron
	// jobs while holding it.
	base := s.base
	name, timeout, job, state := d.name, d.timeout, d.job, d.state
	fire := cron.FuncJob(func() { s.fire(base, name, timeout, job, state) })

	spec := strings.TrimSpace(d.spec)
	if strings.HasPrefix(spec, "@every") {
		everyStr := strings.TrimSpace(strings.TrimPrefix(spec, "@every"))
		every, err := time.ParseDuration(everyStr)
		if err == nil && every > 0 {
			loc := s.loc
			if loc == nil {
				loc = time.Local
			}
			sched, jitter := intervalSchedule(every, time.Now().In(loc))
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, fire)
			return nil
		}
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(spec, fire)
	if err == nil {
		d.entryID = eid
	}
	return err
}

// fire starts one run unless the previous run of the schedule is still in flight.
func (s *Service) fire(base context.Context, name string, timeout time.Duration, job Job, st *runState) {
	if base == nil {
		return
	}
	if !st.running.CompareAndSwap(false, true) {
		st.skipped.Add(1)
		s.log.Debug("schedule trigger skipped; previous run in flight", logx.String("schedule", name))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer st.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in scheduled job", logx.String("schedule", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				msg := fmt.Sprintf("panic: %v", r)
				st.lastErr.Store(&msg)
			}
		}()

		ctx := base
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(base, timeout)
			defer cancel()
		}
		st.runs.Add(1)
		start := time.Now()
		err := job(ctx)
		if err != nil {
			msg := err.Error()
			st.lastErr.Store(&msg)
			s.reportError(name, err)
			return
		}
		st.lastErr.Store(nil)
		s.log.Debug("scheduled run finished", logx.String("schedule", name), logx.Duration("took", time.Since(start)))
	}()
}

func (s *Service) reportError(name string, err error) {
	now := time.Now()
	s.errMu.Lock()
	last := s.lastErrWarn[name]
	if !last.IsZero() && now.Sub(last) < errorWarnThrottle {
		s.errMu.Unlock()
		return
	}
	s.lastErrWarn[name] = now
	s.errMu.Unlock()

	s.log.Warn("scheduled run failed", logx.String("schedule", name), logx.Err(err))
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked returns upcoming run times for spec. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
