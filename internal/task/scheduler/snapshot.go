package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	defs := make([]scheduleDef, len(s.defs))
	copy(defs, s.defs)
	c := s.c
	loc := s.loc
	s.mu.Unlock()

	if tz == "" {
		if loc == nil {
			loc = time.Local
		}
		tz = loc.String()
	}

	items := make([]ScheduleInfo, 0, len(defs))
	for _, d := range defs {
		it := ScheduleInfo{
			ID:      d.id,
			Name:    d.name,
			Spec:    d.spec,
			Timeout: d.timeout,
			Running: d.state.running.Load(),
			Runs:    d.state.runs.Load(),
			Skipped: d.state.skipped.Load(),
		}
		if msg := d.state.lastErr.Load(); msg != nil {
			it.LastErr = *msg
		}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}
	return Snapshot{Enabled: enabled, Timezone: tz, Schedules: items}
}
