package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule holds back the first run of an interval schedule by a random
// offset; later runs follow the plain interval.
type spreadSchedule struct {
	every cron.ConstantDelaySchedule
	first time.Time
}

func (s spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.every.Next(t)
}

// intervalSchedule returns an @every schedule whose first run lands in
// [now+every, now+every+min(every, maxStartupSpread)).
func intervalSchedule(every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return base, 0
	}
	jitter := rand.N(window)
	return spreadSchedule{every: base, first: now.Add(every + jitter)}, jitter
}
