// Package scheduler fires registered jobs on cron or interval schedules.
//
// Each trigger runs the job in its own goroutine with the schedule's timeout.
// A trigger that fires while the previous run of the same schedule is still
// in flight is skipped.
package scheduler
