package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule runs a job at a fixed interval.
type IntervalSchedule struct {
	interval time.Duration
}

// Every returns a schedule firing at the given interval. Intervals
// under a second are clamped to a second.
func Every(interval time.Duration) IntervalSchedule {
	if interval < time.Second {
		interval = time.Second
	}
	return IntervalSchedule{interval: interval}
}

// Next returns the next firing time after t.
func (s IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.interval)
}

// String returns a human-readable representation of the schedule.
func (s IntervalSchedule) String() string {
	return fmt.Sprintf("every %s", s.interval)
}
