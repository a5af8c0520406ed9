package slots

import (
	"time"

	"github.com/slotline/slotline/services/scheduling-service/internal/fault"
)

// ClockTime is a time-of-day offset within a working day.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, time.UTC)
}

// Generate expands a provider's working window on day into fixed-duration
// slot start times. Slots are contiguous, non-overlapping, and ascending; the
// last slot ends at or before the window end.
//
// day is expected at UTC midnight; start and end are offsets on that day.
func Generate(day time.Time, start, end ClockTime, duration time.Duration) ([]time.Time, error) {
	windowEnd := end.On(day)
	cursor := start.On(day)

	if cursor.Add(duration).After(windowEnd) {
		return nil, fault.Validation("provider must submit enough availability for at least one appointment")
	}

	var starts []time.Time
	for !cursor.Add(duration).After(windowEnd) {
		starts = append(starts, cursor)
		cursor = cursor.Add(duration)
	}
	return starts, nil
}
