package clock

import (
	"time"

	"go.uber.org/fx"
)

// DateLayout is the UTC calendar date format used for the daily free allowance.
const DateLayout = "2006-01-02"

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystemClock returns a Clock backed by time.Now in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Date returns the UTC calendar date of t.
func Date(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DayBounds returns the start of the UTC day containing t and the start of the next day.
func DayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
