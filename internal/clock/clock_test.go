package clock

import (
	"testing"
	"time"
)

func TestDateUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	local := time.Date(2026, 3, 2, 5, 0, 0, 0, loc)

	if got := Date(local); got != "2026-03-01" {
		t.Fatalf("expected 2026-03-01, got %s", got)
	}
}

func TestDayBounds(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC)
	start, end := DayBounds(now)

	if !start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", start)
	}
	if !end.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %s", end)
	}
}

func TestFakeClockAdvance(t *testing.T) {
	c := NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c.Advance(24 * time.Hour)

	if got := Date(c.Now()); got != "2026-03-02" {
		t.Fatalf("expected 2026-03-02, got %s", got)
	}
}
