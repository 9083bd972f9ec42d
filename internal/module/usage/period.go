package usage

import "time"

// PeriodStart returns the start of the monthly period containing t.
// Periods begin on the anchor's day of month and time of day, in UTC, with the
// day clamped to the length of short months. A zero anchor means calendar months.
func PeriodStart(anchor, t time.Time) time.Time {
	t = t.UTC()
	if anchor.IsZero() {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	anchor = anchor.UTC()

	start := anchorIn(anchor, t.Year(), t.Month())
	if start.After(t) {
		prev := time.Date(t.Year(), t.Month()-1, 1, 0, 0, 0, 0, time.UTC)
		start = anchorIn(anchor, prev.Year(), prev.Month())
	}
	return start
}

// PeriodEnd returns the start of the period following the one beginning at start.
func PeriodEnd(anchor, start time.Time) time.Time {
	start = start.UTC()
	next := time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	if anchor.IsZero() {
		return next
	}
	return anchorIn(anchor.UTC(), next.Year(), next.Month())
}

func anchorIn(anchor time.Time, year int, month time.Month) time.Time {
	day := anchor.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
