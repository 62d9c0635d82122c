package ledger

import "time"

// =============================================================================
// CALENDAR DAYS - event dates carry no time of day
// =============================================================================

// DateLayout is the storage and display layout of an event date.
const DateLayout = "2006-01-02"

// Clock returns the current time. Components take one so tests can pin "now".
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// AgeDays is floor((now - eventDate) / 24h). Future dates give negative ages.
func AgeDays(eventDate, now time.Time) int {
	d := now.Sub(Day(eventDate))
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days--
	}
	return days
}

// Yesterday returns [yesterday 00:00, today 00:00) in UTC relative to now.
func Yesterday(now time.Time) (start, end time.Time) {
	end = Day(now)
	return end.AddDate(0, 0, -1), end
}
