package util

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

const dateLayout = "2006-01-02"

// StartOfDay returns 00:00:00 of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// ParseDateLocal parses a YYYY-MM-DD string as a calendar day in loc.
func ParseDateLocal(dateStr string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, dateStr, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// Date is a calendar day carried in JSON as "YYYY-MM-DD". A full RFC 3339
// timestamp is also accepted; its own calendar day is kept and the offset
// dropped.
type Date string

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		*d = ""
		return nil
	}
	if _, err := time.Parse(dateLayout, s); err == nil {
		*d = Date(s)
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("date %q must be YYYY-MM-DD", s)
	}
	*d = Date(t.Format(dateLayout))
	return nil
}

// In resolves d to midnight of its calendar day in loc.
func (d Date) In(loc *time.Location) (time.Time, error) {
	return ParseDateLocal(string(d), loc)
}

// FormatDate renders t's calendar day in loc as YYYY-MM-DD.
func FormatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateLayout)
}

// ValidateNotFutureDate rejects a date after today. Only the calendar day is
// compared, so today is allowed.
func ValidateNotFutureDate(d, now time.Time, loc *time.Location) error {
	if StartOfDay(d, loc).After(StartOfDay(now, loc)) {
		return fmt.Errorf("date %s cannot be in the future", FormatDate(d, loc))
	}
	return nil
}

// AddMonths adds n calendar months to d, clamping the day to the end of the
// target month: Jan 31 + 1 month is Feb 28 (or 29).
func AddMonths(d time.Time, n int) time.Time {
	y, m, day := d.Date()
	first := time.Date(y, m+time.Month(n), 1, d.Hour(), d.Minute(), d.Second(), d.Nanosecond(), d.Location())
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, d.Hour(), d.Minute(), d.Second(), d.Nanosecond(), d.Location())
}

// LaterOf returns the later of a and b.
func LaterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// ParseClock parses a wall-clock "HH:MM" (or "HH:MM:SS") value.
func ParseClock(s string) (hour, minute int, err error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, perr := time.Parse(layout, s); perr == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("invalid time of day %q", s)
}

// At combines the calendar day of date with a wall-clock "HH:MM" in loc.
func At(date time.Time, clock string, loc *time.Location) (time.Time, error) {
	h, m, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := date.Date()
	return time.Date(y, mo, d, h, m, 0, 0, loc), nil
}

// CalendarDay reinterprets a DATE column value (midnight in whatever zone the
// driver chose) as midnight of the same calendar day in loc.
func CalendarDay(d time.Time, loc *time.Location) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, loc)
}
