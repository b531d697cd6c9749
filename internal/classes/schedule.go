package classes

import (
	"fmt"
	"strings"
	"time"

	"branch-ops/internal/util"
)

var weekdayNames = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

// ParseScheduleDays turns "MON,WED,FRI" into weekdays. Names are case
// insensitive and may be separated by commas or spaces; duplicates collapse.
func ParseScheduleDays(s string) ([]time.Weekday, error) {
	fields := strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	seen := make(map[time.Weekday]bool)
	var days []time.Weekday
	for _, f := range fields {
		if len(f) > 3 {
			f = f[:3]
		}
		d, ok := weekdayNames[f]
		if !ok {
			return nil, fmt.Errorf("unknown schedule day %q", f)
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("schedule days are required")
	}
	return days, nil
}

// NormalizeScheduleDays returns the canonical "MON,WED" form ordered Monday first.
func NormalizeScheduleDays(days []time.Weekday) string {
	order := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday}
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	var names []string
	for _, d := range order {
		if set[d] {
			names = append(names, strings.ToUpper(d.String()[:3]))
		}
	}
	return strings.Join(names, ",")
}

// SessionDates lays out n weekly sessions starting on start (inclusive),
// one on each listed weekday. Dates are calendar days at midnight in loc.
func SessionDates(start time.Time, days []time.Weekday, n int, loc *time.Location) []time.Time {
	if n <= 0 || len(days) == 0 {
		return nil
	}
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	out := make([]time.Time, 0, n)
	for d := util.CalendarDay(start, loc); len(out) < n; d = d.AddDate(0, 0, 1) {
		if set[d.Weekday()] {
			out = append(out, d)
		}
	}
	return out
}

// validTimeRange checks both clocks parse and start is before end.
func validTimeRange(start, end string) error {
	sh, sm, err := util.ParseClock(start)
	if err != nil {
		return fmt.Errorf("invalid start time: %w", err)
	}
	eh, em, err := util.ParseClock(end)
	if err != nil {
		return fmt.Errorf("invalid end time: %w", err)
	}
	if sh*60+sm >= eh*60+em {
		return fmt.Errorf("start time must be before end time")
	}
	return nil
}
