package attendance

import (
	"fmt"
	"strings"
	"time"

	"branch-ops/internal/access"
	"branch-ops/internal/models"
	"branch-ops/internal/util"
)

const (
	// OpensBefore is how long before the scheduled start a teacher may mark.
	OpensBefore = 5 * time.Minute
	// ClosesAfter is how long after the scheduled end a teacher may still mark.
	ClosesAfter = 15 * time.Minute

	// WarningThreshold is the late+absent count in one class that raises a
	// warning.
	WarningThreshold = 3
)

const (
	ReasonNotOpen     = "window not yet open"
	ReasonClosed      = "window closed"
	ReasonNotAssigned = "not assigned to this class"
)

// Decision is the outcome of an attendance permission check.
type Decision struct {
	Allowed bool      `json:"allowed"`
	Reason  string    `json:"reason,omitempty"`
	Opens   time.Time `json:"opens_at,omitempty"`
	Closes  time.Time `json:"closes_at,omitempty"`
}

// Window returns when a teacher may start and stop marking a session.
func Window(s *models.Session, loc *time.Location) (opens, closes time.Time, err error) {
	day := util.CalendarDay(s.SessionDate, loc)
	start, err := util.At(day, s.StartTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("session start: %w", err)
	}
	end, err := util.At(day, s.EndTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("session end: %w", err)
	}
	return start.Add(-OpensBefore), end.Add(ClosesAfter), nil
}

// CanMark decides whether actor may mark attendance for s at now. Callers
// with blanket attendance authority always may. Teachers must be the class
// teacher or the session substitute, and inside the window.
func CanMark(s *models.Session, actor access.Actor, now time.Time, loc *time.Location) Decision {
	if actor.Can(access.MarkAnyAttendance) {
		return Decision{Allowed: true}
	}
	if !actor.Can(access.MarkOwnAttendance) || !assignedTo(s, actor) {
		return Decision{Reason: ReasonNotAssigned}
	}

	opens, closes, err := Window(s, loc)
	if err != nil {
		return Decision{Reason: err.Error()}
	}
	d := Decision{Opens: opens, Closes: closes}
	switch {
	case now.Before(opens):
		d.Reason = ReasonNotOpen
	case now.After(closes):
		d.Reason = ReasonClosed
	default:
		d.Allowed = true
	}
	return d
}

func assignedTo(s *models.Session, actor access.Actor) bool {
	if s.TeacherID != nil && *s.TeacherID == actor.ID {
		return true
	}
	return s.SubstituteTeacherID != nil && *s.SubstituteTeacherID == actor.ID
}

// decisionError turns a refusal into the matching error kind.
func decisionError(d Decision) error {
	switch d.Reason {
	case ReasonNotOpen, ReasonClosed:
		return models.InvalidState("attendance %s", d.Reason)
	case ReasonNotAssigned:
		return models.PermissionDenied("you are %s", d.Reason)
	}
	return models.InvalidState("%s", d.Reason)
}

// NormalizeStatus maps caller input onto the stored enumeration. "on_time"
// is stored as present.
func NormalizeStatus(s string) (string, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "on_time", "ontime", models.AttendancePresent:
		return models.AttendancePresent, nil
	case models.AttendanceLate, models.AttendanceExcused, models.AttendanceAbsent:
		return v, nil
	}
	return "", models.Validation("invalid attendance status %q", s)
}

func countsTowardWarning(status string) bool {
	return status == models.AttendanceLate || status == models.AttendanceAbsent
}

func attended(status string) bool {
	return status == models.AttendancePresent || status == models.AttendanceLate
}
