package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"branch-ops/internal/access"
	"branch-ops/internal/billing"
	"branch-ops/internal/classes"
	"branch-ops/internal/db"
	"branch-ops/internal/events"
	"branch-ops/internal/logging"
	"branch-ops/internal/metrics"
	"branch-ops/internal/models"
	"branch-ops/internal/util"

	"github.com/google/uuid"
)

// Engine records per-session attendance and derives late/absent warnings.
type Engine struct {
	gw  *db.Gateway
	loc *time.Location
	now func() time.Time
}

func NewEngine(gw *db.Gateway, loc *time.Location) *Engine {
	return &Engine{gw: gw, loc: loc, now: time.Now}
}

// Record is one mark in a submission: exactly one of StudentID (a regular
// student) or LeadID (a trial student) is set.
type Record struct {
	StudentID *uuid.UUID `json:"student_id"`
	LeadID    *uuid.UUID `json:"lead_id"`
	Status    string     `json:"status" validate:"required"`
	Note      *string    `json:"note"`
}

type MarkResult struct {
	SessionID uuid.UUID                  `json:"session_id"`
	Saved     int                        `json:"saved"`
	Consumed  int                        `json:"sessions_consumed"`
	Warnings  []events.AttendanceWarning `json:"warnings"`
}

// CanMarkAttendance re-reads the session and checks actor against the
// current server time.
func (e *Engine) CanMarkAttendance(ctx context.Context, actor access.Actor, sessionID uuid.UUID) (Decision, error) {
	s, err := classes.GetSession(ctx, e.gw.DB, sessionID, false)
	if err != nil {
		return Decision{}, err
	}
	if err := access.ForActor(actor).Check(s.BranchID); err != nil {
		return Decision{}, err
	}
	return CanMark(s, actor, e.now(), e.loc), nil
}

// MarkAttendance writes every record for the session in one transaction.
// Re-marking a student or lead updates the existing row. Warnings and fee
// events are returned for dispatch after commit.
func (e *Engine) MarkAttendance(ctx context.Context, actor access.Actor, sessionID uuid.UUID, records []Record) (*MarkResult, []events.Event, error) {
	if len(records) == 0 {
		return nil, nil, models.Validation("at least one attendance record is required")
	}
	statuses := make([]string, len(records))
	for i, r := range records {
		if (r.StudentID == nil) == (r.LeadID == nil) {
			return nil, nil, models.Validation("record %d must name exactly one of student_id or lead_id", i+1)
		}
		st, err := NormalizeStatus(r.Status)
		if err != nil {
			return nil, nil, err
		}
		statuses[i] = st
	}

	res := &MarkResult{SessionID: sessionID, Warnings: []events.AttendanceWarning{}}
	var evts []events.Event

	err := e.gw.WithTx(ctx, "mark_attendance", func(tx *sql.Tx) error {
		s, err := classes.GetSession(ctx, tx, sessionID, true)
		if err != nil {
			return err
		}
		if err := access.ForActor(actor).Check(s.BranchID); err != nil {
			return err
		}
		if d := CanMark(s, actor, e.now(), e.loc); !d.Allowed {
			return decisionError(d)
		}

		warned := make(map[uuid.UUID]bool)
		for i, r := range records {
			status := statuses[i]
			if r.LeadID != nil {
				if err := e.markLead(ctx, tx, s, *r.LeadID, status, r.Note, actor.ID); err != nil {
					return err
				}
				res.Saved++
				continue
			}

			studentID := *r.StudentID
			consumed, err := upsertStudent(ctx, tx, s, studentID, status, r.Note, actor.ID)
			if err != nil {
				return err
			}
			res.Saved++

			if attended(status) && !consumed {
				c, fevts, err := billing.ConsumeSession(ctx, tx, studentID)
				if err != nil {
					return err
				}
				if c.Consumed {
					if _, err := tx.ExecContext(ctx, `
						UPDATE attendance SET session_consumed = TRUE WHERE session_id = $1 AND student_id = $2
					`, s.ID, studentID); err != nil {
						return fmt.Errorf("failed to flag consumed session: %w", err)
					}
					res.Consumed++
				}
				evts = append(evts, fevts...)
			}

			if countsTowardWarning(status) && !warned[studentID] {
				w, err := e.warningFor(ctx, tx, s, studentID)
				if err != nil {
					return err
				}
				if w != nil {
					warned[studentID] = true
					res.Warnings = append(res.Warnings, *w)
					evts = append(evts, events.New(events.TypeAttendanceWarning, s.BranchID, *w))
				}
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE class_sessions
			SET attendance_submitted = TRUE, submitted_at = COALESCE(submitted_at, CURRENT_TIMESTAMP), submitted_by = $1
			WHERE id = $2
		`, actor.ID, s.ID)
		if err != nil {
			return fmt.Errorf("failed to flag session submitted: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.AttendanceWarnings.Add(float64(len(res.Warnings)))
	logging.Ctx(ctx).Info().
		Str("session_id", sessionID.String()).
		Int("saved", res.Saved).
		Int("warnings", len(res.Warnings)).
		Msg("Attendance submitted")
	return res, evts, nil
}

// upsertStudent writes the student's mark and reports whether this row has
// already consumed a paid session.
func upsertStudent(ctx context.Context, q db.Querier, s *models.Session, studentID uuid.UUID, status string, note *string, markedBy uuid.UUID) (bool, error) {
	var enrolled bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM class_students WHERE class_id = $1 AND student_id = $2 AND status = 'active')
	`, s.ClassID, studentID).Scan(&enrolled)
	if err != nil {
		return false, fmt.Errorf("failed to check enrollment: %w", err)
	}
	if !enrolled {
		return false, models.Validation("student %s is not enrolled in %s", studentID, s.ClassName)
	}

	var consumed bool
	err = q.QueryRowContext(ctx, `
		INSERT INTO attendance (session_id, student_id, status, note, marked_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, student_id) WHERE student_id IS NOT NULL
		DO UPDATE SET status = EXCLUDED.status, note = EXCLUDED.note,
			marked_by = EXCLUDED.marked_by, marked_at = CURRENT_TIMESTAMP
		RETURNING session_consumed
	`, s.ID, studentID, status, note, markedBy).Scan(&consumed)
	if err != nil {
		return false, fmt.Errorf("failed to save attendance: %w", err)
	}
	return consumed, nil
}

// markLead writes a trial student's mark and recounts the lead's attended
// trial sessions from the attendance table, so corrections lower it too.
func (e *Engine) markLead(ctx context.Context, q db.Querier, s *models.Session, leadID uuid.UUID, status string, note *string, markedBy uuid.UUID) error {
	var branchID uuid.UUID
	var leadStatus string
	err := q.QueryRowContext(ctx, `SELECT branch_id, status FROM leads WHERE id = $1 FOR UPDATE`, leadID).Scan(&branchID, &leadStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NotFound("lead not found")
		}
		return fmt.Errorf("failed to get lead: %w", err)
	}
	if branchID != s.BranchID {
		return models.Validation("lead belongs to a different branch")
	}
	if leadStatus == models.LeadConverted {
		return models.Conflict("lead %s is already converted", leadID)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO attendance (session_id, lead_id, status, note, marked_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, lead_id) WHERE lead_id IS NOT NULL
		DO UPDATE SET status = EXCLUDED.status, note = EXCLUDED.note,
			marked_by = EXCLUDED.marked_by, marked_at = CURRENT_TIMESTAMP
	`, s.ID, leadID, status, note, markedBy)
	if err != nil {
		return fmt.Errorf("failed to save trial attendance: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		UPDATE leads SET trial_sessions_attended = (
			SELECT COUNT(*) FROM attendance WHERE lead_id = $1 AND status IN ('present', 'late')
		), updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, leadID)
	if err != nil {
		return fmt.Errorf("failed to recount trial sessions: %w", err)
	}
	return nil
}

// warningFor recounts the student's late and absent marks across all
// sessions of the session's class. It returns nil below the threshold.
func (e *Engine) warningFor(ctx context.Context, q db.Querier, s *models.Session, studentID uuid.UUID) (*events.AttendanceWarning, error) {
	w := &events.AttendanceWarning{
		StudentID:   studentID,
		ClassID:     s.ClassID,
		ClassName:   s.ClassName,
		SessionID:   s.ID,
		SessionDate: util.FormatDate(util.CalendarDay(s.SessionDate, e.loc), e.loc),
	}
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE a.status = 'late'), COUNT(*) FILTER (WHERE a.status = 'absent')
		FROM attendance a JOIN class_sessions cs ON cs.id = a.session_id
		WHERE cs.class_id = $1 AND a.student_id = $2
	`, s.ClassID, studentID).Scan(&w.LateCount, &w.AbsentCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count late and absent: %w", err)
	}
	if w.Total() < WarningThreshold {
		return nil, nil
	}

	var parentName, parentPhone, parentEmail sql.NullString
	err = q.QueryRowContext(ctx, `
		SELECT code, full_name, parent_name, parent_phone, parent_email FROM students WHERE id = $1
	`, studentID).Scan(&w.StudentCode, &w.StudentName, &parentName, &parentPhone, &parentEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to load student contact: %w", err)
	}
	w.ParentName = parentName.String
	w.ParentPhone = parentPhone.String
	w.ParentEmail = parentEmail.String
	return w, nil
}

// ReportRow is one student's tallies in a class.
type ReportRow struct {
	StudentID   uuid.UUID `json:"student_id"`
	StudentCode string    `json:"student_code"`
	FullName    string    `json:"full_name"`
	Present     int       `json:"present"`
	Late        int       `json:"late"`
	Excused     int       `json:"excused"`
	Absent      int       `json:"absent"`
}

// GetClassReport tallies each enrolled student's marks across the class.
func (e *Engine) GetClassReport(ctx context.Context, scope access.Scope, classID uuid.UUID) ([]ReportRow, error) {
	c, err := classes.Get(ctx, e.gw.DB, classID)
	if err != nil {
		return nil, err
	}
	if err := scope.Check(c.BranchID); err != nil {
		return nil, err
	}

	rows, err := e.gw.DB.QueryContext(ctx, `
		SELECT st.id, st.code, st.full_name,
			COUNT(a.id) FILTER (WHERE a.status = 'present'),
			COUNT(a.id) FILTER (WHERE a.status = 'late'),
			COUNT(a.id) FILTER (WHERE a.status = 'excused'),
			COUNT(a.id) FILTER (WHERE a.status = 'absent')
		FROM class_students cs
		JOIN students st ON st.id = cs.student_id
		LEFT JOIN class_sessions s ON s.class_id = cs.class_id
		LEFT JOIN attendance a ON a.session_id = s.id AND a.student_id = st.id
		WHERE cs.class_id = $1 AND cs.status = 'active'
		GROUP BY st.id, st.code, st.full_name
		ORDER BY st.full_name
	`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query class report: %w", err)
	}
	defer rows.Close()

	out := make([]ReportRow, 0)
	for rows.Next() {
		var r ReportRow
		if err := rows.Scan(&r.StudentID, &r.StudentCode, &r.FullName, &r.Present, &r.Late, &r.Excused, &r.Absent); err != nil {
			return nil, fmt.Errorf("failed to scan class report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// WarningRow is an active enrollment at or above the warning threshold.
type WarningRow struct {
	StudentID   uuid.UUID `json:"student_id"`
	StudentCode string    `json:"student_code"`
	FullName    string    `json:"full_name"`
	ParentPhone *string   `json:"parent_phone,omitempty"`
	ClassID     uuid.UUID `json:"class_id"`
	ClassName   string    `json:"class_name"`
	BranchID    uuid.UUID `json:"branch_id"`
	Late        int       `json:"late"`
	Absent      int       `json:"absent"`
	Total       int       `json:"total"`
}

// GetStudentsWithWarnings recomputes late+absent per active enrollment and
// returns those at or above the threshold, worst first.
func (e *Engine) GetStudentsWithWarnings(ctx context.Context, scope access.Scope) ([]WarningRow, error) {
	var args db.Args
	threshold := args.Add(WarningThreshold)
	query := `
		SELECT st.id, st.code, st.full_name, st.parent_phone, c.id, c.name, c.branch_id, late, absent, late + absent AS total
		FROM (
			SELECT cs.class_id, cs.student_id,
				COUNT(a.id) FILTER (WHERE a.status = 'late') AS late,
				COUNT(a.id) FILTER (WHERE a.status = 'absent') AS absent
			FROM class_students cs
			JOIN class_sessions s ON s.class_id = cs.class_id
			JOIN attendance a ON a.session_id = s.id AND a.student_id = cs.student_id
			WHERE cs.status = 'active'
			GROUP BY cs.class_id, cs.student_id
		) t
		JOIN students st ON st.id = t.student_id
		JOIN classes c ON c.id = t.class_id
		WHERE late + absent >= ` + threshold + ` AND ` + scope.Filter("c.branch_id", &args) + `
		ORDER BY total DESC, st.full_name`

	rows, err := e.gw.DB.QueryContext(ctx, query, args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("failed to query warnings: %w", err)
	}
	defer rows.Close()

	out := make([]WarningRow, 0)
	for rows.Next() {
		var w WarningRow
		if err := rows.Scan(&w.StudentID, &w.StudentCode, &w.FullName, &w.ParentPhone, &w.ClassID, &w.ClassName, &w.BranchID, &w.Late, &w.Absent, &w.Total); err != nil {
			return nil, fmt.Errorf("failed to scan warning: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SessionAttendance lists the stored marks for a session.
func (e *Engine) SessionAttendance(ctx context.Context, scope access.Scope, sessionID uuid.UUID) ([]models.AttendanceRecord, error) {
	s, err := classes.GetSession(ctx, e.gw.DB, sessionID, false)
	if err != nil {
		return nil, err
	}
	if err := scope.Check(s.BranchID); err != nil {
		return nil, err
	}
	rows, err := e.gw.DB.QueryContext(ctx, `
		SELECT id, session_id, student_id, lead_id, status, note, marked_by, marked_at
		FROM attendance WHERE session_id = $1 ORDER BY marked_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()
	out := make([]models.AttendanceRecord, 0)
	for rows.Next() {
		var r models.AttendanceRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.StudentID, &r.LeadID, &r.Status, &r.Note, &r.MarkedBy, &r.MarkedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
