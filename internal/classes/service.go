package classes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"branch-ops/internal/access"
	"branch-ops/internal/branches"
	"branch-ops/internal/db"
	"branch-ops/internal/logging"
	"branch-ops/internal/metrics"
	"branch-ops/internal/models"
	"branch-ops/internal/util"

	"github.com/google/uuid"
)

// Service manages classes, their generated sessions and rosters.
type Service struct {
	gw  *db.Gateway
	loc *time.Location
}

func NewService(gw *db.Gateway, loc *time.Location) *Service {
	return &Service{gw: gw, loc: loc}
}

type NewClass struct {
	BranchID      uuid.UUID  `json:"branch_id" validate:"required"`
	Code          string     `json:"code"`
	Name          string     `json:"name" validate:"required"`
	TeacherID     *uuid.UUID `json:"teacher_id"`
	SubjectID     *uuid.UUID `json:"subject_id"`
	LevelID       *uuid.UUID `json:"level_id"`
	ScheduleDays  string     `json:"schedule_days" validate:"required"`
	StartTime     string     `json:"start_time" validate:"required"`
	EndTime       string     `json:"end_time" validate:"required"`
	StartDate     time.Time  `json:"start_date" validate:"required"`
	TotalSessions int        `json:"total_sessions" validate:"required,min=1,max=500"`
}

const classColumns = `id, branch_id, code, name, teacher_id, subject_id, level_id,
	schedule_days, start_time, end_time, start_date, total_sessions, status, created_at`

func scanClass(row interface{ Scan(...interface{}) error }) (*models.Class, error) {
	c := &models.Class{}
	err := row.Scan(&c.ID, &c.BranchID, &c.Code, &c.Name, &c.TeacherID, &c.SubjectID, &c.LevelID,
		&c.ScheduleDays, &c.StartTime, &c.EndTime, &c.StartDate, &c.TotalSessions, &c.Status, &c.CreatedAt)
	return c, err
}

// CreateClass inserts a class. Without an explicit code one is allocated
// from the branch sequence as {branchCode}-C{00001}.
func (s *Service) CreateClass(ctx context.Context, actor access.Actor, in NewClass) (*models.Class, error) {
	if !actor.Can(access.ManageClasses) {
		return nil, models.PermissionDenied("you cannot manage classes")
	}
	if err := access.ForActor(actor).Check(in.BranchID); err != nil {
		return nil, err
	}
	days, err := ParseScheduleDays(in.ScheduleDays)
	if err != nil {
		return nil, models.Validation("%s", err.Error())
	}
	if err := validTimeRange(in.StartTime, in.EndTime); err != nil {
		return nil, models.Validation("%s", err.Error())
	}
	if in.TotalSessions <= 0 {
		return nil, models.Validation("total sessions must be positive")
	}
	if in.StartDate.IsZero() {
		return nil, models.Validation("start date is required")
	}

	c := &models.Class{
		BranchID:      in.BranchID,
		Code:          strings.ToUpper(strings.TrimSpace(in.Code)),
		Name:          strings.TrimSpace(in.Name),
		TeacherID:     in.TeacherID,
		SubjectID:     in.SubjectID,
		LevelID:       in.LevelID,
		ScheduleDays:  NormalizeScheduleDays(days),
		StartTime:     in.StartTime,
		EndTime:       in.EndTime,
		StartDate:     util.CalendarDay(in.StartDate, s.loc),
		TotalSessions: in.TotalSessions,
		Status:        "active",
	}

	err = s.gw.WithTx(ctx, "create_class", func(tx *sql.Tx) error {
		branch, err := branches.Get(ctx, tx, in.BranchID)
		if err != nil {
			return err
		}
		if !branch.Active {
			return models.InvalidState("branch %s is inactive", branch.Code)
		}
		if c.Code == "" {
			prefix := branch.Code + "-C"
			seed, err := db.MaxCodeSuffix(ctx, tx, "classes", prefix)
			if err != nil {
				return err
			}
			n, err := db.NextSequence(ctx, tx, prefix, seed)
			if err != nil {
				return err
			}
			c.Code = db.FormatCode(prefix, n)
			metrics.CodesAllocated.WithLabelValues("class").Inc()
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO classes (branch_id, code, name, teacher_id, subject_id, level_id,
				schedule_days, start_time, end_time, start_date, total_sessions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at
		`, c.BranchID, c.Code, c.Name, c.TeacherID, c.SubjectID, c.LevelID,
			c.ScheduleDays, c.StartTime, c.EndTime, c.StartDate, c.TotalSessions).Scan(&c.ID, &c.CreatedAt)
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				return models.Conflict("class code %s already exists", c.Code)
			}
			if db.IsForeignKeyViolation(err, "") {
				return models.NotFound("teacher, subject or level not found")
			}
			return fmt.Errorf("failed to insert class: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().Str("class_id", c.ID.String()).Str("code", c.Code).Msg("Class created")
	return c, nil
}

// Get loads a class through any Querier.
func Get(ctx context.Context, q db.Querier, id uuid.UUID) (*models.Class, error) {
	c, err := scanClass(q.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("class not found")
		}
		return nil, fmt.Errorf("failed to get class: %w", err)
	}
	return c, nil
}

func (s *Service) GetClass(ctx context.Context, scope access.Scope, id uuid.UUID) (*models.Class, error) {
	c, err := Get(ctx, s.gw.DB, id)
	if err != nil {
		return nil, err
	}
	if err := scope.Check(c.BranchID); err != nil {
		return nil, err
	}
	return c, nil
}

type ListFilter struct {
	Status    string
	TeacherID *uuid.UUID
	Page      int
	Limit     int
}

func (s *Service) ListClasses(ctx context.Context, scope access.Scope, f ListFilter) ([]*models.Class, models.Page, error) {
	var args db.Args
	where := []string{scope.Filter("branch_id", &args)}
	if f.Status != "" {
		where = append(where, "status = "+args.Add(f.Status))
	}
	if f.TeacherID != nil {
		where = append(where, "teacher_id = "+args.Add(*f.TeacherID))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.gw.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM classes WHERE `+clause, args.Values()...).Scan(&total); err != nil {
		return nil, models.Page{}, fmt.Errorf("failed to count classes: %w", err)
	}
	page := models.NewPage(f.Page, f.Limit, total)

	query := `SELECT ` + classColumns + ` FROM classes WHERE ` + clause +
		` ORDER BY start_date DESC, code LIMIT ` + args.Add(page.Limit) + ` OFFSET ` + args.Add(page.Offset())
	rows, err := s.gw.DB.QueryContext(ctx, query, args.Values()...)
	if err != nil {
		return nil, models.Page{}, fmt.Errorf("failed to query classes: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Class, 0)
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, models.Page{}, fmt.Errorf("failed to scan class: %w", err)
		}
		out = append(out, c)
	}
	return out, page, rows.Err()
}

// GenerateSessions creates the class's sessions on its weekly cadence.
// Session numbers that already exist are left untouched, so running it again
// only fills gaps. It returns how many sessions were inserted.
func (s *Service) GenerateSessions(ctx context.Context, actor access.Actor, classID uuid.UUID) (int, error) {
	if !actor.Can(access.ManageClasses) {
		return 0, models.PermissionDenied("you cannot manage classes")
	}
	created := 0
	err := s.gw.WithTx(ctx, "generate_sessions", func(tx *sql.Tx) error {
		c, err := Get(ctx, tx, classID)
		if err != nil {
			return err
		}
		if err := access.ForActor(actor).Check(c.BranchID); err != nil {
			return err
		}
		created, err = generateSessions(ctx, tx, c, s.loc)
		return err
	})
	if err != nil {
		return 0, err
	}
	logging.Ctx(ctx).Info().Str("class_id", classID.String()).Int("created", created).Msg("Sessions generated")
	return created, nil
}

// GenerateAll fills missing sessions for every active class. It backs the
// maintenance command and runs without an acting user.
func (s *Service) GenerateAll(ctx context.Context) (int, error) {
	rows, err := s.gw.DB.QueryContext(ctx, `SELECT `+classColumns+` FROM classes WHERE status = 'active' ORDER BY code`)
	if err != nil {
		return 0, fmt.Errorf("failed to query classes: %w", err)
	}
	var list []*models.Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan class: %w", err)
		}
		list = append(list, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	total := 0
	for _, c := range list {
		err := s.gw.WithTx(ctx, "generate_sessions", func(tx *sql.Tx) error {
			n, err := generateSessions(ctx, tx, c, s.loc)
			total += n
			return err
		})
		if err != nil {
			return total, fmt.Errorf("class %s: %w", c.Code, err)
		}
	}
	return total, nil
}

func generateSessions(ctx context.Context, q db.Querier, c *models.Class, loc *time.Location) (int, error) {
	days, err := ParseScheduleDays(c.ScheduleDays)
	if err != nil {
		return 0, models.InvalidState("class %s has an invalid schedule: %s", c.Code, err.Error())
	}
	created := 0
	for i, d := range SessionDates(c.StartDate, days, c.TotalSessions, loc) {
		res, err := q.ExecContext(ctx, `
			INSERT INTO class_sessions (class_id, session_number, session_date, start_time, end_time)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (class_id, session_number) DO NOTHING
		`, c.ID, i+1, d, c.StartTime, c.EndTime)
		if err != nil {
			return created, fmt.Errorf("failed to insert session %d: %w", i+1, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		}
	}
	return created, nil
}

const sessionColumns = `s.id, s.class_id, c.name, c.branch_id, c.teacher_id, s.session_number, s.session_date,
	s.start_time, s.end_time, s.attendance_submitted, s.submitted_at, s.substitute_teacher_id`

func scanSession(row interface{ Scan(...interface{}) error }) (*models.Session, error) {
	ss := &models.Session{}
	err := row.Scan(&ss.ID, &ss.ClassID, &ss.ClassName, &ss.BranchID, &ss.TeacherID, &ss.SessionNumber, &ss.SessionDate,
		&ss.StartTime, &ss.EndTime, &ss.AttendanceSubmitted, &ss.SubmittedAt, &ss.SubstituteTeacherID)
	return ss, err
}

// GetSession loads a session joined with its class. With forUpdate the
// session row is locked for the rest of the transaction.
func GetSession(ctx context.Context, q db.Querier, id uuid.UUID, forUpdate bool) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM class_sessions s JOIN classes c ON c.id = s.class_id WHERE s.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF s`
	}
	ss, err := scanSession(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("session not found")
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return ss, nil
}

func (s *Service) GetSession(ctx context.Context, scope access.Scope, id uuid.UUID) (*models.Session, error) {
	ss, err := GetSession(ctx, s.gw.DB, id, false)
	if err != nil {
		return nil, err
	}
	if err := scope.Check(ss.BranchID); err != nil {
		return nil, err
	}
	return ss, nil
}

func (s *Service) ListSessions(ctx context.Context, scope access.Scope, classID uuid.UUID) ([]*models.Session, error) {
	if _, err := s.GetClass(ctx, scope, classID); err != nil {
		return nil, err
	}
	rows, err := s.gw.DB.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM class_sessions s JOIN classes c ON c.id = s.class_id
		WHERE s.class_id = $1
		ORDER BY s.session_number
	`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Session, 0)
	for rows.Next() {
		ss, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// SetSubstitute assigns (or clears, with nil) the substitute teacher who may
// mark attendance for one session.
func (s *Service) SetSubstitute(ctx context.Context, actor access.Actor, sessionID uuid.UUID, teacherID *uuid.UUID) error {
	if !actor.Can(access.ManageClasses) {
		return models.PermissionDenied("you cannot manage classes")
	}
	ss, err := GetSession(ctx, s.gw.DB, sessionID, false)
	if err != nil {
		return err
	}
	if err := access.ForActor(actor).Check(ss.BranchID); err != nil {
		return err
	}
	_, err = s.gw.DB.ExecContext(ctx, `UPDATE class_sessions SET substitute_teacher_id = $1 WHERE id = $2`, teacherID, sessionID)
	if err != nil {
		if db.IsForeignKeyViolation(err, "") {
			return models.NotFound("teacher not found")
		}
		return fmt.Errorf("failed to set substitute: %w", err)
	}
	return nil
}

// EnrollStudent adds a student to a class roster, reactivating a removed
// row. A pending student becomes active and the change is logged to the
// status history. It runs on the caller's Querier so billing can enroll
// inside a renewal transaction.
func EnrollStudent(ctx context.Context, q db.Querier, actorID, classID, studentID uuid.UUID) error {
	c, err := Get(ctx, q, classID)
	if err != nil {
		return err
	}
	if c.Status != "active" {
		return models.InvalidState("class %s is closed", c.Code)
	}

	var branchID uuid.UUID
	var status string
	err = q.QueryRowContext(ctx, `SELECT branch_id, status FROM students WHERE id = $1 FOR UPDATE`, studentID).Scan(&branchID, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NotFound("student not found")
		}
		return fmt.Errorf("failed to get student: %w", err)
	}
	if branchID != c.BranchID {
		return models.Validation("student and class belong to different branches")
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO class_students (class_id, student_id, status)
		VALUES ($1, $2, 'active')
		ON CONFLICT (class_id, student_id) DO UPDATE SET status = 'active', enrolled_at = CURRENT_TIMESTAMP, removed_at = NULL
	`, classID, studentID)
	if err != nil {
		return fmt.Errorf("failed to enroll student: %w", err)
	}

	if status == models.StudentPending || status == models.StudentWaiting {
		if err := ChangeStudentStatus(ctx, q, studentID, status, models.StudentActive, actorID, "enrolled in class "+c.Code); err != nil {
			return err
		}
	}
	return nil
}

// ChangeStudentStatus writes the new status and its history row.
func ChangeStudentStatus(ctx context.Context, q db.Querier, studentID uuid.UUID, from, to string, actorID uuid.UUID, reason string) error {
	if _, err := q.ExecContext(ctx, `UPDATE students SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`, to, studentID); err != nil {
		return fmt.Errorf("failed to update student status: %w", err)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO student_status_history (student_id, from_status, to_status, changed_by, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, studentID, from, to, actorID, reason)
	if err != nil {
		return fmt.Errorf("failed to record status history: %w", err)
	}
	return nil
}

func (s *Service) EnrollStudent(ctx context.Context, actor access.Actor, classID, studentID uuid.UUID) error {
	if !actor.Can(access.ManageClasses) {
		return models.PermissionDenied("you cannot manage classes")
	}
	return s.gw.WithTx(ctx, "enroll_student", func(tx *sql.Tx) error {
		c, err := Get(ctx, tx, classID)
		if err != nil {
			return err
		}
		if err := access.ForActor(actor).Check(c.BranchID); err != nil {
			return err
		}
		return EnrollStudent(ctx, tx, actor.ID, classID, studentID)
	})
}

func (s *Service) RemoveStudent(ctx context.Context, actor access.Actor, classID, studentID uuid.UUID) error {
	if !actor.Can(access.ManageClasses) {
		return models.PermissionDenied("you cannot manage classes")
	}
	c, err := Get(ctx, s.gw.DB, classID)
	if err != nil {
		return err
	}
	if err := access.ForActor(actor).Check(c.BranchID); err != nil {
		return err
	}
	res, err := s.gw.DB.ExecContext(ctx, `
		UPDATE class_students SET status = 'removed', removed_at = CURRENT_TIMESTAMP
		WHERE class_id = $1 AND student_id = $2 AND status = 'active'
	`, classID, studentID)
	if err != nil {
		return fmt.Errorf("failed to remove student: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NotFound("student is not enrolled in this class")
	}
	return nil
}

// RosterEntry is one active enrollment.
type RosterEntry struct {
	StudentID   uuid.UUID `json:"student_id"`
	StudentCode string    `json:"student_code"`
	FullName    string    `json:"full_name"`
	Status      string    `json:"status"`
	EnrolledAt  time.Time `json:"enrolled_at"`
}

func (s *Service) Roster(ctx context.Context, scope access.Scope, classID uuid.UUID) ([]RosterEntry, error) {
	if _, err := s.GetClass(ctx, scope, classID); err != nil {
		return nil, err
	}
	rows, err := s.gw.DB.QueryContext(ctx, `
		SELECT st.id, st.code, st.full_name, st.status, cs.enrolled_at
		FROM class_students cs JOIN students st ON st.id = cs.student_id
		WHERE cs.class_id = $1 AND cs.status = 'active'
		ORDER BY st.full_name
	`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	defer rows.Close()
	out := make([]RosterEntry, 0)
	for rows.Next() {
		var e RosterEntry
		if err := rows.Scan(&e.StudentID, &e.StudentCode, &e.FullName, &e.Status, &e.EnrolledAt); err != nil {
			return nil, fmt.Errorf("failed to scan roster: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
