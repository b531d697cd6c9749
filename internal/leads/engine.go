package leads

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"branch-ops/internal/access"
	"branch-ops/internal/branches"
	"branch-ops/internal/db"
	"branch-ops/internal/events"
	"branch-ops/internal/logging"
	"branch-ops/internal/metrics"
	"branch-ops/internal/models"

	"github.com/google/uuid"
)

// Engine owns the lead -> trial -> student state machine.
type Engine struct {
	gw  *db.Gateway
	now func() time.Time
}

func NewEngine(gw *db.Gateway) *Engine {
	return &Engine{gw: gw, now: time.Now}
}

type Customer struct {
	Name  string  `json:"name" validate:"required"`
	Phone string  `json:"phone" validate:"required"`
	Email *string `json:"email" validate:"omitempty,email"`
}

type StudentInput struct {
	Name        string     `json:"name" validate:"required"`
	BirthYear   *int       `json:"birth_year" validate:"omitempty,min=1900,max=2100"`
	SubjectID   *uuid.UUID `json:"subject_id"`
	LevelID     *uuid.UUID `json:"level_id"`
	ExpectedFee int64      `json:"expected_fee" validate:"min=0"`
}

type Schedule struct {
	Date *time.Time `json:"date"`
	Time *string    `json:"time"`
}

type CreateInput struct {
	BranchID     uuid.UUID
	Customer     Customer
	Students     []StudentInput
	Schedule     Schedule
	SalesOwnerID *uuid.UUID
	Source       *string
	Note         *string
}

// CreateLead inserts one lead per student for a single customer. A phone
// that already has any lead is rejected with a PhoneAlreadyExistsError
// naming the existing lead. The phone check, code allocation and inserts
// share one transaction; an advisory lock on the phone serializes
// concurrent submissions of the same number.
func (e *Engine) CreateLead(ctx context.Context, actor access.Actor, in CreateInput) ([]*models.Lead, error) {
	if !actor.Can(access.ManageLeads) {
		return nil, models.PermissionDenied("you cannot create leads")
	}
	if err := access.ForActor(actor).Check(in.BranchID); err != nil {
		return nil, err
	}

	phone := NormalizePhone(in.Customer.Phone)
	if strings.TrimSpace(in.Customer.Name) == "" {
		return nil, models.Validation("customer name is required")
	}
	if !validPhone(phone) {
		return nil, models.Validation("customer phone %q is not a valid phone number", in.Customer.Phone)
	}
	if len(in.Students) == 0 {
		return nil, models.Validation("at least one student is required")
	}
	for i, s := range in.Students {
		if strings.TrimSpace(s.Name) == "" {
			return nil, models.Validation("student %d: name is required", i+1)
		}
	}
	if in.Schedule.Time != nil && strings.TrimSpace(*in.Schedule.Time) != "" {
		if _, err := time.Parse("15:04", *in.Schedule.Time); err != nil {
			return nil, models.Validation("schedule time must be HH:MM")
		}
	}
	status := initialStatus(in.Schedule.Date, in.Schedule.Time)

	var created []*models.Lead
	err := e.gw.WithTx(ctx, "create_lead", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, phone); err != nil {
			return fmt.Errorf("failed to lock phone: %w", err)
		}
		existing, err := latestByPhone(ctx, tx, phone, access.Scope{All: true})
		if err != nil {
			return err
		}
		if existing != nil {
			return &models.PhoneAlreadyExistsError{
				Phone:            phone,
				ExistingLeadID:   existing.ID.String(),
				ExistingLeadCode: existing.Code,
			}
		}

		branch, err := branches.Get(ctx, tx, in.BranchID)
		if err != nil {
			return err
		}
		if !branch.Active {
			return models.InvalidState("branch %s is deactivated", branch.Code)
		}

		prefix := branch.Code + "-"
		seed, err := db.MaxCodeSuffix(ctx, tx, "leads", prefix)
		if err != nil {
			return err
		}

		for _, s := range in.Students {
			n, err := db.NextSequence(ctx, tx, prefix, seed)
			if err != nil {
				return err
			}
			lead := &models.Lead{
				BranchID:         in.BranchID,
				Code:             db.FormatCode(prefix, n),
				CustomerName:     strings.TrimSpace(in.Customer.Name),
				CustomerPhone:    phone,
				CustomerEmail:    in.Customer.Email,
				StudentName:      strings.TrimSpace(s.Name),
				StudentBirthYear: s.BirthYear,
				SubjectID:        s.SubjectID,
				LevelID:          s.LevelID,
				ScheduledDate:    in.Schedule.Date,
				ScheduledTime:    in.Schedule.Time,
				Status:           status,
				TrialSessionsMax: DefaultTrialSessions,
				SalesOwnerID:     in.SalesOwnerID,
				Source:           in.Source,
				Note:             in.Note,
				ExpectedFee:      s.ExpectedFee,
				CreatedBy:        &actor.ID,
			}
			if lead.SalesOwnerID == nil {
				lead.SalesOwnerID = &actor.ID
			}
			err = tx.QueryRowContext(ctx, `
				INSERT INTO leads (branch_id, code, customer_name, customer_phone, customer_email, student_name,
					student_birth_year, subject_id, level_id, scheduled_date, scheduled_time, status,
					trial_sessions_max, sales_owner_id, source, note, expected_fee, created_by)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
				RETURNING id, created_at, updated_at
			`, lead.BranchID, lead.Code, lead.CustomerName, lead.CustomerPhone, lead.CustomerEmail, lead.StudentName,
				lead.StudentBirthYear, lead.SubjectID, lead.LevelID, lead.ScheduledDate, lead.ScheduledTime, lead.Status,
				lead.TrialSessionsMax, lead.SalesOwnerID, lead.Source, lead.Note, lead.ExpectedFee, lead.CreatedBy,
			).Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt)
			if err != nil {
				if db.IsUniqueViolation(err, "leads_code_key") {
					return models.Conflict("lead code %s already exists", lead.Code)
				}
				return fmt.Errorf("failed to create lead: %w", err)
			}
			metrics.CodesAllocated.WithLabelValues("lead").Inc()
			created = append(created, lead)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().Int("count", len(created)).Str("branch_id", in.BranchID.String()).Msg("Created leads")
	return created, nil
}

// transition locks the lead, checks capability and scope, and hands it to fn
// inside one transaction. The reloaded lead is returned.
func (e *Engine) transition(ctx context.Context, actor access.Actor, leadID uuid.UUID, op string, fn func(tx *sql.Tx, l *models.Lead) error) (*models.Lead, error) {
	if !actor.Can(access.ManageLeads) {
		return nil, models.PermissionDenied("you cannot update leads")
	}
	var out *models.Lead
	err := e.gw.WithTx(ctx, op, func(tx *sql.Tx) error {
		l, err := getLead(ctx, tx, leadID, true)
		if err != nil {
			return err
		}
		if err := access.ForActor(actor).Check(l.BranchID); err != nil {
			return err
		}
		if err := fn(tx, l); err != nil {
			return err
		}
		out, err = getLead(ctx, tx, leadID, false)
		return err
	})
	return out, err
}

// MarkAttended records that a lead showed up. A trial lead's counter goes up
// by one on every call; new and scheduled leads move to attended; any other
// status is left as is.
func (e *Engine) MarkAttended(ctx context.Context, actor access.Actor, leadID uuid.UUID) (*models.Lead, error) {
	return e.transition(ctx, actor, leadID, "lead_mark_attended", func(tx *sql.Tx, l *models.Lead) error {
		next, increment, ok := attendedTransition(l.Status)
		if !ok {
			return nil
		}
		if increment {
			_, err := tx.ExecContext(ctx, `
				UPDATE leads SET trial_sessions_attended = trial_sessions_attended + 1, updated_at = CURRENT_TIMESTAMP
				WHERE id = $1
			`, l.ID)
			if err != nil {
				return fmt.Errorf("failed to increment trial sessions: %w", err)
			}
			return nil
		}
		return setStatus(ctx, tx, l.ID, next)
	})
}

// MarkNoShow moves any unconverted lead to no_show.
func (e *Engine) MarkNoShow(ctx context.Context, actor access.Actor, leadID uuid.UUID) (*models.Lead, error) {
	return e.transition(ctx, actor, leadID, "lead_mark_no_show", func(tx *sql.Tx, l *models.Lead) error {
		if l.Status == models.LeadConverted {
			return models.Conflict("lead %s is already converted", l.Code)
		}
		return setStatus(ctx, tx, l.ID, models.LeadNoShow)
	})
}

// AssignTrialClass puts the lead on trial in classID. Re-assigning swaps the
// class and the max but keeps the attended counter.
func (e *Engine) AssignTrialClass(ctx context.Context, actor access.Actor, leadID, classID uuid.UUID, maxSessions int) (*models.Lead, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultTrialSessions
	}
	return e.transition(ctx, actor, leadID, "lead_assign_trial", func(tx *sql.Tx, l *models.Lead) error {
		if l.Status == models.LeadConverted {
			return models.Conflict("lead %s is already converted", l.Code)
		}
		branchID, err := classBranch(ctx, tx, classID)
		if err != nil {
			return err
		}
		if branchID != l.BranchID {
			return models.Validation("trial class belongs to another branch")
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE leads SET trial_class_id = $1, trial_sessions_max = $2, status = $3, updated_at = CURRENT_TIMESTAMP
			WHERE id = $4
		`, classID, maxSessions, models.LeadTrial, l.ID)
		if err != nil {
			return fmt.Errorf("failed to assign trial class: %w", err)
		}
		return nil
	})
}

// CompleteSession counts one more trial session and parks the lead in
// waiting for a human decision, whether or not the max was reached.
func (e *Engine) CompleteSession(ctx context.Context, actor access.Actor, leadID uuid.UUID) (*models.Lead, error) {
	return e.transition(ctx, actor, leadID, "lead_complete_session", func(tx *sql.Tx, l *models.Lead) error {
		if l.Status == models.LeadConverted {
			return models.Conflict("lead %s is already converted", l.Code)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE leads SET trial_sessions_attended = trial_sessions_attended + 1, status = $1, updated_at = CURRENT_TIMESTAMP
			WHERE id = $2
		`, models.LeadWaiting, l.ID)
		if err != nil {
			return fmt.Errorf("failed to complete trial session: %w", err)
		}
		return nil
	})
}

// CancelLead closes an unconverted lead, appending reason to its note.
func (e *Engine) CancelLead(ctx context.Context, actor access.Actor, leadID uuid.UUID, reason string) (*models.Lead, error) {
	return e.transition(ctx, actor, leadID, "lead_cancel", func(tx *sql.Tx, l *models.Lead) error {
		if l.Status == models.LeadConverted {
			return models.Conflict("lead %s is already converted", l.Code)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE leads SET status = $1,
				note = CASE WHEN $2::text = '' THEN note ELSE CONCAT_WS(E'\n', note, 'Cancelled: ' || $2::text) END,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = $3
		`, models.LeadCancelled, strings.TrimSpace(reason), l.ID)
		if err != nil {
			return fmt.Errorf("failed to cancel lead: %w", err)
		}
		return nil
	})
}

// UpdateFeedback stores the post-trial rating (1-5) and free-text feedback.
func (e *Engine) UpdateFeedback(ctx context.Context, actor access.Actor, leadID uuid.UUID, rating *int, feedback *string) (*models.Lead, error) {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, models.Validation("rating must be between 1 and 5")
	}
	return e.transition(ctx, actor, leadID, "lead_feedback", func(tx *sql.Tx, l *models.Lead) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE leads SET rating = COALESCE($1, rating), feedback = COALESCE($2, feedback), updated_at = CURRENT_TIMESTAMP
			WHERE id = $3
		`, rating, feedback, l.ID)
		if err != nil {
			return fmt.Errorf("failed to update feedback: %w", err)
		}
		return nil
	})
}

type ConvertResult struct {
	Lead    *models.Lead    `json:"lead"`
	Student *models.Student `json:"student"`
}

// ConvertToStudent creates a pending student from the lead and marks the lead
// converted, atomically. A second conversion is a Conflict.
func (e *Engine) ConvertToStudent(ctx context.Context, actor access.Actor, leadID uuid.UUID, o ConvertOverrides) (*ConvertResult, []events.Event, error) {
	if !actor.Can(access.ConvertLeads) {
		return nil, nil, models.PermissionDenied("you cannot convert leads")
	}

	var res ConvertResult
	var branchID uuid.UUID
	err := e.gw.WithTx(ctx, "lead_convert", func(tx *sql.Tx) error {
		l, err := getLead(ctx, tx, leadID, true)
		if err != nil {
			return err
		}
		if err := access.ForActor(actor).Check(l.BranchID); err != nil {
			return err
		}
		if l.Status == models.LeadConverted {
			cerr := models.Conflict("lead %s is already converted", l.Code)
			if l.ConvertedStudentID != nil {
				cerr = cerr.WithDetail("converted_student_id", l.ConvertedStudentID.String())
			}
			return cerr
		}
		branchID = l.BranchID

		branch, err := branches.Get(ctx, tx, l.BranchID)
		if err != nil {
			return err
		}
		prefix := branch.Code + "-HS"
		seed, err := db.MaxCodeSuffix(ctx, tx, "students", prefix)
		if err != nil {
			return err
		}
		n, err := db.NextSequence(ctx, tx, prefix, seed)
		if err != nil {
			return err
		}

		s := studentFromLead(l, o)
		s.Code = db.FormatCode(prefix, n)
		err = tx.QueryRowContext(ctx, `
			INSERT INTO students (branch_id, code, full_name, birth_year, parent_name, parent_phone, parent_email,
				subject_id, level_id, current_level_id, status, sales_owner_id, lead_id, fee_total, fee_status, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id, created_at, updated_at
		`, s.BranchID, s.Code, s.FullName, s.BirthYear, s.ParentName, s.ParentPhone, s.ParentEmail,
			s.SubjectID, s.LevelID, s.CurrentLevelID, s.Status, s.SalesOwnerID, s.LeadID, s.FeeTotal, s.FeeStatus, s.Note,
		).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			if db.IsUniqueViolation(err, "students_code_key") {
				return models.Conflict("student code %s already exists", s.Code)
			}
			return fmt.Errorf("failed to create student: %w", err)
		}
		metrics.CodesAllocated.WithLabelValues("student").Inc()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO student_status_history (student_id, from_status, to_status, changed_by, reason)
			VALUES ($1, NULL, $2, $3, $4)
		`, s.ID, s.Status, actor.ID, "converted from lead "+l.Code)
		if err != nil {
			return fmt.Errorf("failed to record status history: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE leads SET status = $1, converted_student_id = $2, converted_at = $3, updated_at = CURRENT_TIMESTAMP
			WHERE id = $4
		`, models.LeadConverted, s.ID, e.now(), l.ID)
		if err != nil {
			return fmt.Errorf("failed to mark lead converted: %w", err)
		}

		res.Student = s
		res.Lead, err = getLead(ctx, tx, l.ID, false)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	logging.Ctx(ctx).Info().Str("lead_code", res.Lead.Code).Str("student_code", res.Student.Code).Msg("Converted lead to student")
	evt := events.New(events.TypeLeadConverted, branchID, events.LeadConverted{
		LeadID:      res.Lead.ID,
		LeadCode:    res.Lead.Code,
		StudentID:   res.Student.ID,
		StudentCode: res.Student.Code,
		StudentName: res.Student.FullName,
	})
	return &res, []events.Event{evt}, nil
}

// CheckDuplicatePhone returns the most recent lead with phone inside scope,
// or nil when there is none.
func (e *Engine) CheckDuplicatePhone(ctx context.Context, scope access.Scope, phone string) (*models.Lead, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return nil, models.Validation("phone is required")
	}
	return latestByPhone(ctx, e.gw.DB, phone, scope)
}

func (e *Engine) GetLead(ctx context.Context, actor access.Actor, leadID uuid.UUID) (*models.Lead, error) {
	l, err := getLead(ctx, e.gw.DB, leadID, false)
	if err != nil {
		return nil, err
	}
	if err := access.ForActor(actor).Check(l.BranchID); err != nil {
		return nil, err
	}
	return l, nil
}

type ListFilter struct {
	Status       string
	Search       string
	SalesOwnerID *uuid.UUID
	ScheduledOn  *time.Time
	Page         int
	Limit        int
}

// ListLeads pages through leads in scope, newest first.
func (e *Engine) ListLeads(ctx context.Context, scope access.Scope, f ListFilter) ([]*models.Lead, models.Page, error) {
	if f.Status != "" && !models.IsValidLeadStatus(f.Status) {
		return nil, models.Page{}, models.Validation("unknown lead status %q", f.Status)
	}

	var args db.Args
	where := []string{scope.Filter("branch_id", &args)}
	if f.Status != "" {
		where = append(where, "status = "+args.Add(f.Status))
	}
	if f.Search != "" {
		p := args.Add("%" + strings.ToLower(strings.TrimSpace(f.Search)) + "%")
		where = append(where, fmt.Sprintf("(LOWER(customer_name) LIKE %s OR LOWER(student_name) LIKE %s OR customer_phone LIKE %s OR LOWER(code) LIKE %s)", p, p, p, p))
	}
	if f.SalesOwnerID != nil {
		where = append(where, "sales_owner_id = "+args.Add(*f.SalesOwnerID))
	}
	if f.ScheduledOn != nil {
		where = append(where, "scheduled_date = "+args.Add(f.ScheduledOn.Format("2006-01-02"))+"::date")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := e.gw.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads WHERE `+clause, args.Values()...).Scan(&total); err != nil {
		return nil, models.Page{}, fmt.Errorf("failed to count leads: %w", err)
	}
	page := models.NewPage(f.Page, f.Limit, total)

	query := `SELECT ` + leadColumns + ` FROM leads WHERE ` + clause +
		` ORDER BY created_at DESC, code DESC LIMIT ` + args.Add(page.Limit) + ` OFFSET ` + args.Add(page.Offset())
	rows, err := e.gw.DB.QueryContext(ctx, query, args.Values()...)
	if err != nil {
		return nil, models.Page{}, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var out []*models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, models.Page{}, fmt.Errorf("failed to scan lead: %w", err)
		}
		out = append(out, l)
	}
	return out, page, rows.Err()
}
