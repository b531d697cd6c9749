package leads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"branch-ops/internal/access"
	"branch-ops/internal/db"
	"branch-ops/internal/models"

	"github.com/google/uuid"
)

const leadColumns = `
	id, branch_id, code, customer_name, customer_phone, customer_email, student_name, student_birth_year,
	subject_id, level_id, scheduled_date, scheduled_time, status, trial_class_id,
	trial_sessions_attended, trial_sessions_max, rating, feedback, sales_owner_id, source, note,
	expected_fee, actual_revenue, converted_student_id, converted_at, created_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row scanner) (*models.Lead, error) {
	l := &models.Lead{}
	err := row.Scan(
		&l.ID, &l.BranchID, &l.Code, &l.CustomerName, &l.CustomerPhone, &l.CustomerEmail, &l.StudentName, &l.StudentBirthYear,
		&l.SubjectID, &l.LevelID, &l.ScheduledDate, &l.ScheduledTime, &l.Status, &l.TrialClassID,
		&l.TrialSessionsAttended, &l.TrialSessionsMax, &l.Rating, &l.Feedback, &l.SalesOwnerID, &l.Source, &l.Note,
		&l.ExpectedFee, &l.ActualRevenue, &l.ConvertedStudentID, &l.ConvertedAt, &l.CreatedBy, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// getLead loads one lead. With forUpdate the row stays locked until the
// surrounding transaction ends.
func getLead(ctx context.Context, q db.Querier, id uuid.UUID, forUpdate bool) (*models.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	l, err := scanLead(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("lead not found")
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return l, nil
}

// latestByPhone returns the most recent lead in scope with phone, or nil.
func latestByPhone(ctx context.Context, q db.Querier, phone string, scope access.Scope) (*models.Lead, error) {
	var args db.Args
	query := `SELECT ` + leadColumns + ` FROM leads WHERE customer_phone = ` + args.Add(phone) +
		` AND ` + scope.Filter("branch_id", &args) + ` ORDER BY created_at DESC LIMIT 1`

	l, err := scanLead(q.QueryRowContext(ctx, query, args.Values()...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up phone: %w", err)
	}
	return l, nil
}

func setStatus(ctx context.Context, q db.Querier, id uuid.UUID, status string) error {
	_, err := q.ExecContext(ctx, `UPDATE leads SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update lead status: %w", err)
	}
	return nil
}

func classBranch(ctx context.Context, q db.Querier, classID uuid.UUID) (uuid.UUID, error) {
	var branchID uuid.UUID
	err := q.QueryRowContext(ctx, `SELECT branch_id FROM classes WHERE id = $1`, classID).Scan(&branchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, models.NotFound("class not found")
		}
		return uuid.Nil, fmt.Errorf("failed to get class: %w", err)
	}
	return branchID, nil
}
