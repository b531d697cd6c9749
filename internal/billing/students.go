package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"branch-ops/internal/access"
	"branch-ops/internal/db"
	"branch-ops/internal/models"

	"github.com/google/uuid"
)

const studentColumns = `
	id, branch_id, code, full_name, birth_year, parent_name, parent_phone, parent_email,
	subject_id, level_id, current_level_id, status, sales_owner_id, lead_id, package_id,
	fee_total, actual_revenue, discount_amount, scholarship_months, total_sessions,
	remaining_sessions, used_sessions, level_sessions_completed, fee_status, fee_expiry_date,
	paid_amount, remaining_amount, note, created_at, updated_at`

func scanStudent(row interface{ Scan(...interface{}) error }) (*models.Student, error) {
	s := &models.Student{}
	err := row.Scan(
		&s.ID, &s.BranchID, &s.Code, &s.FullName, &s.BirthYear, &s.ParentName, &s.ParentPhone, &s.ParentEmail,
		&s.SubjectID, &s.LevelID, &s.CurrentLevelID, &s.Status, &s.SalesOwnerID, &s.LeadID, &s.PackageID,
		&s.FeeTotal, &s.ActualRevenue, &s.DiscountAmount, &s.ScholarshipMonths, &s.TotalSessions,
		&s.RemainingSessions, &s.UsedSessions, &s.LevelSessionsCompleted, &s.FeeStatus, &s.FeeExpiryDate,
		&s.PaidAmount, &s.RemainingAmount, &s.Note, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetStudent returns a student in scope.
func (e *Engine) GetStudent(ctx context.Context, scope access.Scope, id uuid.UUID) (*models.Student, error) {
	s, err := scanStudent(e.gw.DB.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("student not found")
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	if err := scope.Check(s.BranchID); err != nil {
		return nil, err
	}
	return s, nil
}

type StudentFilter struct {
	Status    string
	FeeStatus string
	Search    string
	Page      int
	Limit     int
}

// ListStudents pages through students in scope ordered by code.
func (e *Engine) ListStudents(ctx context.Context, scope access.Scope, f StudentFilter) ([]*models.Student, models.Page, error) {
	var args db.Args
	where := []string{scope.Filter("branch_id", &args)}
	if f.Status != "" {
		where = append(where, "status = "+args.Add(f.Status))
	}
	if f.FeeStatus != "" {
		where = append(where, "fee_status = "+args.Add(f.FeeStatus))
	}
	if f.Search != "" {
		p := args.Add("%" + strings.ToLower(strings.TrimSpace(f.Search)) + "%")
		where = append(where, fmt.Sprintf("(LOWER(full_name) LIKE %s OR LOWER(code) LIKE %s OR parent_phone LIKE %s)", p, p, p))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := e.gw.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM students WHERE `+clause, args.Values()...).Scan(&total); err != nil {
		return nil, models.Page{}, fmt.Errorf("failed to count students: %w", err)
	}
	page := models.NewPage(f.Page, f.Limit, total)

	rows, err := e.gw.DB.QueryContext(ctx, `SELECT `+studentColumns+` FROM students WHERE `+clause+
		` ORDER BY code LIMIT `+args.Add(page.Limit)+` OFFSET `+args.Add(page.Offset()), args.Values()...)
	if err != nil {
		return nil, models.Page{}, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	var out []*models.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, models.Page{}, fmt.Errorf("failed to scan student: %w", err)
		}
		out = append(out, s)
	}
	return out, page, rows.Err()
}

// Ledger lists a student's revenue entries, oldest first.
func (e *Engine) Ledger(ctx context.Context, scope access.Scope, studentID uuid.UUID) ([]models.LedgerEntry, error) {
	if _, err := e.GetStudent(ctx, scope, studentID); err != nil {
		return nil, err
	}
	rows, err := e.gw.DB.QueryContext(ctx, `
		SELECT id, student_id, branch_id, amount, method, kind, renewal_id, note, recorded_by, created_at
		FROM revenue_ledger WHERE student_id = $1 ORDER BY created_at, id
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	out := make([]models.LedgerEntry, 0)
	for rows.Next() {
		var l models.LedgerEntry
		if err := rows.Scan(&l.ID, &l.StudentID, &l.BranchID, &l.Amount, &l.Method, &l.Kind, &l.RenewalID, &l.Note, &l.RecordedBy, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
