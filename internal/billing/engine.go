package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"branch-ops/internal/access"
	"branch-ops/internal/classes"
	"branch-ops/internal/db"
	"branch-ops/internal/events"
	"branch-ops/internal/logging"
	"branch-ops/internal/metrics"
	"branch-ops/internal/models"
	"branch-ops/internal/util"

	"github.com/google/uuid"
)

// Engine owns package pricing, renewals, payments and session consumption.
type Engine struct {
	gw  *db.Gateway
	loc *time.Location
	now func() time.Time
}

func NewEngine(gw *db.Gateway, loc *time.Location) *Engine {
	return &Engine{gw: gw, loc: loc, now: time.Now}
}

// Price is a package's effective price in one branch.
type Price struct {
	PackageID                uuid.UUID `json:"package_id"`
	BranchID                 uuid.UUID `json:"branch_id"`
	Price                    int64     `json:"price"`
	BasePrice                int64     `json:"base_price"`
	BranchOverride           bool      `json:"branch_override"`
	Months                   int       `json:"months"`
	Sessions                 int       `json:"sessions"`
	ScholarshipMonthsDefault int       `json:"scholarship_months_default"`
}

func getPackage(ctx context.Context, q db.Querier, id uuid.UUID) (*models.Package, error) {
	p := &models.Package{}
	err := q.QueryRowContext(ctx, `
		SELECT id, name, subject_id, months, sessions, base_price, scholarship_months_default, active
		FROM packages WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.SubjectID, &p.Months, &p.Sessions, &p.BasePrice, &p.ScholarshipMonthsDefault, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("package not found")
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return p, nil
}

func priceFor(ctx context.Context, q db.Querier, p *models.Package, branchID uuid.UUID) (Price, error) {
	out := Price{
		PackageID:                p.ID,
		BranchID:                 branchID,
		Price:                    p.BasePrice,
		BasePrice:                p.BasePrice,
		Months:                   p.Months,
		Sessions:                 p.Sessions,
		ScholarshipMonthsDefault: p.ScholarshipMonthsDefault,
	}
	var override int64
	err := q.QueryRowContext(ctx, `
		SELECT price FROM package_branch_prices WHERE package_id = $1 AND branch_id = $2
	`, p.ID, branchID).Scan(&override)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Price{}, fmt.Errorf("failed to get branch price: %w", err)
	default:
		out.Price = override
		out.BranchOverride = true
	}
	return out, nil
}

// GetPriceForBranch returns the branch override when one exists, else the
// package base price. Scholarship defaults always come from the package.
func (e *Engine) GetPriceForBranch(ctx context.Context, packageID, branchID uuid.UUID) (Price, error) {
	p, err := getPackage(ctx, e.gw.DB, packageID)
	if err != nil {
		return Price{}, err
	}
	return priceFor(ctx, e.gw.DB, p, branchID)
}

// CalculateSessions is the package's sessions plus four per scholarship month.
func (e *Engine) CalculateSessions(ctx context.Context, packageID, branchID uuid.UUID, scholarshipMonths int) (int, error) {
	if scholarshipMonths < 0 {
		return 0, models.Validation("scholarship months cannot be negative")
	}
	price, err := e.GetPriceForBranch(ctx, packageID, branchID)
	if err != nil {
		return 0, err
	}
	return SessionsFor(price.Sessions, scholarshipMonths), nil
}

func (e *Engine) ListPackages(ctx context.Context) ([]*models.Package, error) {
	rows, err := e.gw.DB.QueryContext(ctx, `
		SELECT id, name, subject_id, months, sessions, base_price, scholarship_months_default, active
		FROM packages WHERE active ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Package, 0)
	for rows.Next() {
		p := &models.Package{}
		if err := rows.Scan(&p.ID, &p.Name, &p.SubjectID, &p.Months, &p.Sessions, &p.BasePrice, &p.ScholarshipMonthsDefault, &p.Active); err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// getPromotion loads an active promotion valid on day.
func getPromotion(ctx context.Context, q db.Querier, id uuid.UUID, day time.Time) (*models.Promotion, error) {
	p := &models.Promotion{}
	err := q.QueryRowContext(ctx, `
		SELECT id, code, name, discount_type, discount_value, active, valid_from, valid_to
		FROM promotions WHERE id = $1
	`, id).Scan(&p.ID, &p.Code, &p.Name, &p.DiscountType, &p.DiscountValue, &p.Active, &p.ValidFrom, &p.ValidTo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("promotion not found")
		}
		return nil, fmt.Errorf("failed to get promotion: %w", err)
	}
	if !p.Active {
		return nil, models.InvalidState("promotion %s is inactive", p.Code)
	}
	if p.ValidFrom != nil && day.Before(util.CalendarDay(*p.ValidFrom, day.Location())) {
		return nil, models.InvalidState("promotion %s is not valid yet", p.Code)
	}
	if p.ValidTo != nil && day.After(util.CalendarDay(*p.ValidTo, day.Location())) {
		return nil, models.InvalidState("promotion %s has ended", p.Code)
	}
	return p, nil
}

// studentRow is the subset of a student the fee engine reads and writes.
type studentRow struct {
	ID                     uuid.UUID
	BranchID               uuid.UUID
	Code                   string
	FullName               string
	ParentPhone            *string
	ParentEmail            *string
	Status                 string
	CurrentLevelID         *uuid.UUID
	FeeTotal               int64
	ActualRevenue          int64
	TotalSessions          int
	RemainingSessions      int
	UsedSessions           int
	LevelSessionsCompleted int
	FeeStatus              string
	FeeExpiryDate          *time.Time
}

func lockStudent(ctx context.Context, q db.Querier, id uuid.UUID) (*studentRow, error) {
	s := &studentRow{}
	err := q.QueryRowContext(ctx, `
		SELECT id, branch_id, code, full_name, parent_phone, parent_email, status, current_level_id,
			fee_total, actual_revenue, total_sessions, remaining_sessions, used_sessions,
			level_sessions_completed, fee_status, fee_expiry_date
		FROM students WHERE id = $1 FOR UPDATE
	`, id).Scan(&s.ID, &s.BranchID, &s.Code, &s.FullName, &s.ParentPhone, &s.ParentEmail, &s.Status, &s.CurrentLevelID,
		&s.FeeTotal, &s.ActualRevenue, &s.TotalSessions, &s.RemainingSessions, &s.UsedSessions,
		&s.LevelSessionsCompleted, &s.FeeStatus, &s.FeeExpiryDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("student not found")
		}
		return nil, fmt.Errorf("failed to lock student: %w", err)
	}
	return s, nil
}

type RenewalInput struct {
	StudentID         uuid.UUID  `json:"-"`
	PackageID         uuid.UUID  `json:"package_id" validate:"required"`
	PromotionID       *uuid.UUID `json:"promotion_id"`
	ScholarshipMonths *int       `json:"scholarship_months" validate:"omitempty,min=0,max=24"`
	DepositAmount     int64      `json:"deposit_amount" validate:"min=0"`
	PaidAmount        int64      `json:"paid_amount" validate:"min=0"`
	DepositMethod     string     `json:"deposit_method"`
	RenewalType       string     `json:"renewal_type" validate:"omitempty,oneof=renew new_course"`
	TargetClassID     *uuid.UUID `json:"target_class_id"`
}

type RenewalResult struct {
	Renewal   *models.Renewal `json:"renewal"`
	FeeStatus string          `json:"fee_status"`
	Remaining int             `json:"remaining_sessions"`
}

// CreateRenewal prices a package for a student and applies it: the renewal
// row, the student's package, expiry and session balance, an optional class
// enrollment for new courses and an optional deposit ledger entry all commit
// together.
func (e *Engine) CreateRenewal(ctx context.Context, actor access.Actor, in RenewalInput) (*RenewalResult, []events.Event, error) {
	if !actor.Can(access.ManageBilling) {
		return nil, nil, models.PermissionDenied("you cannot manage billing")
	}
	if in.DepositAmount < 0 || in.PaidAmount < 0 {
		return nil, nil, models.Validation("amounts cannot be negative")
	}
	if in.ScholarshipMonths != nil && *in.ScholarshipMonths < 0 {
		return nil, nil, models.Validation("scholarship months cannot be negative")
	}
	renewalType := in.RenewalType
	if renewalType == "" {
		renewalType = RenewalRenew
	}
	if renewalType != RenewalRenew && renewalType != RenewalNewCourse {
		return nil, nil, models.Validation("unknown renewal type %q", in.RenewalType)
	}
	if renewalType == RenewalNewCourse && in.TargetClassID == nil {
		return nil, nil, models.Validation("a new course renewal needs a target class")
	}
	method := strings.TrimSpace(in.DepositMethod)
	if method == "" {
		method = "cash"
	}

	now := e.now()
	today := util.StartOfDay(now, e.loc)
	var result *RenewalResult
	var evts []events.Event

	err := e.gw.WithTx(ctx, "create_renewal", func(tx *sql.Tx) error {
		st, err := lockStudent(ctx, tx, in.StudentID)
		if err != nil {
			return err
		}
		if err := access.ForActor(actor).Check(st.BranchID); err != nil {
			return err
		}

		pkg, err := getPackage(ctx, tx, in.PackageID)
		if err != nil {
			if models.KindOf(err) == models.KindNotFound {
				return models.InvalidState("package %s does not exist", in.PackageID)
			}
			return err
		}
		if !pkg.Active {
			return models.InvalidState("package %s is inactive", pkg.Name)
		}
		price, err := priceFor(ctx, tx, pkg, st.BranchID)
		if err != nil {
			return err
		}

		var promo *models.Promotion
		if in.PromotionID != nil {
			if promo, err = getPromotion(ctx, tx, *in.PromotionID, today); err != nil {
				return err
			}
		}

		scholarship := pkg.ScholarshipMonthsDefault
		if in.ScholarshipMonths != nil {
			scholarship = *in.ScholarshipMonths
		}
		q := NewQuote(price.Price, promo, pkg.Sessions, scholarship, in.PaidAmount)
		expiry := NewExpiry(now, st.FeeExpiryDate, pkg.Months+scholarship, e.loc)

		r := &models.Renewal{
			StudentID:         st.ID,
			PackageID:         pkg.ID,
			PromotionID:       in.PromotionID,
			RenewalType:       renewalType,
			OriginalPrice:     q.OriginalPrice,
			DiscountAmount:    q.DiscountAmount,
			FinalPrice:        q.FinalPrice,
			ScholarshipMonths: scholarship,
			DepositAmount:     in.DepositAmount,
			PaidAmount:        q.PaidAmount,
			RemainingAmount:   q.RemainingAmount,
			SessionsGranted:   q.SessionsGranted,
			PreviousExpiry:    st.FeeExpiryDate,
			NewExpiryDate:     expiry,
			TargetClassID:     in.TargetClassID,
			CreatedBy:         actor.ID,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO student_renewals (student_id, package_id, promotion_id, renewal_type,
				original_price, discount_amount, final_price, scholarship_months, deposit_amount,
				paid_amount, remaining_amount, sessions_granted, previous_expiry, new_expiry_date,
				target_class_id, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id, created_at
		`, r.StudentID, r.PackageID, r.PromotionID, r.RenewalType, r.OriginalPrice, r.DiscountAmount,
			r.FinalPrice, r.ScholarshipMonths, r.DepositAmount, r.PaidAmount, r.RemainingAmount,
			r.SessionsGranted, r.PreviousExpiry, r.NewExpiryDate, r.TargetClassID, r.CreatedBy).Scan(&r.ID, &r.CreatedAt)
		if err != nil {
			if db.IsForeignKeyViolation(err, "") {
				return models.NotFound("target class not found")
			}
			return fmt.Errorf("failed to insert renewal: %w", err)
		}

		remaining := st.RemainingSessions + q.SessionsGranted
		feeStatus := SessionFeeStatus(remaining)
		_, err = tx.ExecContext(ctx, `
			UPDATE students SET
				package_id = $1, fee_expiry_date = $2, paid_amount = $3, remaining_amount = $4,
				scholarship_months = $5, discount_amount = $6,
				total_sessions = total_sessions + $7, remaining_sessions = $8,
				fee_total = fee_total + $9, actual_revenue = actual_revenue + $10,
				fee_status = $11, updated_at = CURRENT_TIMESTAMP
			WHERE id = $12
		`, pkg.ID, expiry, q.PaidAmount, q.RemainingAmount, scholarship, q.DiscountAmount,
			q.SessionsGranted, remaining, q.FinalPrice, in.DepositAmount, feeStatus, st.ID)
		if err != nil {
			return fmt.Errorf("failed to update student fee: %w", err)
		}

		if renewalType == RenewalNewCourse {
			if err := classes.EnrollStudent(ctx, tx, actor.ID, *in.TargetClassID, st.ID); err != nil {
				return err
			}
		}

		if in.DepositAmount > 0 {
			note := "deposit for " + pkg.Name
			entry := &models.LedgerEntry{
				StudentID: st.ID, BranchID: st.BranchID, Amount: in.DepositAmount, Method: method,
				Kind: "deposit", RenewalID: &r.ID, Note: &note, RecordedBy: actor.ID,
			}
			if err := appendLedger(ctx, tx, entry); err != nil {
				return err
			}
		}

		result = &RenewalResult{Renewal: r, FeeStatus: feeStatus, Remaining: remaining}
		if expiringTransition(st.FeeStatus, feeStatus) {
			evts = append(evts, feeExpiringEvent(st, remaining, feeStatus))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	logging.Ctx(ctx).Info().
		Str("student_id", in.StudentID.String()).
		Str("renewal_id", result.Renewal.ID.String()).
		Int64("final_price", result.Renewal.FinalPrice).
		Str("new_expiry", util.FormatDate(result.Renewal.NewExpiryDate, e.loc)).
		Msg("Renewal created")
	return result, evts, nil
}

func appendLedger(ctx context.Context, q db.Querier, l *models.LedgerEntry) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO revenue_ledger (student_id, branch_id, amount, method, kind, renewal_id, note, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, l.StudentID, l.BranchID, l.Amount, l.Method, l.Kind, l.RenewalID, l.Note, l.RecordedBy).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

type PaymentInput struct {
	StudentID uuid.UUID  `json:"-"`
	Amount    int64      `json:"amount" validate:"required"`
	Method    string     `json:"method" validate:"required"`
	PaidOn    *time.Time `json:"paid_on"`
	Note      *string    `json:"note"`
}

type PaymentResult struct {
	Entry         *models.LedgerEntry `json:"entry"`
	ActualRevenue int64               `json:"actual_revenue"`
	FeeTotal      int64               `json:"fee_total"`
	FeeStatus     string              `json:"fee_status"`
}

// ConfirmPayment adds amount to the student's revenue, recomputes the
// payment-derived fee status and appends the ledger entry atomically.
func (e *Engine) ConfirmPayment(ctx context.Context, actor access.Actor, in PaymentInput) (*PaymentResult, []events.Event, error) {
	if !actor.Can(access.ConfirmPayments) {
		return nil, nil, models.PermissionDenied("you cannot confirm payments")
	}
	if in.Amount <= 0 {
		return nil, nil, models.Validation("payment amount must be positive")
	}
	method := strings.TrimSpace(in.Method)
	if method == "" {
		return nil, nil, models.Validation("payment method is required")
	}
	if in.PaidOn != nil {
		if err := util.ValidateNotFutureDate(*in.PaidOn, e.now(), e.loc); err != nil {
			return nil, nil, models.Validation("%s", err.Error())
		}
	}

	var result *PaymentResult
	var st *studentRow
	err := e.gw.WithTx(ctx, "confirm_payment", func(tx *sql.Tx) error {
		var err error
		if st, err = lockStudent(ctx, tx, in.StudentID); err != nil {
			return err
		}
		if err := access.ForActor(actor).Check(st.BranchID); err != nil {
			return err
		}

		revenue := st.ActualRevenue + in.Amount
		status := PaymentFeeStatus(revenue, st.FeeTotal)
		_, err = tx.ExecContext(ctx, `
			UPDATE students SET actual_revenue = $1, fee_status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3
		`, revenue, status, st.ID)
		if err != nil {
			return fmt.Errorf("failed to update revenue: %w", err)
		}

		note := in.Note
		if in.PaidOn != nil {
			paid := "paid on " + util.FormatDate(*in.PaidOn, e.loc)
			if note != nil && *note != "" {
				paid = *note + " (" + paid + ")"
			}
			note = &paid
		}
		entry := &models.LedgerEntry{
			StudentID: st.ID, BranchID: st.BranchID, Amount: in.Amount, Method: method,
			Kind: "payment", Note: note, RecordedBy: actor.ID,
		}
		if err := appendLedger(ctx, tx, entry); err != nil {
			return err
		}
		result = &PaymentResult{Entry: entry, ActualRevenue: revenue, FeeTotal: st.FeeTotal, FeeStatus: status}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	evt := events.New(events.TypePaymentConfirmed, st.BranchID, events.PaymentConfirmed{
		StudentID:     st.ID,
		StudentCode:   st.Code,
		StudentName:   st.FullName,
		Amount:        in.Amount,
		Method:        method,
		ActualRevenue: result.ActualRevenue,
		FeeTotal:      result.FeeTotal,
		FeeStatus:     result.FeeStatus,
	})
	logging.Ctx(ctx).Info().Str("student_id", st.ID.String()).Int64("amount", in.Amount).Str("fee_status", result.FeeStatus).Msg("Payment confirmed")
	return result, []events.Event{evt}, nil
}

// Consumption is the outcome of one session consumption.
type Consumption struct {
	Consumed          bool   `json:"consumed"`
	RemainingSessions int    `json:"remaining_sessions"`
	UsedSessions      int    `json:"used_sessions"`
	FeeStatus         string `json:"fee_status"`
	LevelCompleted    bool   `json:"level_completed"`
}

// DecrementSession consumes one session for a student in its own transaction.
func (e *Engine) DecrementSession(ctx context.Context, actor access.Actor, studentID uuid.UUID) (*Consumption, []events.Event, error) {
	if !actor.CanAny(access.ManageBilling, access.MarkAnyAttendance) {
		return nil, nil, models.PermissionDenied("you cannot consume sessions")
	}
	var out *Consumption
	var evts []events.Event
	err := e.gw.WithTx(ctx, "decrement_session", func(tx *sql.Tx) error {
		var branchID uuid.UUID
		err := tx.QueryRowContext(ctx, `SELECT branch_id FROM students WHERE id = $1`, studentID).Scan(&branchID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.NotFound("student not found")
			}
			return fmt.Errorf("failed to get student: %w", err)
		}
		if err := access.ForActor(actor).Check(branchID); err != nil {
			return err
		}
		out, evts, err = ConsumeSession(ctx, tx, studentID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return out, evts, nil
}

// ConsumeSession applies one attended session on the caller's Querier, so
// attendance marking can consume inside its own transaction. It is a no-op
// when the balance is already zero. Reaching the level threshold closes the
// open level-history row and opens the next level by order.
func ConsumeSession(ctx context.Context, q db.Querier, studentID uuid.UUID) (*Consumption, []events.Event, error) {
	st, err := lockStudent(ctx, q, studentID)
	if err != nil {
		return nil, nil, err
	}

	cur := Balance{
		Remaining:     st.RemainingSessions,
		Used:          st.UsedSessions,
		LevelSessions: st.LevelSessionsCompleted,
		FeeStatus:     st.FeeStatus,
		OnLevel:       st.CurrentLevelID != nil,
	}
	next, ok, levelDone := Consume(cur)
	if !ok {
		return &Consumption{RemainingSessions: cur.Remaining, UsedSessions: cur.Used, FeeStatus: cur.FeeStatus}, nil, nil
	}

	_, err = q.ExecContext(ctx, `
		UPDATE students SET remaining_sessions = $1, used_sessions = $2, level_sessions_completed = $3,
			fee_status = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $5
	`, next.Remaining, next.Used, next.LevelSessions, next.FeeStatus, st.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to consume session: %w", err)
	}
	metrics.SessionsConsumed.WithLabelValues(next.FeeStatus).Inc()

	var evts []events.Event
	if expiringTransition(st.FeeStatus, next.FeeStatus) {
		evts = append(evts, feeExpiringEvent(st, next.Remaining, next.FeeStatus))
	}
	if levelDone {
		evt, err := rollOverLevel(ctx, q, st)
		if err != nil {
			return nil, nil, err
		}
		evts = append(evts, evt)
	}

	return &Consumption{
		Consumed:          true,
		RemainingSessions: next.Remaining,
		UsedSessions:      next.Used,
		FeeStatus:         next.FeeStatus,
		LevelCompleted:    levelDone,
	}, evts, nil
}

// rollOverLevel closes the student's open history row for the current level
// and moves them to the next level of the same subject. With no next level
// the student stays on the last one.
func rollOverLevel(ctx context.Context, q db.Querier, st *studentRow) (events.Event, error) {
	cur := *st.CurrentLevelID
	var curName string
	var subjectID uuid.UUID
	var order int
	err := q.QueryRowContext(ctx, `SELECT name, subject_id, order_index FROM levels WHERE id = $1`, cur).Scan(&curName, &subjectID, &order)
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to get level: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		UPDATE student_level_history SET completed_at = CURRENT_TIMESTAMP, sessions_completed = $1
		WHERE student_id = $2 AND level_id = $3 AND completed_at IS NULL
	`, LevelSessionThreshold, st.ID, cur)
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to close level history: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Students moved onto the level before history existed get a closed row now.
		_, err = q.ExecContext(ctx, `
			INSERT INTO student_level_history (student_id, level_id, completed_at, sessions_completed)
			VALUES ($1, $2, CURRENT_TIMESTAMP, $3)
		`, st.ID, cur, LevelSessionThreshold)
		if err != nil {
			return events.Event{}, fmt.Errorf("failed to record level history: %w", err)
		}
	}

	payload := events.LevelCompleted{StudentID: st.ID, StudentName: st.FullName, CompletedID: cur, CompletedName: curName}

	var nextID uuid.UUID
	var nextName string
	err = q.QueryRowContext(ctx, `
		SELECT id, name FROM levels WHERE subject_id = $1 AND order_index > $2 ORDER BY order_index LIMIT 1
	`, subjectID, order).Scan(&nextID, &nextName)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return events.Event{}, fmt.Errorf("failed to find next level: %w", err)
	default:
		if _, err := q.ExecContext(ctx, `UPDATE students SET current_level_id = $1 WHERE id = $2`, nextID, st.ID); err != nil {
			return events.Event{}, fmt.Errorf("failed to advance level: %w", err)
		}
		if _, err := q.ExecContext(ctx, `INSERT INTO student_level_history (student_id, level_id) VALUES ($1, $2)`, st.ID, nextID); err != nil {
			return events.Event{}, fmt.Errorf("failed to open level history: %w", err)
		}
		payload.NextID = &nextID
		payload.NextName = nextName
	}

	metrics.LevelRollovers.Inc()
	return events.New(events.TypeLevelCompleted, st.BranchID, payload), nil
}

func feeExpiringEvent(st *studentRow, remaining int, status string) events.Event {
	return events.New(events.TypeFeeExpiring, st.BranchID, events.FeeExpiring{
		StudentID:         st.ID,
		StudentCode:       st.Code,
		StudentName:       st.FullName,
		ParentPhone:       deref(st.ParentPhone),
		ParentEmail:       deref(st.ParentEmail),
		RemainingSessions: remaining,
		FeeStatus:         status,
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
