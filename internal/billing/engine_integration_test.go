//go:build integration

package billing_test

import (
	"context"
	"testing"
	"time"

	"branch-ops/internal/access"
	"branch-ops/internal/billing"
	"branch-ops/internal/events"
	"branch-ops/internal/models"
	"branch-ops/internal/testinfra"
	"branch-ops/internal/util"

	"github.com/google/uuid"
)

func TestDecrementSessionFeeSequence(t *testing.T) {
	pg := testinfra.NewPostgres(t)
	ctx := context.Background()
	branch := pg.Branch(t, "HN")
	admin := pg.Admin(t)
	student := pg.Student(t, branch, "HN-HS00001", 8)
	engine := billing.NewEngine(pg.Gateway, time.UTC)

	tests := []struct {
		remaining int
		status    string
		notify    bool
	}{
		{7, models.FeeActive, false},
		{6, models.FeeActive, false},
		{5, models.FeeActive, false},
		{4, models.FeeExpiringSoon, true},
		{3, models.FeeExpiringSoon, false},
		{2, models.FeeExpiringSoon, false},
		{1, models.FeeExpiringSoon, false},
		{0, models.FeeExpired, true},
	}
	for _, tt := range tests {
		c, evts, err := engine.DecrementSession(ctx, admin, student)
		if err != nil {
			t.Fatalf("DecrementSession() error = %v", err)
		}
		if !c.Consumed || c.RemainingSessions != tt.remaining || c.FeeStatus != tt.status {
			t.Errorf("consumption = %+v, want %d/%s", c, tt.remaining, tt.status)
		}
		if got := len(evts) == 1 && evts[0].Type == events.TypeFeeExpiring; got != tt.notify {
			t.Errorf("remaining %d: fee event = %v, want %v", tt.remaining, got, tt.notify)
		}
	}

	c, evts, err := engine.DecrementSession(ctx, admin, student)
	if err != nil {
		t.Fatal(err)
	}
	if c.Consumed || c.RemainingSessions != 0 || len(evts) != 0 {
		t.Errorf("consumption at zero = %+v, %d events", c, len(evts))
	}
}

func TestDecrementSessionRollsLevel(t *testing.T) {
	pg := testinfra.NewPostgres(t)
	ctx := context.Background()
	branch := pg.Branch(t, "HN")
	admin := pg.Admin(t)
	student := pg.Student(t, branch, "HN-HS00001", 20)
	engine := billing.NewEngine(pg.Gateway, time.UTC)

	var subject, starters, movers uuid.UUID
	err := pg.Gateway.DB.QueryRowContext(ctx, `INSERT INTO subjects (code, name) VALUES ('ENG', 'English') RETURNING id`).Scan(&subject)
	if err != nil {
		t.Fatal(err)
	}
	for i, dst := range []*uuid.UUID{&starters, &movers} {
		err := pg.Gateway.DB.QueryRowContext(ctx,
			`INSERT INTO levels (subject_id, name, order_index) VALUES ($1, $2, $3) RETURNING id`,
			subject, []string{"Starters", "Movers"}[i], i+1).Scan(dst)
		if err != nil {
			t.Fatal(err)
		}
	}
	pg.Exec(t, `UPDATE students SET current_level_id = $1, level_sessions_completed = $2 WHERE id = $3`,
		starters, billing.LevelSessionThreshold-1, student)

	c, evts, err := engine.DecrementSession(ctx, admin, student)
	if err != nil {
		t.Fatal(err)
	}
	if !c.LevelCompleted {
		t.Error("LevelCompleted = false")
	}
	var current uuid.UUID
	var counter int
	err = pg.Gateway.DB.QueryRowContext(ctx,
		`SELECT current_level_id, level_sessions_completed FROM students WHERE id = $1`, student).Scan(&current, &counter)
	if err != nil {
		t.Fatal(err)
	}
	if current != movers || counter != 0 {
		t.Errorf("level = %s counter %d, want %s counter 0", current, counter, movers)
	}
	if len(evts) != 1 || evts[0].Type != events.TypeLevelCompleted {
		t.Fatalf("events = %+v", evts)
	}
	payload := evts[0].Payload.(events.LevelCompleted)
	if payload.NextID == nil || *payload.NextID != movers {
		t.Errorf("payload = %+v", payload)
	}
}

func TestDecrementSessionWithoutLevelKeepsCounter(t *testing.T) {
	pg := testinfra.NewPostgres(t)
	ctx := context.Background()
	branch := pg.Branch(t, "HN")
	admin := pg.Admin(t)
	student := pg.Student(t, branch, "HN-HS00001", 20)
	engine := billing.NewEngine(pg.Gateway, time.UTC)
	pg.Exec(t, `UPDATE students SET level_sessions_completed = $1 WHERE id = $2`, billing.LevelSessionThreshold-1, student)

	c, evts, err := engine.DecrementSession(ctx, admin, student)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Consumed || c.LevelCompleted || len(evts) != 0 {
		t.Errorf("consumption = %+v, %d events, want consumed without level completion", c, len(evts))
	}
	var counter, history int
	err = pg.Gateway.DB.QueryRowContext(ctx, `SELECT level_sessions_completed FROM students WHERE id = $1`, student).Scan(&counter)
	if err != nil {
		t.Fatal(err)
	}
	if err := pg.Gateway.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM student_level_history`).Scan(&history); err != nil {
		t.Fatal(err)
	}
	if counter != billing.LevelSessionThreshold-1 || history != 0 {
		t.Errorf("counter %d history rows %d, want %d and 0", counter, history, billing.LevelSessionThreshold-1)
	}
}

type renewalFixture struct {
	pg      *testinfra.PostgresContainer
	engine  *billing.Engine
	admin   access.Actor
	branch  uuid.UUID
	student uuid.UUID
	pkg     uuid.UUID
	promo   uuid.UUID
}

func setupRenewal(t *testing.T) *renewalFixture {
	t.Helper()
	pg := testinfra.NewPostgres(t)
	ctx := context.Background()
	f := &renewalFixture{pg: pg, engine: billing.NewEngine(pg.Gateway, time.UTC), admin: pg.Admin(t)}
	f.branch = pg.Branch(t, "HN")
	f.student = pg.Student(t, f.branch, "HN-HS00001", 2)

	err := pg.Gateway.DB.QueryRowContext(ctx, `
		INSERT INTO packages (name, months, sessions, base_price) VALUES ('Standard', 3, 24, 3600000) RETURNING id
	`).Scan(&f.pkg)
	if err != nil {
		t.Fatal(err)
	}
	pg.Exec(t, `INSERT INTO package_branch_prices (package_id, branch_id, price) VALUES ($1, $2, 3300000)`, f.pkg, f.branch)
	err = pg.Gateway.DB.QueryRowContext(ctx, `
		INSERT INTO promotions (code, name, discount_type, discount_value) VALUES ('TEN', 'Ten', 'percent', 10) RETURNING id
	`).Scan(&f.promo)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestCreateRenewalAccounting(t *testing.T) {
	f := setupRenewal(t)
	ctx := context.Background()
	scholarship := 1

	res, _, err := f.engine.CreateRenewal(ctx, f.admin, billing.RenewalInput{
		StudentID:         f.student,
		PackageID:         f.pkg,
		PromotionID:       &f.promo,
		ScholarshipMonths: &scholarship,
		DepositAmount:     1000000,
		PaidAmount:        2000000,
	})
	if err != nil {
		t.Fatalf("CreateRenewal() error = %v", err)
	}
	r := res.Renewal
	if r.OriginalPrice != 3300000 || r.DiscountAmount != 330000 || r.FinalPrice != 2970000 {
		t.Errorf("price = %d - %d = %d", r.OriginalPrice, r.DiscountAmount, r.FinalPrice)
	}
	if r.RemainingAmount != 970000 {
		t.Errorf("RemainingAmount = %d, want 970000", r.RemainingAmount)
	}
	if r.SessionsGranted != 28 || res.Remaining != 30 || res.FeeStatus != models.FeeActive {
		t.Errorf("sessions granted %d, remaining %d, status %s", r.SessionsGranted, res.Remaining, res.FeeStatus)
	}
	wantExpiry := billing.NewExpiry(time.Now(), nil, 4, time.UTC)
	if util.FormatDate(r.NewExpiryDate, time.UTC) != util.FormatDate(wantExpiry, time.UTC) {
		t.Errorf("NewExpiryDate = %v, want %v", r.NewExpiryDate, wantExpiry)
	}

	st, err := f.engine.GetStudent(ctx, access.Scope{All: true}, f.student)
	if err != nil {
		t.Fatal(err)
	}
	if st.FeeTotal != 2970000 || st.ActualRevenue != 1000000 || st.RemainingSessions != 30 {
		t.Errorf("student fee = total %d revenue %d remaining %d", st.FeeTotal, st.ActualRevenue, st.RemainingSessions)
	}

	pay, evts, err := f.engine.ConfirmPayment(ctx, f.admin, billing.PaymentInput{StudentID: f.student, Amount: 1970000, Method: "transfer"})
	if err != nil {
		t.Fatalf("ConfirmPayment() error = %v", err)
	}
	if pay.ActualRevenue != 2970000 || pay.FeeStatus != models.FeePaid {
		t.Errorf("payment = %+v", pay)
	}
	if len(evts) != 1 || evts[0].Type != events.TypePaymentConfirmed {
		t.Errorf("events = %+v", evts)
	}

	ledger, err := f.engine.Ledger(ctx, access.Scope{All: true}, f.student)
	if err != nil {
		t.Fatal(err)
	}
	if len(ledger) != 2 || ledger[0].Kind != "deposit" || ledger[1].Kind != "payment" {
		t.Errorf("ledger = %+v", ledger)
	}
}

func TestCreateRenewalRollsBackOnEnrollFailure(t *testing.T) {
	f := setupRenewal(t)
	ctx := context.Background()

	// A class in another branch cannot take the student.
	other := f.pg.Branch(t, "HCM")
	var classID uuid.UUID
	err := f.pg.Gateway.DB.QueryRowContext(ctx, `
		INSERT INTO classes (branch_id, code, name, schedule_days, start_time, end_time, start_date, total_sessions)
		VALUES ($1, 'HCM-C00001', 'Flyers', 'TUE', '18:00', '19:30', '2026-01-06', 10) RETURNING id
	`, other).Scan(&classID)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = f.engine.CreateRenewal(ctx, f.admin, billing.RenewalInput{
		StudentID:     f.student,
		PackageID:     f.pkg,
		DepositAmount: 500000,
		RenewalType:   billing.RenewalNewCourse,
		TargetClassID: &classID,
	})
	if models.KindOf(err) != models.KindValidation {
		t.Fatalf("CreateRenewal() error = %v, want validation", err)
	}

	var renewals, ledger int
	if err := f.pg.Gateway.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM student_renewals`).Scan(&renewals); err != nil {
		t.Fatal(err)
	}
	if err := f.pg.Gateway.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM revenue_ledger`).Scan(&ledger); err != nil {
		t.Fatal(err)
	}
	if renewals != 0 || ledger != 0 {
		t.Errorf("renewals %d ledger %d after rollback, want 0", renewals, ledger)
	}
	st, err := f.engine.GetStudent(ctx, access.Scope{All: true}, f.student)
	if err != nil {
		t.Fatal(err)
	}
	if st.RemainingSessions != 2 || st.FeeTotal != 0 {
		t.Errorf("student changed after rollback: remaining %d fee %d", st.RemainingSessions, st.FeeTotal)
	}
}

func TestLedgerIsAppendOnly(t *testing.T) {
	f := setupRenewal(t)
	ctx := context.Background()
	if _, _, err := f.engine.ConfirmPayment(ctx, f.admin, billing.PaymentInput{StudentID: f.student, Amount: 100, Method: "cash"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.pg.Gateway.DB.ExecContext(ctx, `UPDATE revenue_ledger SET amount = 1`); err == nil {
		t.Error("ledger update succeeded")
	}
	if _, err := f.pg.Gateway.DB.ExecContext(ctx, `DELETE FROM revenue_ledger`); err == nil {
		t.Error("ledger delete succeeded")
	}
}
