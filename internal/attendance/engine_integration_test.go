//go:build integration

package attendance_test

import (
	"context"
	"testing"
	"time"

	"branch-ops/internal/access"
	"branch-ops/internal/attendance"
	"branch-ops/internal/classes"
	"branch-ops/internal/events"
	"branch-ops/internal/models"
	"branch-ops/internal/testinfra"

	"github.com/google/uuid"
)

type fixture struct {
	pg       *testinfra.PostgresContainer
	admin    access.Actor
	engine   *attendance.Engine
	branch   uuid.UUID
	classID  uuid.UUID
	student  uuid.UUID
	sessions []*models.Session
}

func setup(t *testing.T, remaining int) *fixture {
	t.Helper()
	pg := testinfra.NewPostgres(t)
	ctx := context.Background()
	loc := time.UTC
	branch := pg.Branch(t, "HN")
	admin := pg.Admin(t)

	svc := classes.NewService(pg.Gateway, loc)
	c, err := svc.CreateClass(ctx, admin, classes.NewClass{
		BranchID:      branch,
		Name:          "Movers A",
		ScheduleDays:  "MON,WED,FRI",
		StartTime:     "18:00",
		EndTime:       "19:30",
		StartDate:     time.Date(2026, 1, 5, 0, 0, 0, 0, loc),
		TotalSessions: 6,
	})
	if err != nil {
		t.Fatalf("CreateClass() error = %v", err)
	}
	if _, err := svc.GenerateSessions(ctx, admin, c.ID); err != nil {
		t.Fatalf("GenerateSessions() error = %v", err)
	}
	sessions, err := svc.ListSessions(ctx, access.Scope{All: true}, c.ID)
	if err != nil || len(sessions) != 6 {
		t.Fatalf("ListSessions() = %d sessions, %v", len(sessions), err)
	}

	student := pg.Student(t, branch, "HN-HS00001", remaining)
	if err := svc.EnrollStudent(ctx, admin, c.ID, student); err != nil {
		t.Fatalf("EnrollStudent() error = %v", err)
	}
	return &fixture{
		pg: pg, admin: admin, engine: attendance.NewEngine(pg.Gateway, loc),
		branch: branch, classID: c.ID, student: student, sessions: sessions,
	}
}

func (f *fixture) mark(t *testing.T, session int, status string) (*attendance.MarkResult, []events.Event) {
	t.Helper()
	res, evts, err := f.engine.MarkAttendance(context.Background(), f.admin, f.sessions[session].ID, []attendance.Record{
		{StudentID: &f.student, Status: status},
	})
	if err != nil {
		t.Fatalf("MarkAttendance(session %d, %s) error = %v", session+1, status, err)
	}
	return res, evts
}

func (f *fixture) remaining(t *testing.T) (int, string) {
	t.Helper()
	var n int
	var status string
	err := f.pg.Gateway.DB.QueryRowContext(context.Background(),
		`SELECT remaining_sessions, fee_status FROM students WHERE id = $1`, f.student).Scan(&n, &status)
	if err != nil {
		t.Fatal(err)
	}
	return n, status
}

func TestMarkAttendanceIsIdempotent(t *testing.T) {
	f := setup(t, 10)

	f.mark(t, 0, "present")
	res, _ := f.mark(t, 0, "present")
	if res.Consumed != 0 {
		t.Errorf("re-mark consumed %d sessions, want 0", res.Consumed)
	}
	f.mark(t, 0, "late")

	var rows int
	err := f.pg.Gateway.DB.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM attendance WHERE session_id = $1`, f.sessions[0].ID).Scan(&rows)
	if err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Errorf("attendance rows = %d, want 1", rows)
	}
	if n, _ := f.remaining(t); n != 9 {
		t.Errorf("remaining = %d, want 9", n)
	}

	records, err := f.engine.SessionAttendance(context.Background(), access.Scope{All: true}, f.sessions[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Status != models.AttendanceLate {
		t.Errorf("SessionAttendance() = %+v", records)
	}
}

func TestWarningFromThirdLateOrAbsent(t *testing.T) {
	f := setup(t, 10)

	tests := []struct {
		status    string
		wantWarn  bool
		wantTotal int
	}{
		{"late", false, 1},
		{"absent", false, 2},
		{"present", false, 2},
		{"absent", true, 3},
		{"late", true, 4},
	}
	for i, tt := range tests {
		res, evts := f.mark(t, i, tt.status)
		if got := len(res.Warnings) > 0; got != tt.wantWarn {
			t.Fatalf("mark %d (%s): warning = %v, want %v", i+1, tt.status, got, tt.wantWarn)
		}
		if !tt.wantWarn {
			continue
		}
		w := res.Warnings[0]
		if w.Total() != tt.wantTotal {
			t.Errorf("mark %d: total = %d, want %d", i+1, w.Total(), tt.wantTotal)
		}
		if w.ParentPhone == "" {
			t.Errorf("mark %d: warning has no parent contact", i+1)
		}
		found := false
		for _, e := range evts {
			if e.Type == events.TypeAttendanceWarning {
				found = true
			}
		}
		if !found {
			t.Errorf("mark %d: no attendance warning event", i+1)
		}
	}

	rows, err := f.engine.GetStudentsWithWarnings(context.Background(), access.Scope{All: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("GetStudentsWithWarnings() = %d rows, want 1", len(rows))
	}
}

func TestAttendanceConsumesDownToExpiry(t *testing.T) {
	f := setup(t, 5)

	_, evts := f.mark(t, 0, "present")
	if n, status := f.remaining(t); n != 4 || status != models.FeeExpiringSoon {
		t.Errorf("after first session = %d/%s, want 4/%s", n, status, models.FeeExpiringSoon)
	}
	if len(evts) != 1 || evts[0].Type != events.TypeFeeExpiring {
		t.Errorf("events = %+v, want one fee expiring", evts)
	}

	for i := 1; i < 5; i++ {
		f.mark(t, i, "present")
	}
	if n, status := f.remaining(t); n != 0 || status != models.FeeExpired {
		t.Errorf("after five sessions = %d/%s, want 0/%s", n, status, models.FeeExpired)
	}

	res, _ := f.mark(t, 5, "present")
	if res.Consumed != 0 {
		t.Errorf("consumed with empty balance = %d, want 0", res.Consumed)
	}
}

func TestTrialRecountFollowsCorrections(t *testing.T) {
	f := setup(t, 10)
	ctx := context.Background()
	var lead uuid.UUID
	err := f.pg.Gateway.DB.QueryRowContext(ctx, `
		INSERT INTO leads (branch_id, code, customer_name, customer_phone, student_name, status, trial_class_id)
		VALUES ($1, 'HN-00001', 'Parent', '0955555555', 'Trial Kid', 'trial', $2) RETURNING id
	`, f.branch, f.classID).Scan(&lead)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		session int
		status  string
		want    int
	}{
		{"first present", 0, "present", 1},
		{"re-mark same session", 0, "late", 1},
		{"second session late", 1, "late", 2},
		{"first corrected to absent", 0, "absent", 1},
		{"second corrected to excused", 1, "excused", 0},
	}
	for _, tt := range tests {
		_, _, err := f.engine.MarkAttendance(ctx, f.admin, f.sessions[tt.session].ID, []attendance.Record{
			{LeadID: &lead, Status: tt.status},
		})
		if err != nil {
			t.Fatalf("%s: MarkAttendance() error = %v", tt.name, err)
		}
		var got int
		if err := f.pg.Gateway.DB.QueryRowContext(ctx,
			`SELECT trial_sessions_attended FROM leads WHERE id = $1`, lead).Scan(&got); err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("%s: trial_sessions_attended = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestGetClassReportTallies(t *testing.T) {
	f := setup(t, 10)
	for i, status := range []string{"present", "late", "absent", "excused", "present"} {
		f.mark(t, i, status)
	}
	// A re-mark replaces the earlier status instead of adding to it.
	f.mark(t, 4, "late")

	rows, err := f.engine.GetClassReport(context.Background(), access.Scope{All: true}, f.classID)
	if err != nil {
		t.Fatalf("GetClassReport() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	r := rows[0]
	if r.StudentID != f.student || r.Present != 1 || r.Late != 2 || r.Absent != 1 || r.Excused != 1 {
		t.Errorf("report = %+v, want present 1 late 2 absent 1 excused 1", r)
	}

	other := access.Scope{BranchIDs: []uuid.UUID{uuid.New()}}
	if _, err := f.engine.GetClassReport(context.Background(), other, f.classID); models.KindOf(err) != models.KindPermissionDenied {
		t.Errorf("out-of-scope report error = %v, want permission denied", err)
	}
}
