//go:build integration

package leads_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"branch-ops/internal/access"
	"branch-ops/internal/leads"
	"branch-ops/internal/models"
	"branch-ops/internal/testinfra"

	"github.com/google/uuid"
)

func newLead(phone string, students ...string) leads.CreateInput {
	in := leads.CreateInput{Customer: leads.Customer{Name: "Parent", Phone: phone}}
	for _, s := range students {
		in.Students = append(in.Students, leads.StudentInput{Name: s})
	}
	return in
}

func TestCreateLeadRejectsDuplicatePhone(t *testing.T) {
	pg := testinfra.NewPostgres(t)
	ctx := context.Background()
	branch := pg.Branch(t, "HN")
	admin := pg.Admin(t)
	engine := leads.NewEngine(pg.Gateway)

	in := newLead("0901 234 567", "An", "Binh")
	in.BranchID = branch
	first, err := engine.CreateLead(ctx, admin, in)
	if err != nil {
		t.Fatalf("CreateLead() error = %v", err)
	}
	if len(first) != 2 || first[0].Code != "HN-00001" || first[1].Code != "HN-00002" {
		t.Fatalf("codes = %v", first)
	}

	// Same number in another branch is still a duplicate.
	other := pg.Branch(t, "HCM")
	dup := newLead("090-123-4567", "Chi")
	dup.BranchID = other
	_, err = engine.CreateLead(ctx, admin, dup)

	var phoneErr *models.PhoneAlreadyExistsError
	if !errors.As(err, &phoneErr) {
		t.Fatalf("CreateLead() error = %v, want PhoneAlreadyExistsError", err)
	}
	if phoneErr.ExistingLeadCode != "HN-00002" && phoneErr.ExistingLeadCode != "HN-00001" {
		t.Errorf("ExistingLeadCode = %q", phoneErr.ExistingLeadCode)
	}
	if models.KindOf(err) != models.KindConflict {
		t.Errorf("KindOf() = %v, want conflict", models.KindOf(err))
	}
}

func TestCreateLeadConcurrentCodesAreUnique(t *testing.T) {
	pg := testinfra.NewPostgres(t)
	ctx := context.Background()
	branch := pg.Branch(t, "DN")
	admin := pg.Admin(t)
	engine := leads.NewEngine(pg.Gateway)

	const n = 12
	var wg sync.WaitGroup
	codes := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := newLead(fmt.Sprintf("09000000%02d", i), "Kid")
			in.BranchID = branch
			created, err := engine.CreateLead(ctx, admin, in)
			if err != nil {
				errs <- err
				return
			}
			codes <- created[0].Code
		}(i)
	}
	wg.Wait()
	close(codes)
	close(errs)

	for err := range errs {
		t.Errorf("CreateLead() error = %v", err)
	}
	seen := make(map[string]bool)
	for c := range codes {
		if seen[c] {
			t.Errorf("duplicate code %s", c)
		}
		seen[c] = true
	}
	if len(seen) != n {
		t.Errorf("got %d unique codes, want %d", len(seen), n)
	}
}

func TestConvertToStudentIsAtomic(t *testing.T) {
	pg := testinfra.NewPostgres(t)
	ctx := context.Background()
	branch := pg.Branch(t, "HP")
	admin := pg.Admin(t)
	engine := leads.NewEngine(pg.Gateway)

	in := newLead("0912345678", "Dung")
	in.BranchID = branch
	created, err := engine.CreateLead(ctx, admin, in)
	if err != nil {
		t.Fatalf("CreateLead() error = %v", err)
	}
	leadID := created[0].ID

	pg.Exec(t, `
		CREATE FUNCTION fail_history() RETURNS trigger AS $$
		BEGIN RAISE EXCEPTION 'history write failed'; END;
		$$ LANGUAGE plpgsql`)
	pg.Exec(t, `CREATE TRIGGER fail_history BEFORE INSERT ON student_status_history FOR EACH ROW EXECUTE FUNCTION fail_history()`)

	if _, _, err := engine.ConvertToStudent(ctx, admin, leadID, leads.ConvertOverrides{}); err == nil {
		t.Fatal("ConvertToStudent() succeeded with failing history trigger")
	}
	var students int
	if err := pg.Gateway.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&students); err != nil {
		t.Fatal(err)
	}
	if students != 0 {
		t.Errorf("students after failed conversion = %d, want 0", students)
	}
	l, err := engine.GetLead(ctx, admin, leadID)
	if err != nil {
		t.Fatal(err)
	}
	if l.Status == models.LeadConverted {
		t.Error("lead marked converted after rollback")
	}

	pg.Exec(t, `DROP TRIGGER fail_history ON student_status_history`)

	res, evts, err := engine.ConvertToStudent(ctx, admin, leadID, leads.ConvertOverrides{})
	if err != nil {
		t.Fatalf("ConvertToStudent() error = %v", err)
	}
	if res.Student.Code != "HP-HS00001" {
		t.Errorf("student code = %q, want HP-HS00001", res.Student.Code)
	}
	if res.Lead.Status != models.LeadConverted || res.Lead.ConvertedStudentID == nil || *res.Lead.ConvertedStudentID != res.Student.ID {
		t.Errorf("lead after conversion = %+v", res.Lead)
	}
	if len(evts) != 1 {
		t.Errorf("events = %d, want 1", len(evts))
	}

	_, _, err = engine.ConvertToStudent(ctx, admin, leadID, leads.ConvertOverrides{})
	if models.KindOf(err) != models.KindConflict {
		t.Errorf("second conversion error = %v, want conflict", err)
	}
}

func createOne(t *testing.T, engine *leads.Engine, admin access.Actor, branch uuid.UUID, phone string) *models.Lead {
	t.Helper()
	in := newLead(phone, "Kid")
	in.BranchID = branch
	created, err := engine.CreateLead(context.Background(), admin, in)
	if err != nil {
		t.Fatalf("CreateLead() error = %v", err)
	}
	return created[0]
}

func TestMarkAttendedTransitions(t *testing.T) {
	pg := testinfra.NewPostgres(t)
	ctx := context.Background()
	branch := pg.Branch(t, "HN")
	admin := pg.Admin(t)
	engine := leads.NewEngine(pg.Gateway)

	tests := []struct {
		from      string
		want      string
		wantTrial int
	}{
		{models.LeadNew, models.LeadAttended, 1},
		{models.LeadScheduled, models.LeadAttended, 1},
		{models.LeadTrial, models.LeadTrial, 2},
		{models.LeadWaiting, models.LeadWaiting, 1},
		{models.LeadConverted, models.LeadConverted, 1},
	}
	for i, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			l := createOne(t, engine, admin, branch, fmt.Sprintf("09111111%02d", i))
			pg.Exec(t, `UPDATE leads SET status = $1, trial_sessions_attended = 1 WHERE id = $2`, tt.from, l.ID)

			got, err := engine.MarkAttended(ctx, admin, l.ID)
			if err != nil {
				t.Fatalf("MarkAttended() error = %v", err)
			}
			if got.Status != tt.want || got.TrialSessionsAttended != tt.wantTrial {
				t.Errorf("MarkAttended() = %s/%d, want %s/%d", got.Status, got.TrialSessionsAttended, tt.want, tt.wantTrial)
			}
		})
	}
}

func TestTrialLifecycle(t *testing.T) {
	pg := testinfra.NewPostgres(t)
	ctx := context.Background()
	branch := pg.Branch(t, "HN")
	admin := pg.Admin(t)
	engine := leads.NewEngine(pg.Gateway)
	first := pg.Class(t, branch, "HN-C00001")
	second := pg.Class(t, branch, "HN-C00002")

	l := createOne(t, engine, admin, branch, "0922222222")
	l, err := engine.AssignTrialClass(ctx, admin, l.ID, first, 0)
	if err != nil {
		t.Fatalf("AssignTrialClass() error = %v", err)
	}
	if l.Status != models.LeadTrial || l.TrialSessionsMax != leads.DefaultTrialSessions {
		t.Fatalf("after assign = %s max %d", l.Status, l.TrialSessionsMax)
	}
	if l, err = engine.MarkAttended(ctx, admin, l.ID); err != nil {
		t.Fatal(err)
	}

	l, err = engine.AssignTrialClass(ctx, admin, l.ID, second, 5)
	if err != nil {
		t.Fatalf("re-assign error = %v", err)
	}
	if *l.TrialClassID != second || l.TrialSessionsMax != 5 || l.TrialSessionsAttended != 1 {
		t.Errorf("after re-assign = class %s max %d attended %d", *l.TrialClassID, l.TrialSessionsMax, l.TrialSessionsAttended)
	}

	other := pg.Class(t, pg.Branch(t, "HCM"), "HCM-C00001")
	if _, err := engine.AssignTrialClass(ctx, admin, l.ID, other, 3); models.KindOf(err) != models.KindValidation {
		t.Errorf("cross-branch trial class error = %v, want validation", err)
	}

	// Below the max the lead still parks in waiting.
	l, err = engine.CompleteSession(ctx, admin, l.ID)
	if err != nil {
		t.Fatalf("CompleteSession() error = %v", err)
	}
	if l.Status != models.LeadWaiting || l.TrialSessionsAttended != 2 {
		t.Errorf("after complete = %s/%d, want %s/2", l.Status, l.TrialSessionsAttended, models.LeadWaiting)
	}
}

func TestConvertedLeadRejectsTransitions(t *testing.T) {
	pg := testinfra.NewPostgres(t)
	ctx := context.Background()
	branch := pg.Branch(t, "HN")
	admin := pg.Admin(t)
	engine := leads.NewEngine(pg.Gateway)
	class := pg.Class(t, branch, "HN-C00001")

	l := createOne(t, engine, admin, branch, "0933333333")
	if _, _, err := engine.ConvertToStudent(ctx, admin, l.ID, leads.ConvertOverrides{}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		op   func() error
	}{
		{"no show", func() error { _, err := engine.MarkNoShow(ctx, admin, l.ID); return err }},
		{"assign trial", func() error { _, err := engine.AssignTrialClass(ctx, admin, l.ID, class, 3); return err }},
		{"complete session", func() error { _, err := engine.CompleteSession(ctx, admin, l.ID); return err }},
		{"cancel", func() error { _, err := engine.CancelLead(ctx, admin, l.ID, "moved"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); models.KindOf(err) != models.KindConflict {
				t.Errorf("error = %v, want conflict", err)
			}
		})
	}

	got, err := engine.GetLead(ctx, admin, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.LeadConverted {
		t.Errorf("status = %s, want converted", got.Status)
	}
}

func TestCheckDuplicatePhoneScope(t *testing.T) {
	pg := testinfra.NewPostgres(t)
	ctx := context.Background()
	hn := pg.Branch(t, "HN")
	hcm := pg.Branch(t, "HCM")
	admin := pg.Admin(t)
	engine := leads.NewEngine(pg.Gateway)
	createOne(t, engine, admin, hcm, "0944444444")

	sale := pg.User(t, "sale-hn", access.RoleSale, false, hn)
	got, err := engine.CheckDuplicatePhone(ctx, access.ForActor(sale), "0944 444 444")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("branch-scoped lookup found %s in another branch", got.Code)
	}

	got, err = engine.CheckDuplicatePhone(ctx, access.ForActor(admin), "0944444444")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Code != "HCM-00001" {
		t.Errorf("system-wide lookup = %+v, want HCM-00001", got)
	}
}
