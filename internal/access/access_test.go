package access

import (
	"errors"
	"testing"

	"branch-ops/internal/db"
	"branch-ops/internal/models"

	"github.com/google/uuid"
)

func TestRoleCapabilities(t *testing.T) {
	tests := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RoleAdmin, ManageBranches, true},
		{RoleOwner, ConfirmPayments, true},
		{RoleOps, MarkAnyAttendance, true},
		{RoleOps, ManageUsers, false},
		{RoleClassMgr, ManageClasses, true},
		{RoleEC, ManageLeads, true},
		{RoleEC, MarkAnyAttendance, false},
		{RoleSale, ConvertLeads, true},
		{RoleTeacher, MarkOwnAttendance, true},
		{RoleTeacher, MarkAnyAttendance, false},
		{RoleTeacher, ManageLeads, false},
		{RoleAccountant, ConfirmPayments, true},
		{Role("JANITOR"), ViewReports, false},
	}
	for _, tt := range tests {
		a := NewActor(uuid.New(), "u", tt.role, false, nil, nil)
		if got := a.Can(tt.cap); got != tt.want {
			t.Errorf("%s.Can(%s) = %v, want %v", tt.role, tt.cap, got, tt.want)
		}
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" teacher "); !ok || r != RoleTeacher {
		t.Errorf("ParseRole(teacher) = %q, %v", r, ok)
	}
	if _, ok := ParseRole("janitor"); ok {
		t.Error("ParseRole(janitor) should fail")
	}
}

func TestActorCapabilities(t *testing.T) {
	a := NewActor(uuid.New(), "t", RoleTeacher, false, nil, nil)
	got := a.Capabilities()
	if len(got) != 1 || got[0] != "mark_own_attendance" {
		t.Errorf("Capabilities() = %v", got)
	}
	if !a.CanAny(ManageLeads, MarkOwnAttendance) {
		t.Error("CanAny should match MarkOwnAttendance")
	}
}

func TestResolve(t *testing.T) {
	b1, b2, b3 := uuid.New(), uuid.New(), uuid.New()
	admin := NewActor(uuid.New(), "admin", RoleAdmin, true, nil, nil)
	scoped := NewActor(uuid.New(), "ec", RoleEC, false, []uuid.UUID{b1, b2}, &b1)
	noPrimary := NewActor(uuid.New(), "ec2", RoleEC, false, []uuid.UUID{b1, b2}, nil)
	orphan := NewActor(uuid.New(), "ec3", RoleEC, false, nil, nil)

	tests := []struct {
		name      string
		resolver  Resolver
		actor     Actor
		requested *uuid.UUID
		wantAll   bool
		wantIDs   []uuid.UUID
		wantKind  models.Kind
	}{
		{"system wide no filter", Resolver{}, admin, nil, true, nil, ""},
		{"system wide filter", Resolver{}, admin, &b3, false, []uuid.UUID{b3}, ""},
		{"scoped in set", Resolver{}, scoped, &b2, false, []uuid.UUID{b2}, ""},
		{"scoped outside set falls back", Resolver{}, scoped, &b3, false, []uuid.UUID{b1}, ""},
		{"scoped outside set strict", Resolver{Strict: true}, scoped, &b3, false, nil, models.KindPermissionDenied},
		{"scoped omitted uses primary", Resolver{}, scoped, nil, false, []uuid.UUID{b1}, ""},
		{"no primary uses set", Resolver{}, noPrimary, nil, false, []uuid.UUID{b1, b2}, ""},
		{"no branches", Resolver{}, orphan, nil, false, nil, models.KindPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.resolver.Resolve(tt.actor, tt.requested)
			if tt.wantKind != "" {
				if models.KindOf(err) != tt.wantKind {
					t.Fatalf("Resolve() error = %v, want kind %s", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if s.All != tt.wantAll {
				t.Errorf("All = %v, want %v", s.All, tt.wantAll)
			}
			if len(s.BranchIDs) != len(tt.wantIDs) {
				t.Fatalf("BranchIDs = %v, want %v", s.BranchIDs, tt.wantIDs)
			}
			for i := range tt.wantIDs {
				if s.BranchIDs[i] != tt.wantIDs[i] {
					t.Errorf("BranchIDs[%d] = %s, want %s", i, s.BranchIDs[i], tt.wantIDs[i])
				}
			}
		})
	}
}

func TestScopeFilterAndCheck(t *testing.T) {
	b1, b2 := uuid.New(), uuid.New()

	var args db.Args
	if got := (Scope{All: true}).Filter("l.branch_id", &args); got != "TRUE" || args.Len() != 0 {
		t.Errorf("All scope filter = %q with %d args", got, args.Len())
	}

	s := Scope{BranchIDs: []uuid.UUID{b1}}
	if got := s.Filter("l.branch_id", &args); got != "l.branch_id IN ($1)" {
		t.Errorf("Filter() = %q", got)
	}
	if err := s.Check(b1); err != nil {
		t.Errorf("Check(in scope) = %v", err)
	}
	if err := s.Check(b2); !errors.Is(err, models.ErrPermissionDenied) {
		t.Errorf("Check(out of scope) = %v, want permission denied", err)
	}
	if id, ok := s.Single(); !ok || id != b1 {
		t.Errorf("Single() = %s, %v", id, ok)
	}
}

func TestForActor(t *testing.T) {
	b1, b2 := uuid.New(), uuid.New()
	a := NewActor(uuid.New(), "cm", RoleClassMgr, false, []uuid.UUID{b1}, &b2)
	s := ForActor(a)
	if s.All || !s.Allows(b1) || !s.Allows(b2) {
		t.Errorf("ForActor() = %+v", s)
	}
	if !ForActor(NewActor(uuid.New(), "gdv", RoleOwner, true, nil, nil)).All {
		t.Error("system-wide actor should see all branches")
	}
}
