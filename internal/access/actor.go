package access

import (
	"strings"

	"github.com/google/uuid"
)

// Role is a staff role.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleOwner      Role = "GDV"
	RoleOps        Role = "OM"
	RoleClassMgr   Role = "CM"
	RoleHeadEC     Role = "HOEC"
	RoleEC         Role = "EC"
	RoleSale       Role = "SALE"
	RoleTeacher    Role = "TEACHER"
	RoleAccountant Role = "ACCOUNTANT"
)

// ParseRole normalises s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := roleCapabilities[r]
	return r, ok
}

// SystemWideByDefault reports whether new users with this role see every branch.
func (r Role) SystemWideByDefault() bool {
	return r == RoleAdmin || r == RoleOwner
}

// Capability is a single permission checked by engines and handlers.
type Capability uint16

const (
	ManageBranches Capability = 1 << iota
	ManageUsers
	ManageLeads
	ConvertLeads
	ManageClasses
	MarkAnyAttendance
	MarkOwnAttendance
	ViewReports
	ManageBilling
	ConfirmPayments
)

var capabilityNames = map[Capability]string{
	ManageBranches:    "manage_branches",
	ManageUsers:       "manage_users",
	ManageLeads:       "manage_leads",
	ConvertLeads:      "convert_leads",
	ManageClasses:     "manage_classes",
	MarkAnyAttendance: "mark_any_attendance",
	MarkOwnAttendance: "mark_own_attendance",
	ViewReports:       "view_reports",
	ManageBilling:     "manage_billing",
	ConfirmPayments:   "confirm_payments",
}

func (c Capability) String() string {
	if n, ok := capabilityNames[c]; ok {
		return n
	}
	return "unknown"
}

const allCapabilities = ManageBranches | ManageUsers | ManageLeads | ConvertLeads |
	ManageClasses | MarkAnyAttendance | MarkOwnAttendance | ViewReports |
	ManageBilling | ConfirmPayments

var roleCapabilities = map[Role]Capability{
	RoleAdmin:      allCapabilities,
	RoleOwner:      allCapabilities,
	RoleOps:        ManageLeads | ConvertLeads | ManageClasses | MarkAnyAttendance | ViewReports | ManageBilling | ConfirmPayments,
	RoleClassMgr:   ManageClasses | MarkAnyAttendance | ViewReports | ConvertLeads,
	RoleHeadEC:     ManageLeads | ConvertLeads | ViewReports | ManageBilling,
	RoleEC:         ManageLeads | ConvertLeads | ManageBilling,
	RoleSale:       ManageLeads | ConvertLeads,
	RoleTeacher:    MarkOwnAttendance,
	RoleAccountant: ViewReports | ManageBilling | ConfirmPayments,
}

// CapabilitiesFor returns the capability set granted to role.
func CapabilitiesFor(role Role) Capability {
	return roleCapabilities[role]
}

// Actor is the authenticated caller, resolved once per request.
type Actor struct {
	ID              uuid.UUID
	Username        string
	Role            Role
	SystemWide      bool
	BranchIDs       []uuid.UUID
	PrimaryBranchID *uuid.UUID
	caps            Capability
}

// NewActor builds an Actor with the capability set of role.
func NewActor(id uuid.UUID, username string, role Role, systemWide bool, branchIDs []uuid.UUID, primary *uuid.UUID) Actor {
	return Actor{
		ID:              id,
		Username:        username,
		Role:            role,
		SystemWide:      systemWide,
		BranchIDs:       branchIDs,
		PrimaryBranchID: primary,
		caps:            CapabilitiesFor(role),
	}
}

func (a Actor) Can(c Capability) bool {
	return a.caps&c == c
}

// CanAny reports whether the actor holds at least one of cs.
func (a Actor) CanAny(cs ...Capability) bool {
	for _, c := range cs {
		if a.Can(c) {
			return true
		}
	}
	return false
}

// Capabilities lists the actor's capability names, for the /me response.
func (a Actor) Capabilities() []string {
	var out []string
	for c := Capability(1); c <= ConfirmPayments; c <<= 1 {
		if a.Can(c) {
			out = append(out, c.String())
		}
	}
	return out
}

func (a Actor) assigned(id uuid.UUID) bool {
	for _, b := range a.BranchIDs {
		if b == id {
			return true
		}
	}
	return false
}

func (a Actor) inBranchSet(id uuid.UUID) bool {
	return a.assigned(id) || (a.PrimaryBranchID != nil && *a.PrimaryBranchID == id)
}
