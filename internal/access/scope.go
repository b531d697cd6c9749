package access

import (
	"branch-ops/internal/db"
	"branch-ops/internal/models"

	"github.com/google/uuid"
)

// Scope is the set of branches a request may touch. All is true only for
// system-wide callers that did not ask for a specific branch.
type Scope struct {
	All       bool
	BranchIDs []uuid.UUID
}

// Allows reports whether branchID is visible in the scope.
func (s Scope) Allows(branchID uuid.UUID) bool {
	if s.All {
		return true
	}
	for _, b := range s.BranchIDs {
		if b == branchID {
			return true
		}
	}
	return false
}

// Single returns the branch when the scope names exactly one.
func (s Scope) Single() (uuid.UUID, bool) {
	if !s.All && len(s.BranchIDs) == 1 {
		return s.BranchIDs[0], true
	}
	return uuid.Nil, false
}

// Filter returns a SQL predicate restricting column to the scope, adding any
// parameters to args. An unrestricted scope yields "TRUE".
func (s Scope) Filter(column string, args *db.Args) string {
	if s.All {
		return "TRUE"
	}
	return column + " IN " + db.In(args, s.BranchIDs)
}

// Check fails with PermissionDenied when branchID is outside the scope.
func (s Scope) Check(branchID uuid.UUID) error {
	if !s.Allows(branchID) {
		return models.PermissionDenied("branch is outside your access scope")
	}
	return nil
}

// Resolver derives the effective branch scope for a request. With Strict
// set, a branch-scoped caller asking for a branch outside their set is
// refused rather than silently moved to their primary branch.
type Resolver struct {
	Strict bool
}

// Resolve applies the branch scoping rule for actor and the optional
// explicitly requested branch.
func (r Resolver) Resolve(actor Actor, requested *uuid.UUID) (Scope, error) {
	if actor.SystemWide {
		if requested != nil {
			return Scope{BranchIDs: []uuid.UUID{*requested}}, nil
		}
		return Scope{All: true}, nil
	}

	if requested != nil {
		if actor.inBranchSet(*requested) {
			return Scope{BranchIDs: []uuid.UUID{*requested}}, nil
		}
		if r.Strict {
			return Scope{}, models.PermissionDenied("branch %s is outside your assigned branches", requested.String())
		}
	}

	if actor.PrimaryBranchID != nil {
		return Scope{BranchIDs: []uuid.UUID{*actor.PrimaryBranchID}}, nil
	}
	if len(actor.BranchIDs) > 0 {
		return Scope{BranchIDs: append([]uuid.UUID(nil), actor.BranchIDs...)}, nil
	}
	return Scope{}, models.PermissionDenied("no branch assigned")
}

// ForActor returns the full visibility set of actor, ignoring any request
// filter: every branch for system-wide callers, otherwise the assigned set.
func ForActor(actor Actor) Scope {
	if actor.SystemWide {
		return Scope{All: true}
	}
	ids := append([]uuid.UUID(nil), actor.BranchIDs...)
	if actor.PrimaryBranchID != nil && !actor.assigned(*actor.PrimaryBranchID) {
		ids = append(ids, *actor.PrimaryBranchID)
	}
	return Scope{BranchIDs: ids}
}
