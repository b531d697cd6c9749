package handlers

import (
	"net/http"

	"branch-ops/internal/branches"
	"branch-ops/internal/identity"

	"github.com/google/uuid"
)

// POST /api/users - creates a staff account.
func (h *APIHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var in identity.NewUser
	if err := h.decode(r, &in); err != nil {
		writeErr(w, r, err)
		return
	}
	u, err := h.identity.CreateUser(r.Context(), actor(r), in)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, u)
}

// GET /api/users/{userID}
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "userID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	u, err := h.identity.GetUser(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, u)
}

type managerRequest struct {
	ManagerID *uuid.UUID `json:"manager_id"`
}

// PUT /api/users/{userID}/manager - sets or clears the reporting manager.
func (h *APIHandler) SetManager(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "userID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req managerRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.identity.SetManager(r.Context(), actor(r), id, req.ManagerID); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/users/{userID} - deactivates the account.
func (h *APIHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "userID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.identity.DeactivateUser(r.Context(), actor(r), id); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/branches - branches visible to the caller.
func (h *APIHandler) ListBranches(w http.ResponseWriter, r *http.Request) {
	sc, err := h.scope(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out, err := h.branches.List(r.Context(), sc)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"data": out})
}

// POST /api/branches
func (h *APIHandler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	var in branches.NewBranch
	if err := h.decode(r, &in); err != nil {
		writeErr(w, r, err)
		return
	}
	b, err := h.branches.Create(r.Context(), actor(r), in)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, b)
}

// DELETE /api/branches/{branchID} - soft-deactivates a branch.
func (h *APIHandler) DeactivateBranch(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "branchID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.branches.Deactivate(r.Context(), actor(r), id); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
