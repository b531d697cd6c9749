package handlers

import (
	"net/http"
	"strings"

	"branch-ops/internal/leads"
	"branch-ops/internal/models"
	"branch-ops/internal/util"

	"github.com/google/uuid"
)

type scheduleRequest struct {
	Date *util.Date `json:"date"`
	Time *string    `json:"time"`
}

type createLeadRequest struct {
	BranchID     uuid.UUID            `json:"branch_id"`
	Customer     leads.Customer       `json:"customer" validate:"required"`
	Students     []leads.StudentInput `json:"students" validate:"required,min=1,dive"`
	Schedule     scheduleRequest      `json:"schedule"`
	SalesOwnerID *uuid.UUID           `json:"sales_owner_id"`
	Source       *string              `json:"source"`
	Note         *string              `json:"note"`
}

// POST /api/leads - one lead per student of a single customer. A known phone
// answers 409 with the existing lead in details.
func (h *APIHandler) CreateLead(w http.ResponseWriter, r *http.Request) {
	var req createLeadRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	branchID, err := h.branchFor(r, req.BranchID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	day, err := h.bodyDate(req.Schedule.Date, "schedule.date")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out, err := h.leads.CreateLead(r.Context(), actor(r), leads.CreateInput{
		BranchID:     branchID,
		Customer:     req.Customer,
		Students:     req.Students,
		Schedule:     leads.Schedule{Date: day, Time: req.Schedule.Time},
		SalesOwnerID: req.SalesOwnerID,
		Source:       req.Source,
		Note:         req.Note,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, map[string]interface{}{"data": out})
}

// GET /api/leads
func (h *APIHandler) ListLeads(w http.ResponseWriter, r *http.Request) {
	sc, err := h.scope(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	owner, err := queryUUID(r, "sales_owner_id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	day, err := h.queryDate(r, "scheduled_on")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	q := r.URL.Query()
	out, page, err := h.leads.ListLeads(r.Context(), sc, leads.ListFilter{
		Status:       q.Get("status"),
		Search:       q.Get("search"),
		SalesOwnerID: owner,
		ScheduledOn:  day,
		Page:         queryInt(r, "page", 1),
		Limit:        queryInt(r, "limit", 20),
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if out == nil {
		out = []*models.Lead{}
	}
	jsonList(w, out, page)
}

// GET /api/leads/check-phone?phone=
func (h *APIHandler) CheckPhone(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		jsonError(w, http.StatusBadRequest, "phone is required")
		return
	}
	sc, err := h.scope(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	existing, err := h.leads.CheckDuplicatePhone(r.Context(), sc, phone)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"exists": existing != nil,
		"lead":   existing,
	})
}

// GET /api/leads/{leadID}
func (h *APIHandler) GetLead(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "leadID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	l, err := h.leads.GetLead(r.Context(), actor(r), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, leadDetail{Lead: l, StatusInfo: models.GetStatusDisplayInfo(l.Status)})
}

type leadDetail struct {
	*models.Lead
	StatusInfo models.StatusDisplayInfo `json:"status_info"`
}

// leadAction adapts a single-lead transition to a handler.
func (h *APIHandler) leadAction(fn func(r *http.Request, id uuid.UUID) (*models.Lead, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "leadID")
		if err != nil {
			writeErr(w, r, err)
			return
		}
		l, err := fn(r, id)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		jsonResponse(w, http.StatusOK, l)
	}
}

// POST /api/leads/{leadID}/attended
func (h *APIHandler) MarkLeadAttended(w http.ResponseWriter, r *http.Request) {
	h.leadAction(func(r *http.Request, id uuid.UUID) (*models.Lead, error) {
		return h.leads.MarkAttended(r.Context(), actor(r), id)
	})(w, r)
}

// POST /api/leads/{leadID}/no-show
func (h *APIHandler) MarkLeadNoShow(w http.ResponseWriter, r *http.Request) {
	h.leadAction(func(r *http.Request, id uuid.UUID) (*models.Lead, error) {
		return h.leads.MarkNoShow(r.Context(), actor(r), id)
	})(w, r)
}

// POST /api/leads/{leadID}/complete-session
func (h *APIHandler) CompleteLeadSession(w http.ResponseWriter, r *http.Request) {
	h.leadAction(func(r *http.Request, id uuid.UUID) (*models.Lead, error) {
		return h.leads.CompleteSession(r.Context(), actor(r), id)
	})(w, r)
}

type trialRequest struct {
	ClassID     uuid.UUID `json:"class_id" validate:"required"`
	MaxSessions int       `json:"max_sessions" validate:"omitempty,min=1,max=20"`
}

// POST /api/leads/{leadID}/trial - assigns a trial class.
func (h *APIHandler) AssignTrial(w http.ResponseWriter, r *http.Request) {
	var req trialRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	h.leadAction(func(r *http.Request, id uuid.UUID) (*models.Lead, error) {
		return h.leads.AssignTrialClass(r.Context(), actor(r), id, req.ClassID, req.MaxSessions)
	})(w, r)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// POST /api/leads/{leadID}/cancel
func (h *APIHandler) CancelLead(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	h.leadAction(func(r *http.Request, id uuid.UUID) (*models.Lead, error) {
		return h.leads.CancelLead(r.Context(), actor(r), id, req.Reason)
	})(w, r)
}

type feedbackRequest struct {
	Rating   *int    `json:"rating" validate:"omitempty,min=1,max=5"`
	Feedback *string `json:"feedback"`
}

// PUT /api/leads/{leadID}/feedback
func (h *APIHandler) UpdateLeadFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	h.leadAction(func(r *http.Request, id uuid.UUID) (*models.Lead, error) {
		return h.leads.UpdateFeedback(r.Context(), actor(r), id, req.Rating, req.Feedback)
	})(w, r)
}

// POST /api/leads/{leadID}/convert - creates the pending student. The body is
// optional and overrides lead fields.
func (h *APIHandler) ConvertLead(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "leadID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var o leads.ConvertOverrides
	if r.ContentLength != 0 {
		if err := h.decode(r, &o); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	res, evts, err := h.leads.ConvertToStudent(r.Context(), actor(r), id, o)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	h.publish(r, evts)
	jsonResponse(w, http.StatusCreated, res)
}
