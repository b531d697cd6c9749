package handlers

import (
	"net/http"

	"branch-ops/internal/billing"
	"branch-ops/internal/models"
	"branch-ops/internal/util"

	"github.com/google/uuid"
)

// GET /api/packages
func (h *APIHandler) ListPackages(w http.ResponseWriter, r *http.Request) {
	out, err := h.billing.ListPackages(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"data": out})
}

// packageBranch reads the package id and the branch it is priced for.
func (h *APIHandler) packageBranch(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	pkg, err := pathUUID(r, "packageID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	branch, err := h.branchFor(r, uuid.Nil)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return pkg, branch, nil
}

// GET /api/packages/{packageID}/price?branch_id=
func (h *APIHandler) PackagePrice(w http.ResponseWriter, r *http.Request) {
	pkg, branch, err := h.packageBranch(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := h.billing.GetPriceForBranch(r.Context(), pkg, branch)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

// GET /api/packages/{packageID}/sessions?branch_id=&scholarship_months=
func (h *APIHandler) PackageSessions(w http.ResponseWriter, r *http.Request) {
	pkg, branch, err := h.packageBranch(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	months := queryInt(r, "scholarship_months", 0)
	if months < 0 {
		jsonError(w, http.StatusBadRequest, "scholarship_months must not be negative")
		return
	}
	n, err := h.billing.CalculateSessions(r.Context(), pkg, branch, months)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int{"sessions": n, "scholarship_months": months})
}

// GET /api/students
func (h *APIHandler) ListStudents(w http.ResponseWriter, r *http.Request) {
	sc, err := h.scope(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	q := r.URL.Query()
	out, page, err := h.billing.ListStudents(r.Context(), sc, billing.StudentFilter{
		Status:    q.Get("status"),
		FeeStatus: q.Get("fee_status"),
		Search:    q.Get("search"),
		Page:      queryInt(r, "page", 1),
		Limit:     queryInt(r, "limit", 20),
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if out == nil {
		out = []*models.Student{}
	}
	jsonList(w, out, page)
}

// GET /api/students/{studentID}
func (h *APIHandler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id, sc, ok := h.target(w, r, "studentID")
	if !ok {
		return
	}
	s, err := h.billing.GetStudent(r.Context(), sc, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, s)
}

// GET /api/students/{studentID}/ledger
func (h *APIHandler) StudentLedger(w http.ResponseWriter, r *http.Request) {
	id, sc, ok := h.target(w, r, "studentID")
	if !ok {
		return
	}
	out, err := h.billing.Ledger(r.Context(), sc, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"data": out})
}

// POST /api/students/{studentID}/renewals
func (h *APIHandler) CreateRenewal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "studentID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var in billing.RenewalInput
	if err := h.decode(r, &in); err != nil {
		writeErr(w, r, err)
		return
	}
	in.StudentID = id
	res, evts, err := h.billing.CreateRenewal(r.Context(), actor(r), in)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	h.publish(r, evts)
	jsonResponse(w, http.StatusCreated, res)
}

type paymentRequest struct {
	Amount int64      `json:"amount" validate:"required"`
	Method string     `json:"method" validate:"required"`
	PaidOn *util.Date `json:"paid_on"`
	Note   *string    `json:"note"`
}

// POST /api/students/{studentID}/payments
func (h *APIHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "studentID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req paymentRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	paidOn, err := h.bodyDate(req.PaidOn, "paid_on")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, evts, err := h.billing.ConfirmPayment(r.Context(), actor(r), billing.PaymentInput{
		StudentID: id,
		Amount:    req.Amount,
		Method:    req.Method,
		PaidOn:    paidOn,
		Note:      req.Note,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	h.publish(r, evts)
	jsonResponse(w, http.StatusCreated, res)
}

// POST /api/students/{studentID}/consume-session - manual decrement outside
// attendance marking.
func (h *APIHandler) ConsumeSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "studentID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, evts, err := h.billing.DecrementSession(r.Context(), actor(r), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	h.publish(r, evts)
	jsonResponse(w, http.StatusOK, res)
}
