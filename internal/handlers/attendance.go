package handlers

import (
	"net/http"

	"branch-ops/internal/attendance"
)

// GET /api/sessions/{sessionID}/can-mark
func (h *APIHandler) CanMarkAttendance(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "sessionID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	d, err := h.attendance.CanMarkAttendance(r.Context(), actor(r), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, d)
}

type markRequest struct {
	Records []attendance.Record `json:"records" validate:"required,min=1,dive"`
}

// POST /api/sessions/{sessionID}/attendance - saves a batch of marks.
// Warnings raised are returned and also published for notification.
func (h *APIHandler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "sessionID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req markRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	res, evts, err := h.attendance.MarkAttendance(r.Context(), actor(r), id, req.Records)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	h.publish(r, evts)
	jsonResponse(w, http.StatusOK, res)
}

// GET /api/sessions/{sessionID}/attendance
func (h *APIHandler) SessionAttendance(w http.ResponseWriter, r *http.Request) {
	id, sc, ok := h.sessionTarget(w, r)
	if !ok {
		return
	}
	out, err := h.attendance.SessionAttendance(r.Context(), sc, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"data": out})
}

// GET /api/classes/{classID}/report - per-student attendance counts.
func (h *APIHandler) ClassReport(w http.ResponseWriter, r *http.Request) {
	id, sc, ok := h.classTarget(w, r)
	if !ok {
		return
	}
	out, err := h.attendance.GetClassReport(r.Context(), sc, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"data": out})
}

// GET /api/attendance/warnings - students at or over the warning threshold.
func (h *APIHandler) AttendanceWarnings(w http.ResponseWriter, r *http.Request) {
	sc, err := h.scope(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out, err := h.attendance.GetStudentsWithWarnings(r.Context(), sc)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"data": out})
}
