package handlers

import (
	"net/http"

	"branch-ops/internal/access"
	"branch-ops/internal/classes"
	"branch-ops/internal/models"
	"branch-ops/internal/util"

	"github.com/google/uuid"
)

type createClassRequest struct {
	BranchID      uuid.UUID  `json:"branch_id" validate:"required"`
	Code          string     `json:"code"`
	Name          string     `json:"name" validate:"required"`
	TeacherID     *uuid.UUID `json:"teacher_id"`
	SubjectID     *uuid.UUID `json:"subject_id"`
	LevelID       *uuid.UUID `json:"level_id"`
	ScheduleDays  string     `json:"schedule_days" validate:"required"`
	StartTime     string     `json:"start_time" validate:"required"`
	EndTime       string     `json:"end_time" validate:"required"`
	StartDate     util.Date  `json:"start_date" validate:"required"`
	TotalSessions int        `json:"total_sessions" validate:"required,min=1,max=500"`
}

// POST /api/classes
func (h *APIHandler) CreateClass(w http.ResponseWriter, r *http.Request) {
	var req createClassRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	start, err := h.bodyDate(&req.StartDate, "start_date")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := h.classes.CreateClass(r.Context(), actor(r), classes.NewClass{
		BranchID:      req.BranchID,
		Code:          req.Code,
		Name:          req.Name,
		TeacherID:     req.TeacherID,
		SubjectID:     req.SubjectID,
		LevelID:       req.LevelID,
		ScheduleDays:  req.ScheduleDays,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		StartDate:     *start,
		TotalSessions: req.TotalSessions,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, c)
}

// GET /api/classes
func (h *APIHandler) ListClasses(w http.ResponseWriter, r *http.Request) {
	sc, err := h.scope(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	teacher, err := queryUUID(r, "teacher_id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out, page, err := h.classes.ListClasses(r.Context(), sc, classes.ListFilter{
		Status:    r.URL.Query().Get("status"),
		TeacherID: teacher,
		Page:      queryInt(r, "page", 1),
		Limit:     queryInt(r, "limit", 20),
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if out == nil {
		out = []*models.Class{}
	}
	jsonList(w, out, page)
}

// GET /api/classes/{classID}
func (h *APIHandler) GetClass(w http.ResponseWriter, r *http.Request) {
	id, sc, ok := h.classTarget(w, r)
	if !ok {
		return
	}
	c, err := h.classes.GetClass(r.Context(), sc, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, c)
}

// POST /api/classes/{classID}/sessions/generate - idempotent.
func (h *APIHandler) GenerateSessions(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "classID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	n, err := h.classes.GenerateSessions(r.Context(), actor(r), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int{"created": n})
}

// GET /api/classes/{classID}/sessions
func (h *APIHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	id, sc, ok := h.classTarget(w, r)
	if !ok {
		return
	}
	out, err := h.classes.ListSessions(r.Context(), sc, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"data": out})
}

type enrollRequest struct {
	StudentID uuid.UUID `json:"student_id" validate:"required"`
}

// POST /api/classes/{classID}/students
func (h *APIHandler) EnrollStudent(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "classID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req enrollRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.classes.EnrollStudent(r.Context(), actor(r), id, req.StudentID); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/classes/{classID}/students/{studentID}
func (h *APIHandler) RemoveStudent(w http.ResponseWriter, r *http.Request) {
	classID, err := pathUUID(r, "classID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	studentID, err := pathUUID(r, "studentID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.classes.RemoveStudent(r.Context(), actor(r), classID, studentID); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/classes/{classID}/students
func (h *APIHandler) Roster(w http.ResponseWriter, r *http.Request) {
	id, sc, ok := h.classTarget(w, r)
	if !ok {
		return
	}
	out, err := h.classes.Roster(r.Context(), sc, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"data": out})
}

// GET /api/sessions/{sessionID}
func (h *APIHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, sc, ok := h.sessionTarget(w, r)
	if !ok {
		return
	}
	s, err := h.classes.GetSession(r.Context(), sc, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, s)
}

type substituteRequest struct {
	TeacherID *uuid.UUID `json:"teacher_id"`
}

// PUT /api/sessions/{sessionID}/substitute - sets or clears the substitute.
func (h *APIHandler) SetSubstitute(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "sessionID")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req substituteRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.classes.SetSubstitute(r.Context(), actor(r), id, req.TeacherID); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// classTarget parses the class id and the caller's full visibility scope.
// Reads of a single object use the full set rather than the request filter.
func (h *APIHandler) classTarget(w http.ResponseWriter, r *http.Request) (uuid.UUID, access.Scope, bool) {
	return h.target(w, r, "classID")
}

func (h *APIHandler) sessionTarget(w http.ResponseWriter, r *http.Request) (uuid.UUID, access.Scope, bool) {
	return h.target(w, r, "sessionID")
}
