package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"branch-ops/internal/access"
	"branch-ops/internal/attendance"
	"branch-ops/internal/billing"
	"branch-ops/internal/branches"
	"branch-ops/internal/classes"
	"branch-ops/internal/events"
	"branch-ops/internal/identity"
	"branch-ops/internal/leads"
	"branch-ops/internal/logging"
	"branch-ops/internal/middleware"
	"branch-ops/internal/models"
	"branch-ops/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// BranchHeader carries an explicit branch context. The branch_id query
// parameter is accepted as well.
const BranchHeader = "X-Branch-ID"

const maxBodyBytes = 1 << 20

// Pinger reports database reachability for /healthz.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// APIHandler holds the engines every endpoint dispatches to.
type APIHandler struct {
	identity   *identity.Service
	branches   *branches.Service
	leads      *leads.Engine
	classes    *classes.Service
	attendance *attendance.Engine
	billing    *billing.Engine
	events     events.Publisher
	resolver   access.Resolver
	db         Pinger
	loc        *time.Location
	validate   *validator.Validate
}

type Deps struct {
	Identity   *identity.Service
	Branches   *branches.Service
	Leads      *leads.Engine
	Classes    *classes.Service
	Attendance *attendance.Engine
	Billing    *billing.Engine
	Events     events.Publisher
	Resolver   access.Resolver
	DB         Pinger
	// Location reads date query parameters; UTC when nil.
	Location *time.Location
}

func NewAPIHandler(d Deps) *APIHandler {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &APIHandler{
		identity:   d.Identity,
		branches:   d.Branches,
		leads:      d.Leads,
		classes:    d.Classes,
		attendance: d.Attendance,
		billing:    d.Billing,
		events:     d.Events,
		resolver:   d.Resolver,
		db:         d.DB,
		loc:        loc,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// JSON response helpers
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

type listResponse struct {
	Data       interface{} `json:"data"`
	Pagination models.Page `json:"pagination"`
}

func jsonList(w http.ResponseWriter, data interface{}, page models.Page) {
	jsonResponse(w, http.StatusOK, listResponse{Data: data, Pagination: page})
}

// statusFor maps a business error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrInactiveUser),
		errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized
	}
	switch models.KindOf(err) {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindInvalidState:
		return http.StatusUnprocessableEntity
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindPermissionDenied:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeErr renders err. Business errors carry their message and details;
// anything else is logged and hidden behind a generic 500.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
		jsonError(w, status, "internal server error")
		return
	}

	body := map[string]interface{}{"error": err.Error()}
	if kind := models.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	var be *models.Error
	if errors.As(err, &be) && len(be.Details) > 0 {
		body["details"] = be.Details
	}
	var pe *models.PhoneAlreadyExistsError
	if errors.As(err, &pe) {
		body["details"] = map[string]string{
			"phone":              pe.Phone,
			"existing_lead_id":   pe.ExistingLeadID,
			"existing_lead_code": pe.ExistingLeadCode,
		}
	}
	jsonResponse(w, status, body)
}

// decode reads a JSON body into v and validates its struct tags.
func (h *APIHandler) decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return models.Validation("request body is required")
		}
		return models.Validation("invalid JSON body: %v", err)
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
			}
			return models.Validation("invalid fields: %s", strings.Join(fields, ", ")).
				WithDetail("fields", fields)
		}
		return models.Validation("%v", err)
	}
	return nil
}

// actor is always present behind RequireAuth.
func actor(r *http.Request) access.Actor {
	a, _ := middleware.GetActor(r)
	return a
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, models.Validation("invalid %s", name)
	}
	return id, nil
}

func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, models.Validation("invalid %s", name)
	}
	return &id, nil
}

func (h *APIHandler) queryDate(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	d, err := util.ParseDateLocal(raw, h.loc)
	if err != nil {
		return nil, models.Validation("%s must be YYYY-MM-DD", name)
	}
	return &d, nil
}

// bodyDate resolves an optional body date in the handler's zone.
func (h *APIHandler) bodyDate(d *util.Date, field string) (*time.Time, error) {
	if d == nil || *d == "" {
		return nil, nil
	}
	t, err := d.In(h.loc)
	if err != nil {
		return nil, models.Validation("%s must be YYYY-MM-DD", field)
	}
	return &t, nil
}

func queryInt(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil {
		return v
	}
	return def
}

// requestedBranch reads the optional explicit branch context.
func requestedBranch(r *http.Request) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.Header.Get(BranchHeader))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("branch_id"))
	}
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, models.Validation("invalid branch id")
	}
	return &id, nil
}

// scope resolves the branch scope of a read.
func (h *APIHandler) scope(r *http.Request) (access.Scope, error) {
	requested, err := requestedBranch(r)
	if err != nil {
		return access.Scope{}, err
	}
	return h.resolver.Resolve(actor(r), requested)
}

// branchFor picks the branch a write targets: the explicit one when given,
// otherwise the actor's single resolved branch.
func (h *APIHandler) branchFor(r *http.Request, explicit uuid.UUID) (uuid.UUID, error) {
	if explicit != uuid.Nil {
		return explicit, nil
	}
	sc, err := h.scope(r)
	if err != nil {
		return uuid.Nil, err
	}
	if id, ok := sc.Single(); ok {
		return id, nil
	}
	return uuid.Nil, models.Validation("branch_id is required")
}

// target parses the named path id and returns the caller's full visibility
// scope for a single-object read.
func (h *APIHandler) target(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, access.Scope, bool) {
	id, err := pathUUID(r, param)
	if err != nil {
		writeErr(w, r, err)
		return uuid.Nil, access.Scope{}, false
	}
	return id, access.ForActor(actor(r)), true
}

// publish hands committed events to the bus.
func (h *APIHandler) publish(r *http.Request, evts []events.Event) {
	if h.events != nil && len(evts) > 0 {
		h.events.Publish(r.Context(), evts...)
	}
}

// GET /healthz
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Health check failed")
			jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
