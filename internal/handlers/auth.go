package handlers

import (
	"net/http"

	"branch-ops/internal/logging"
	"branch-ops/internal/middleware"
	"branch-ops/internal/models"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// POST /api/auth/login - exchanges credentials for a bearer token. The token
// is also set as an HttpOnly cookie for browser clients.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}

	res, err := h.identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		logging.Ctx(r.Context()).Info().Str("username", req.Username).Err(err).Msg("Login rejected")
		writeErr(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	jsonResponse(w, http.StatusOK, res)
}

// POST /api/auth/logout - clears the session cookie.
func (h *APIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	User         *models.User `json:"user"`
	Capabilities []string     `json:"capabilities"`
}

// GET /api/me - returns the acting user and what they may do.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	user, err := h.identity.GetUser(r.Context(), a.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, meResponse{User: user, Capabilities: a.Capabilities()})
}
