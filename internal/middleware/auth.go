package middleware

import (
	"context"
	"net/http"
	"strings"

	"branch-ops/internal/access"
	"branch-ops/internal/logging"

	"github.com/goccy/go-json"
)

type contextKey string

const actorKey contextKey = "actor"

// SessionCookie is read when no Authorization header is sent, so browser
// clients can keep the token in an HttpOnly cookie.
const SessionCookie = "branch_ops_session"

// Authenticator resolves a bearer token into the acting user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (access.Actor, error)
}

// WithActor stores actor in ctx.
func WithActor(ctx context.Context, actor access.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor returns the authenticated actor for r.
func GetActor(r *http.Request) (access.Actor, bool) {
	a, ok := r.Context().Value(actorKey).(access.Actor)
	return a, ok
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// RequireAuth rejects requests without a valid token with 401 and puts the
// resolved actor in the request context.
func RequireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			actor, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				logging.Ctx(r.Context()).Debug().Err(err).Msg("authentication failed")
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := WithActor(r.Context(), actor)
			ctx = logging.ContextWithActorID(ctx, actor.ID.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability ensures the actor holds at least one of caps.
func RequireCapability(caps ...access.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := GetActor(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !actor.CanAny(caps...) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
