package handlers

import (
	"net/http"
	"time"

	"branch-ops/internal/access"
	"branch-ops/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	CORSOrigins []string
	// LoginRateLimit is the number of login attempts allowed per IP per minute.
	// Zero disables the limit.
	LoginRateLimit int
}

// NewRouter wires every endpoint under /api. auth normally is the identity
// service; tests pass a stub.
func NewRouter(h *APIHandler, auth middleware.Authenticator, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", BranchHeader, chimiddleware.RequestIDHeader},
		ExposedHeaders:   []string{chimiddleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	loginLimit := func(next http.Handler) http.Handler { return next }
	if cfg.LoginRateLimit > 0 {
		loginLimit = httprate.LimitByRealIP(cfg.LoginRateLimit, time.Minute)
	}

	r.Route("/api", func(r chi.Router) {
		r.With(loginLimit).Post("/auth/login", h.Login)
		r.Post("/auth/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(auth))

			r.Get("/me", h.GetMe)

			r.Route("/branches", func(r chi.Router) {
				r.Get("/", h.ListBranches)
				r.With(middleware.RequireCapability(access.ManageBranches)).Post("/", h.CreateBranch)
				r.With(middleware.RequireCapability(access.ManageBranches)).Delete("/{branchID}", h.DeactivateBranch)
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(middleware.RequireCapability(access.ManageUsers))
				r.Post("/", h.CreateUser)
				r.Get("/{userID}", h.GetUser)
				r.Put("/{userID}/manager", h.SetManager)
				r.Delete("/{userID}", h.DeactivateUser)
			})

			r.Route("/leads", func(r chi.Router) {
				r.Get("/", h.ListLeads)
				r.Post("/", h.CreateLead)
				r.Get("/check-phone", h.CheckPhone)
				r.Get("/{leadID}", h.GetLead)
				r.Post("/{leadID}/attended", h.MarkLeadAttended)
				r.Post("/{leadID}/no-show", h.MarkLeadNoShow)
				r.Post("/{leadID}/trial", h.AssignTrial)
				r.Post("/{leadID}/complete-session", h.CompleteLeadSession)
				r.Post("/{leadID}/cancel", h.CancelLead)
				r.Put("/{leadID}/feedback", h.UpdateLeadFeedback)
				r.Post("/{leadID}/convert", h.ConvertLead)
			})

			r.Route("/classes", func(r chi.Router) {
				r.Get("/", h.ListClasses)
				r.Post("/", h.CreateClass)
				r.Get("/{classID}", h.GetClass)
				r.Get("/{classID}/sessions", h.ListSessions)
				r.Post("/{classID}/sessions/generate", h.GenerateSessions)
				r.Get("/{classID}/students", h.Roster)
				r.Post("/{classID}/students", h.EnrollStudent)
				r.Delete("/{classID}/students/{studentID}", h.RemoveStudent)
				r.Get("/{classID}/report", h.ClassReport)
			})

			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Get("/can-mark", h.CanMarkAttendance)
				r.Get("/attendance", h.SessionAttendance)
				r.Post("/attendance", h.MarkAttendance)
				r.Put("/substitute", h.SetSubstitute)
			})

			r.With(middleware.RequireCapability(access.ViewReports, access.MarkAnyAttendance)).
				Get("/attendance/warnings", h.AttendanceWarnings)

			r.Route("/packages", func(r chi.Router) {
				r.Get("/", h.ListPackages)
				r.Get("/{packageID}/price", h.PackagePrice)
				r.Get("/{packageID}/sessions", h.PackageSessions)
			})

			r.Route("/students", func(r chi.Router) {
				r.Get("/", h.ListStudents)
				r.Get("/{studentID}", h.GetStudent)
				r.Get("/{studentID}/ledger", h.StudentLedger)
				r.Post("/{studentID}/renewals", h.CreateRenewal)
				r.Post("/{studentID}/payments", h.ConfirmPayment)
				r.Post("/{studentID}/consume-session", h.ConsumeSession)
			})
		})
	})

	return r
}
