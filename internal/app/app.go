// Package app builds the engines and infrastructure shared by the server and
// the opsctl command from one Config.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"branch-ops/internal/access"
	"branch-ops/internal/attendance"
	"branch-ops/internal/billing"
	"branch-ops/internal/branches"
	"branch-ops/internal/classes"
	"branch-ops/internal/config"
	"branch-ops/internal/db"
	"branch-ops/internal/events"
	"branch-ops/internal/handlers"
	"branch-ops/internal/identity"
	"branch-ops/internal/leads"
	"branch-ops/internal/logging"
	"branch-ops/internal/notify"
)

type App struct {
	Config     *config.Config
	Gateway    *db.Gateway
	Bus        *events.Bus
	Identity   *identity.Service
	Branches   *branches.Service
	Leads      *leads.Engine
	Classes    *classes.Service
	Attendance *attendance.Engine
	Billing    *billing.Engine
}

// InitLogging applies the log section of cfg to the global logger.
func InitLogging(cfg *config.Config) {
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Caller: cfg.Log.Caller})
}

// New connects to the database, optionally migrates it, and constructs every
// engine. Close releases the pool and the bus.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	conn, err := db.Connect(ctx, cfg.Database.URL, db.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := db.RunMigrations(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	tokens, err := identity.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	gw := db.NewGateway(conn)
	loc := cfg.Location()
	return &App{
		Config:     cfg,
		Gateway:    gw,
		Bus:        events.NewBus(256),
		Identity:   identity.NewService(gw, tokens),
		Branches:   branches.NewService(gw),
		Leads:      leads.NewEngine(gw),
		Classes:    classes.NewService(gw, loc),
		Attendance: attendance.NewEngine(gw, loc),
		Billing:    billing.NewEngine(gw, loc),
	}, nil
}

func (a *App) Close() {
	if err := a.Bus.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close event bus")
	}
	if err := a.Gateway.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close database")
	}
}

// SeedAdmin creates the configured bootstrap administrator if missing.
func (a *App) SeedAdmin(ctx context.Context) error {
	created, err := a.Identity.SeedAdmin(ctx, a.Config.Auth.AdminUsername, a.Config.Auth.AdminPassword)
	if err != nil {
		return err
	}
	if created && a.Config.IsProduction() {
		logging.Warn().Str("username", a.Config.Auth.AdminUsername).Msg("Default admin created; change its password")
	}
	return nil
}

// Dispatcher builds the notification dispatcher. With notifications disabled
// every channel falls back to the log-only sender.
func (a *App) Dispatcher() *notify.Dispatcher {
	n := a.Config.Notify
	d := notify.NewDispatcher(a.Branches, n.DefaultChatID)
	if !n.Enabled {
		d.Register(notify.ChannelTelegram, notify.LogSender{})
		d.Register(notify.ChannelEmail, notify.LogSender{})
		return d
	}
	if n.TelegramToken != "" {
		d.Register(notify.ChannelTelegram, notify.NewTelegramSender(notify.TelegramConfig{
			APIURL:        n.TelegramAPIURL,
			Token:         n.TelegramToken,
			RatePerSecond: n.RatePerSecond,
			Timeout:       n.Timeout,
		}))
	}
	if n.SMTP.Host != "" {
		d.Register(notify.ChannelEmail, notify.NewSMTPSender(notify.SMTPConfig{
			Host:     n.SMTP.Host,
			Port:     n.SMTP.Port,
			Username: n.SMTP.Username,
			Password: n.SMTP.Password,
			From:     n.SMTP.From,
		}))
	}
	return d
}

// Router builds the HTTP API.
func (a *App) Router() http.Handler {
	h := handlers.NewAPIHandler(handlers.Deps{
		Identity:   a.Identity,
		Branches:   a.Branches,
		Leads:      a.Leads,
		Classes:    a.Classes,
		Attendance: a.Attendance,
		Billing:    a.Billing,
		Events:     a.Bus,
		Resolver:   access.Resolver{Strict: a.Config.Access.StrictBranchScope},
		DB:         a.Gateway.DB,
		Location:   a.Config.Location(),
	})
	return handlers.NewRouter(h, a.Identity, handlers.RouterConfig{
		CORSOrigins:    a.Config.Server.CORSOrigins,
		LoginRateLimit: a.Config.Server.LoginRateLimit,
	})
}

// HTTPServer returns the configured server around Router.
func (a *App) HTTPServer() *http.Server {
	s := a.Config.Server
	return &http.Server{
		Addr:              net.JoinHostPort("", s.Port),
		Handler:           a.Router(),
		ReadTimeout:       s.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.WriteTimeout,
	}
}
