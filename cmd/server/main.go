package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"branch-ops/internal/app"
	"branch-ops/internal/config"
	"branch-ops/internal/logging"
	"branch-ops/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	app.InitLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	if err := a.SeedAdmin(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to seed admin user")
	}

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddMessagingService(supervisor.NewConsumerService("notify", a.Bus, a.Dispatcher().Handle))
	tree.AddAPIService(supervisor.NewHTTPService(a.HTTPServer(), cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("port", cfg.Server.Port).
		Str("environment", cfg.Environment).
		Str("timezone", cfg.Location().String()).
		Bool("notifications", cfg.Notify.Enabled).
		Msg("Server starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor stopped")
	}
	logging.Info().Msg("Server stopped")
}
