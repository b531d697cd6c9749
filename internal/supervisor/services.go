package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"branch-ops/internal/events"
	"branch-ops/internal/logging"
)

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs a server until ctx is cancelled, then shuts it down
// gracefully within the timeout.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		}
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-server" }

// Consumer subscribes a handler to the bus for as long as it is supervised.
type Consumer interface {
	Consume(ctx context.Context, h events.Handler) error
}

type ConsumerService struct {
	name    string
	bus     Consumer
	handler events.Handler
}

func NewConsumerService(name string, bus Consumer, h events.Handler) *ConsumerService {
	return &ConsumerService{name: name, bus: bus, handler: h}
}

func (s *ConsumerService) Serve(ctx context.Context) error {
	logging.Info().Str("consumer", s.name).Msg("Event consumer started")
	err := s.bus.Consume(ctx, s.handler)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("consumer stopped")
	}
	return fmt.Errorf("%s: %w", s.name, err)
}

func (s *ConsumerService) String() string { return s.name }
