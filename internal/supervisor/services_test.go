package supervisor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"branch-ops/internal/events"
)

type fakeServer struct {
	mu       sync.Mutex
	listen   chan struct{}
	startErr error
	shutdown bool
}

func newFakeServer(startErr error) *fakeServer {
	return &fakeServer{listen: make(chan struct{}), startErr: startErr}
}

func (f *fakeServer) ListenAndServe() error {
	if f.startErr != nil {
		return f.startErr
	}
	<-f.listen
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.shutdown {
		f.shutdown = true
		close(f.listen)
	}
	return nil
}

func TestHTTPServiceShutsDownOnCancel(t *testing.T) {
	srv := newFakeServer(nil)
	svc := NewHTTPService(srv, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if !srv.shutdown {
		t.Error("Shutdown was not called")
	}
}

func TestHTTPServiceStartFailure(t *testing.T) {
	svc := NewHTTPService(newFakeServer(errors.New("address in use")), time.Second)
	err := svc.Serve(context.Background())
	if err == nil || !strings.Contains(err.Error(), "address in use") {
		t.Fatalf("Serve() = %v, want the start failure", err)
	}
}

type fakeBus struct{ err error }

func (b fakeBus) Consume(ctx context.Context, h events.Handler) error {
	if b.err != nil {
		return b.err
	}
	<-ctx.Done()
	return nil
}

func TestConsumerService(t *testing.T) {
	noop := func(context.Context, events.Envelope) error { return nil }

	t.Run("cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewConsumerService("notify", fakeBus{}, noop).Serve(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v", err)
		}
	})

	t.Run("failure is reported for restart", func(t *testing.T) {
		err := NewConsumerService("notify", fakeBus{err: errors.New("router closed")}, noop).Serve(context.Background())
		if err == nil || err.Error() != "notify: router closed" {
			t.Errorf("Serve() = %v", err)
		}
	})
}
