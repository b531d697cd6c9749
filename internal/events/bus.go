package events

import (
	"context"
	"fmt"
	"time"

	"branch-ops/internal/logging"
	"branch-ops/internal/metrics"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Envelope is the decoded form of a bus message. Payload stays raw until the
// consumer picks the concrete type from Type.
type Envelope struct {
	Type       string          `json:"type"`
	BranchID   uuid.UUID       `json:"branch_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher is what handlers need after a commit.
type Publisher interface {
	Publish(ctx context.Context, evts ...Event)
}

// Bus is an in-process pub/sub on a watermill GoChannel. Publishing never
// blocks on subscribers beyond the channel buffer.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter
}

func NewBus(buffer int64) *Bus {
	logger := logging.NewWatermillAdapter("events")
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: buffer}, logger),
		logger: logger,
	}
}

// Publish marshals and publishes each event. Failures are logged and
// dropped; a committed business operation is never undone by a bus error.
func (b *Bus) Publish(ctx context.Context, evts ...Event) {
	for _, evt := range evts {
		payload, err := json.Marshal(evt)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("event_type", evt.Type).Msg("failed to marshal event")
			continue
		}
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set("type", evt.Type)
		if rid := logging.RequestIDFromContext(ctx); rid != "" {
			msg.Metadata.Set("request_id", rid)
		}
		if err := b.pubsub.Publish(Topic, msg); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("event_type", evt.Type).Msg("failed to publish event")
			continue
		}
		metrics.EventsPublished.WithLabelValues(evt.Type).Inc()
	}
}

// Handler consumes one decoded event.
type Handler func(ctx context.Context, env Envelope) error

// Consume subscribes h to the bus and blocks until ctx is cancelled. Every
// message is acked: handler errors are logged, not redelivered.
func (b *Bus) Consume(ctx context.Context, h Handler) error {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, b.logger)
	if err != nil {
		return fmt.Errorf("failed to create event router: %w", err)
	}
	router.AddNoPublisherHandler("notify", Topic, b.pubsub, func(msg *message.Message) error {
		var env Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			logging.Error().Err(err).Str("message_uuid", msg.UUID).Msg("failed to decode event")
			return nil
		}
		mctx := logging.ContextWithRequestID(msg.Context(), msg.Metadata.Get("request_id"))
		if err := h(mctx, env); err != nil {
			logging.Ctx(mctx).Warn().Err(err).Str("event_type", env.Type).Msg("event handler failed")
		}
		return nil
	})
	return router.Run(ctx)
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}
