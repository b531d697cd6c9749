package notify

import (
	"context"

	"branch-ops/internal/events"
	"branch-ops/internal/logging"
	"branch-ops/internal/metrics"

	"github.com/google/uuid"
)

// ChatResolver maps branches to their staff chat.
type ChatResolver interface {
	ChatIDs(ctx context.Context) (map[uuid.UUID]string, error)
}

// LogSender only logs. It stands in for a channel that is not configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	logging.Ctx(ctx).Info().
		Str("channel", msg.Destination.Channel).
		Str("chat_id", msg.Destination.ChatID).
		Str("email", msg.Destination.Email).
		Str("text", msg.Text).
		Msg("Notification (not delivered)")
	return nil
}

// Dispatcher turns bus events into messages and hands each to the sender for
// its channel. Delivery failures are logged and counted; they never reach
// the business operation that raised the event.
type Dispatcher struct {
	senders     map[string]Sender
	chats       ChatResolver
	defaultChat string
}

func NewDispatcher(chats ChatResolver, defaultChat string) *Dispatcher {
	return &Dispatcher{
		senders:     make(map[string]Sender),
		chats:       chats,
		defaultChat: defaultChat,
	}
}

// Register sets the sender for a channel.
func (d *Dispatcher) Register(channel string, s Sender) {
	d.senders[channel] = s
}

// Handle is an events.Handler. It always returns nil once the event is
// understood; per-message errors are only logged.
func (d *Dispatcher) Handle(ctx context.Context, env events.Envelope) error {
	chatID := d.chatFor(ctx, env.BranchID)
	msgs, err := Format(env, chatID)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		d.deliver(ctx, env.Type, msg)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, eventType string, msg Message) {
	channel := msg.Destination.Channel
	s, ok := d.senders[channel]
	if !ok {
		s = LogSender{}
	}
	err := s.Send(ctx, msg)
	metrics.RecordNotification(channel, err)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("channel", channel).
			Str("event_type", eventType).
			Msg("Notification delivery failed")
	}
}

func (d *Dispatcher) chatFor(ctx context.Context, branchID uuid.UUID) string {
	if d.chats != nil {
		ids, err := d.chats.ChatIDs(ctx)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("failed to resolve branch chats")
		} else if id, ok := ids[branchID]; ok && id != "" {
			return id
		}
	}
	return d.defaultChat
}
