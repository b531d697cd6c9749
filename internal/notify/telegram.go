package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"branch-ops/internal/logging"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Sender delivers one formatted message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// TelegramSender posts to the Bot API sendMessage method. Calls are
// rate limited and go through a circuit breaker so an unreachable API fails
// fast instead of stalling the subscriber.
type TelegramSender struct {
	client  *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
}

type TelegramConfig struct {
	APIURL        string
	Token         string
	RatePerSecond float64
	Timeout       time.Duration
}

func NewTelegramSender(cfg TelegramConfig) *TelegramSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &TelegramSender{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		token:   cfg.Token,
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "telegram",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			},
		}),
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	if msg.Destination.ChatID == "" {
		return fmt.Errorf("telegram message has no chat id")
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	_, err := t.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, t.post(ctx, msg)
	})
	return err
}

func (t *TelegramSender) post(ctx context.Context, msg Message) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: msg.Destination.ChatID, Text: msg.Text})
	if err != nil {
		return fmt.Errorf("failed to encode telegram request: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out apiResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, desc)
	}
	return nil
}
