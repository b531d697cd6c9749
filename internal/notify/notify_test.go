package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"branch-ops/internal/events"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func envelope(t *testing.T, evt events.Event) events.Envelope {
	t.Helper()
	raw, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

func TestMoney(t *testing.T) {
	tests := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1500000:  "1,500,000",
		-250000:  "-250,000",
		12345678: "12,345,678",
	}
	for in, want := range tests {
		if got := Money(in); got != want {
			t.Errorf("Money(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormat(t *testing.T) {
	branch := uuid.New()
	warning := events.New(events.TypeAttendanceWarning, branch, events.AttendanceWarning{
		StudentName: "Minh", StudentCode: "Q1-HS00001", ClassName: "Starters A",
		ParentName: "Lan", ParentPhone: "0901234567", ParentEmail: "lan@example.com",
		SessionDate: "2025-06-02", LateCount: 1, AbsentCount: 2,
	})

	t.Run("warning goes to chat and parent", func(t *testing.T) {
		msgs, err := Format(envelope(t, warning), "-100123")
		if err != nil {
			t.Fatalf("Format() error = %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("got %d messages, want 2", len(msgs))
		}
		if msgs[0].Destination.Channel != ChannelTelegram || msgs[0].Destination.ChatID != "-100123" {
			t.Errorf("unexpected chat destination %+v", msgs[0].Destination)
		}
		if !strings.Contains(msgs[0].Text, "Late: 1, Absent: 2") {
			t.Errorf("chat text missing tallies: %q", msgs[0].Text)
		}
		if msgs[1].Destination.Email != "lan@example.com" || msgs[1].Destination.Subject == "" {
			t.Errorf("unexpected email destination %+v", msgs[1].Destination)
		}
	})

	t.Run("no chat configured", func(t *testing.T) {
		msgs, err := Format(envelope(t, warning), "")
		if err != nil {
			t.Fatalf("Format() error = %v", err)
		}
		if len(msgs) != 1 || msgs[0].Destination.Channel != ChannelEmail {
			t.Errorf("expected only the email, got %+v", msgs)
		}
	})

	t.Run("payment", func(t *testing.T) {
		evt := events.New(events.TypePaymentConfirmed, branch, events.PaymentConfirmed{
			StudentName: "Minh", StudentCode: "Q1-HS00001", Amount: 300000, Method: "cash",
			ActualRevenue: 300000, FeeTotal: 900000, FeeStatus: "partial",
		})
		msgs, err := Format(envelope(t, evt), "chat")
		if err != nil || len(msgs) != 1 {
			t.Fatalf("Format() = %v, %v", msgs, err)
		}
		if !strings.Contains(msgs[0].Text, "300,000 via cash") || !strings.Contains(msgs[0].Text, "900,000") {
			t.Errorf("unexpected text %q", msgs[0].Text)
		}
	})

	t.Run("level without next", func(t *testing.T) {
		evt := events.New(events.TypeLevelCompleted, branch, events.LevelCompleted{StudentName: "Minh", CompletedName: "Flyers"})
		msgs, err := Format(envelope(t, evt), "chat")
		if err != nil || len(msgs) != 1 {
			t.Fatalf("Format() = %v, %v", msgs, err)
		}
		if !strings.Contains(msgs[0].Text, "no further level") {
			t.Errorf("unexpected text %q", msgs[0].Text)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := Format(events.Envelope{Type: "bogus"}, "chat"); err == nil {
			t.Error("expected an error for an unknown event type")
		}
	})
}

func TestTelegramSender(t *testing.T) {
	var mu sync.Mutex
	var got sendMessageRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.ChatID == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender(TelegramConfig{APIURL: srv.URL + "/", Token: "TOKEN", Timeout: time.Second})
	ctx := context.Background()

	if err := s.Send(ctx, Message{Text: "hello", Destination: Destination{Channel: ChannelTelegram, ChatID: "42"}}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	mu.Lock()
	if path != "/botTOKEN/sendMessage" || got.ChatID != "42" || got.Text != "hello" {
		t.Errorf("unexpected request path=%s body=%+v", path, got)
	}
	mu.Unlock()

	err := s.Send(ctx, Message{Text: "x", Destination: Destination{ChatID: "bad"}})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("expected API error, got %v", err)
	}

	if err := s.Send(ctx, Message{Text: "x"}); err == nil {
		t.Error("expected an error without a chat id")
	}
}

func TestTelegramBreakerOpens(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewTelegramSender(TelegramConfig{APIURL: srv.URL, Token: "T", Timeout: time.Second})
	msg := Message{Text: "x", Destination: Destination{ChatID: "1"}}
	for i := 0; i < 8; i++ {
		_ = s.Send(context.Background(), msg)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 5 {
		t.Errorf("server saw %d calls, want 5 before the breaker opened", calls)
	}
}

func TestSMTPSender(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "mail.example.com", Port: 587, Username: "u", Password: "p", From: "ops@example.com"})
	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	msg := Message{Text: "line one\nline two", Destination: Destination{Channel: ChannelEmail, Email: "p@example.com", Subject: "Hi"}}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotAddr != "mail.example.com:587" || len(gotTo) != 1 || gotTo[0] != "p@example.com" {
		t.Errorf("unexpected envelope %s %v", gotAddr, gotTo)
	}
	body := string(gotMsg)
	if !strings.Contains(body, "Subject: Hi\r\n") || !strings.Contains(body, "line one\r\nline two") {
		t.Errorf("unexpected body %q", body)
	}

	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	if err := s.Send(context.Background(), msg); err == nil {
		t.Error("expected send failure to surface")
	}
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return r.err
}

type staticChats map[uuid.UUID]string

func (s staticChats) ChatIDs(context.Context) (map[uuid.UUID]string, error) {
	return s, nil
}

func TestDispatcher(t *testing.T) {
	branch := uuid.New()
	other := uuid.New()
	chat := &recordingSender{}
	mail := &recordingSender{err: errors.New("smtp down")}

	d := NewDispatcher(staticChats{branch: "branch-chat"}, "default-chat")
	d.Register(ChannelTelegram, chat)
	d.Register(ChannelEmail, mail)

	warning := events.New(events.TypeAttendanceWarning, branch, events.AttendanceWarning{
		StudentName: "Minh", ParentEmail: "lan@example.com", LateCount: 3,
	})
	if err := d.Handle(context.Background(), envelope(t, warning)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(chat.msgs) != 1 || chat.msgs[0].Destination.ChatID != "branch-chat" {
		t.Errorf("chat messages = %+v", chat.msgs)
	}
	if len(mail.msgs) != 1 {
		t.Errorf("email should still be attempted, got %d", len(mail.msgs))
	}

	converted := events.New(events.TypeLeadConverted, other, events.LeadConverted{LeadCode: "Q1-00001"})
	if err := d.Handle(context.Background(), envelope(t, converted)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(chat.msgs) != 2 || chat.msgs[1].Destination.ChatID != "default-chat" {
		t.Errorf("branch without chat should use the default, got %+v", chat.msgs)
	}
}
