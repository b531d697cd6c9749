package notify

import (
	"fmt"
	"strings"

	"branch-ops/internal/events"
)

const (
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
)

// Destination says where a message goes. ChatID is set for chat messages,
// Email and Subject for mail.
type Destination struct {
	Channel string
	ChatID  string
	Email   string
	Subject string
}

// Message is a fully formatted outbound notification.
type Message struct {
	Text        string
	Destination Destination
}

// Format renders an event into the messages it produces. chatID is the
// staff chat for the event's branch; an empty chatID drops the chat message.
// Parent emails are added for warnings and expiring fees when known.
func Format(env events.Envelope, chatID string) ([]Message, error) {
	var msgs []Message
	chat := func(text string) {
		if chatID != "" {
			msgs = append(msgs, Message{Text: text, Destination: Destination{Channel: ChannelTelegram, ChatID: chatID}})
		}
	}
	mail := func(to, subject, text string) {
		if strings.TrimSpace(to) != "" {
			msgs = append(msgs, Message{Text: text, Destination: Destination{Channel: ChannelEmail, Email: to, Subject: subject}})
		}
	}

	switch env.Type {
	case events.TypeAttendanceWarning:
		var w events.AttendanceWarning
		if err := env.Decode(&w); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", env.Type, err)
		}
		chat(fmt.Sprintf("⚠️ Attendance warning\nStudent: %s (%s)\nClass: %s\nLate: %d, Absent: %d\nSession: %s\nParent: %s %s",
			w.StudentName, w.StudentCode, w.ClassName, w.LateCount, w.AbsentCount, w.SessionDate, w.ParentName, w.ParentPhone))
		mail(w.ParentEmail, "Attendance notice for "+w.StudentName,
			fmt.Sprintf("Dear %s,\n\n%s has been late %d time(s) and absent %d time(s) in %s. The latest was on %s.\n\nPlease contact the center if you have any questions.",
				fallback(w.ParentName, "parent"), w.StudentName, w.LateCount, w.AbsentCount, w.ClassName, w.SessionDate))

	case events.TypeLeadConverted:
		var c events.LeadConverted
		if err := env.Decode(&c); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", env.Type, err)
		}
		chat(fmt.Sprintf("🎉 Lead %s converted\nStudent: %s (%s)\nAwaiting class assignment", c.LeadCode, c.StudentName, c.StudentCode))

	case events.TypePaymentConfirmed:
		var p events.PaymentConfirmed
		if err := env.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", env.Type, err)
		}
		chat(fmt.Sprintf("💰 Payment confirmed\nStudent: %s (%s)\nAmount: %s via %s\nRevenue: %s / %s (%s)",
			p.StudentName, p.StudentCode, Money(p.Amount), p.Method, Money(p.ActualRevenue), Money(p.FeeTotal), p.FeeStatus))

	case events.TypeFeeExpiring:
		var f events.FeeExpiring
		if err := env.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", env.Type, err)
		}
		chat(fmt.Sprintf("⏳ Fee %s\nStudent: %s (%s)\nRemaining sessions: %d\nParent phone: %s",
			strings.ReplaceAll(f.FeeStatus, "_", " "), f.StudentName, f.StudentCode, f.RemainingSessions, f.ParentPhone))
		mail(f.ParentEmail, "Tuition renewal for "+f.StudentName,
			fmt.Sprintf("Dear parent,\n\n%s has %d session(s) remaining in the current package. Please contact the center to renew.",
				f.StudentName, f.RemainingSessions))

	case events.TypeLevelCompleted:
		var l events.LevelCompleted
		if err := env.Decode(&l); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", env.Type, err)
		}
		next := "no further level"
		if l.NextName != "" {
			next = "next: " + l.NextName
		}
		chat(fmt.Sprintf("🎓 %s completed %s (%s)", l.StudentName, l.CompletedName, next))

	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	return msgs, nil
}

// Money formats an amount with thousands separators: 1500000 -> "1,500,000".
func Money(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d", v)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
