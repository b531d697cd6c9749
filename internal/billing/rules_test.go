package billing

import (
	"testing"
	"time"

	"branch-ops/internal/models"
)

func TestPromoDiscount(t *testing.T) {
	tests := []struct {
		name  string
		base  int64
		promo *models.Promotion
		want  int64
	}{
		{"no promotion", 1000000, nil, 0},
		{"ten percent", 1000000, &models.Promotion{DiscountType: DiscountPercent, DiscountValue: 10}, 100000},
		{"percent rounds half up", 1005, &models.Promotion{DiscountType: DiscountPercent, DiscountValue: 10}, 101},
		{"percent rounds down below half", 1004, &models.Promotion{DiscountType: DiscountPercent, DiscountValue: 10}, 100},
		{"flat amount", 1000000, &models.Promotion{DiscountType: DiscountAmount, DiscountValue: 250000}, 250000},
		{"flat amount capped at base", 100000, &models.Promotion{DiscountType: DiscountAmount, DiscountValue: 250000}, 100000},
		{"over one hundred percent", 500, &models.Promotion{DiscountType: DiscountPercent, DiscountValue: 150}, 500},
		{"unknown type", 1000, &models.Promotion{DiscountType: "bogus", DiscountValue: 10}, 0},
		{"zero base", 0, &models.Promotion{DiscountType: DiscountAmount, DiscountValue: 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PromoDiscount(tt.base, tt.promo); got != tt.want {
				t.Errorf("PromoDiscount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRenewalAccounting(t *testing.T) {
	loc := time.UTC
	promo := &models.Promotion{DiscountType: DiscountPercent, DiscountValue: 10}
	q := NewQuote(1000000, promo, 36, 2, 300000)

	if q.FinalPrice != 900000 {
		t.Errorf("FinalPrice = %d, want 900000", q.FinalPrice)
	}
	if q.RemainingAmount != 600000 {
		t.Errorf("RemainingAmount = %d, want 600000", q.RemainingAmount)
	}
	if q.SessionsGranted != 36+2*SessionsPerScholarshipMonth {
		t.Errorf("SessionsGranted = %d, want %d", q.SessionsGranted, 36+2*SessionsPerScholarshipMonth)
	}

	now := time.Date(2025, 3, 10, 15, 0, 0, 0, loc)
	current := time.Date(2025, 3, 20, 0, 0, 0, 0, loc)
	got := NewExpiry(now, &current, 3+2, loc)
	want := time.Date(2025, 8, 20, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("NewExpiry() = %s, want %s", got, want)
	}
}

func TestQuoteOverpaid(t *testing.T) {
	q := NewQuote(500000, nil, 12, 0, 800000)
	if q.RemainingAmount != 0 {
		t.Errorf("RemainingAmount = %d, want 0", q.RemainingAmount)
	}
	if q.FinalPrice != 500000 || q.DiscountAmount != 0 {
		t.Errorf("unexpected quote %+v", q)
	}
}

func TestNewExpiry(t *testing.T) {
	loc := time.UTC
	now := time.Date(2025, 1, 31, 9, 30, 0, 0, loc)
	past := time.Date(2024, 12, 1, 0, 0, 0, 0, loc)
	future := time.Date(2025, 2, 15, 0, 0, 0, 0, loc)

	tests := []struct {
		name    string
		current *time.Time
		months  int
		want    time.Time
	}{
		{"no expiry starts today", nil, 1, time.Date(2025, 2, 28, 0, 0, 0, 0, loc)},
		{"expired starts today", &past, 3, time.Date(2025, 4, 30, 0, 0, 0, 0, loc)},
		{"unexpired extends", &future, 2, time.Date(2025, 4, 15, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewExpiry(now, tt.current, tt.months, loc); !got.Equal(tt.want) {
				t.Errorf("NewExpiry() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPaymentFeeStatus(t *testing.T) {
	tests := []struct {
		revenue, total int64
		want           string
	}{
		{0, 1000, models.FeePending},
		{500, 1000, models.FeePartial},
		{1000, 1000, models.FeePaid},
		{1200, 1000, models.FeePaid},
		{500, 0, models.FeePartial},
		{0, 0, models.FeePending},
	}
	for _, tt := range tests {
		if got := PaymentFeeStatus(tt.revenue, tt.total); got != tt.want {
			t.Errorf("PaymentFeeStatus(%d, %d) = %s, want %s", tt.revenue, tt.total, got, tt.want)
		}
	}
}

func TestConsumeSequence(t *testing.T) {
	b := Balance{Remaining: 5, FeeStatus: models.FeeActive}
	want := []struct {
		remaining int
		status    string
		ok        bool
	}{
		{4, models.FeeExpiringSoon, true},
		{3, models.FeeExpiringSoon, true},
		{2, models.FeeExpiringSoon, true},
		{1, models.FeeExpiringSoon, true},
		{0, models.FeeExpired, true},
		{0, models.FeeExpired, false},
	}
	for i, w := range want {
		next, ok, _ := Consume(b)
		if ok != w.ok || next.Remaining != w.remaining || next.FeeStatus != w.status {
			t.Fatalf("call %d: got (%d, %s, %v), want (%d, %s, %v)", i+1, next.Remaining, next.FeeStatus, ok, w.remaining, w.status, w.ok)
		}
		b = next
	}
	if b.Used != 5 {
		t.Errorf("Used = %d, want 5", b.Used)
	}
}

func TestConsumeCrossesExpiringBoundary(t *testing.T) {
	// Eight sessions left: the first three calls stay active, the fourth
	// crosses into expiring_soon at four remaining.
	b := Balance{Remaining: 8, FeeStatus: models.FeeActive}
	statuses := []string{models.FeeActive, models.FeeActive, models.FeeActive, models.FeeExpiringSoon}
	for i, want := range statuses {
		next, ok, _ := Consume(b)
		if !ok || next.FeeStatus != want {
			t.Fatalf("call %d: status %s ok %v, want %s", i+1, next.FeeStatus, ok, want)
		}
		b = next
	}
	if b.Remaining != 4 {
		t.Errorf("after four calls remaining = %d, want 4", b.Remaining)
	}
}

func TestConsumeLevelRollover(t *testing.T) {
	b := Balance{Remaining: 20, LevelSessions: LevelSessionThreshold - 2, OnLevel: true}
	next, _, done := Consume(b)
	if done || next.LevelSessions != LevelSessionThreshold-1 {
		t.Fatalf("rolled over too early: %+v", next)
	}
	next, _, done = Consume(next)
	if !done {
		t.Fatal("expected level completion at the threshold")
	}
	if next.LevelSessions != 0 {
		t.Errorf("LevelSessions = %d, want reset to 0", next.LevelSessions)
	}
}

func TestConsumeWithoutLevel(t *testing.T) {
	b := Balance{Remaining: 20, LevelSessions: LevelSessionThreshold - 1}
	next, ok, done := Consume(b)
	if !ok || done {
		t.Fatalf("Consume() ok %v done %v, want consumed without level completion", ok, done)
	}
	if next.LevelSessions != LevelSessionThreshold-1 {
		t.Errorf("LevelSessions = %d, want %d unchanged", next.LevelSessions, LevelSessionThreshold-1)
	}
	if next.Remaining != 19 {
		t.Errorf("Remaining = %d, want 19", next.Remaining)
	}
}

func TestExpiringTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{models.FeeActive, models.FeeExpiringSoon, true},
		{models.FeeExpiringSoon, models.FeeExpiringSoon, false},
		{models.FeeExpiringSoon, models.FeeExpired, true},
		{models.FeeActive, models.FeeActive, false},
		{models.FeePaid, models.FeeExpiringSoon, true},
		{models.FeeExpired, models.FeeActive, false},
	}
	for _, tt := range tests {
		if got := expiringTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("expiringTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
