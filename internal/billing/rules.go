package billing

import (
	"time"

	"branch-ops/internal/models"
	"branch-ops/internal/util"

	"github.com/shopspring/decimal"
)

const (
	// SessionsPerScholarshipMonth converts bonus months into sessions.
	SessionsPerScholarshipMonth = 4
	// ExpiringSoonThreshold is the remaining-session count at or below which
	// a student's fee is expiring soon.
	ExpiringSoonThreshold = 4
	// LevelSessionThreshold is the number of sessions that completes a level.
	LevelSessionThreshold = 15
)

const (
	DiscountPercent = "percent"
	DiscountAmount  = "amount"

	RenewalRenew     = "renew"
	RenewalNewCourse = "new_course"
)

var hundred = decimal.NewFromInt(100)

// PromoDiscount is the discount a promotion gives on base. Percentages are
// rounded half-up to whole currency units. The result never exceeds base.
func PromoDiscount(base int64, p *models.Promotion) int64 {
	if p == nil || base <= 0 {
		return 0
	}
	var d int64
	switch p.DiscountType {
	case DiscountPercent:
		d = decimal.NewFromInt(base).
			Mul(decimal.NewFromInt(p.DiscountValue)).
			Div(hundred).
			Round(0).
			IntPart()
	case DiscountAmount:
		d = p.DiscountValue
	}
	if d < 0 {
		return 0
	}
	if d > base {
		return base
	}
	return d
}

// Quote is the price breakdown for one renewal.
type Quote struct {
	OriginalPrice     int64 `json:"original_price"`
	DiscountAmount    int64 `json:"discount_amount"`
	FinalPrice        int64 `json:"final_price"`
	PaidAmount        int64 `json:"paid_amount"`
	RemainingAmount   int64 `json:"remaining_amount"`
	ScholarshipMonths int   `json:"scholarship_months"`
	SessionsGranted   int   `json:"sessions_granted"`
}

// NewQuote prices a package. Scholarship months lengthen the package and add
// sessions; they never reduce the price.
func NewQuote(base int64, promo *models.Promotion, packageSessions, scholarshipMonths int, paid int64) Quote {
	discount := PromoDiscount(base, promo)
	final := max(0, base-discount)
	return Quote{
		OriginalPrice:     base,
		DiscountAmount:    discount,
		FinalPrice:        final,
		PaidAmount:        paid,
		RemainingAmount:   max(0, final-paid),
		ScholarshipMonths: scholarshipMonths,
		SessionsGranted:   SessionsFor(packageSessions, scholarshipMonths),
	}
}

// SessionsFor is the session count for a package plus bonus months.
func SessionsFor(packageSessions, scholarshipMonths int) int {
	return packageSessions + scholarshipMonths*SessionsPerScholarshipMonth
}

// NewExpiry extends from the later of today and the current expiry by
// months. A past or missing expiry restarts from today.
func NewExpiry(now time.Time, current *time.Time, months int, loc *time.Location) time.Time {
	from := util.StartOfDay(now, loc)
	if current != nil {
		from = util.LaterOf(from, util.CalendarDay(*current, loc))
	}
	return util.AddMonths(from, months)
}

// SessionFeeStatus derives fee_status from the remaining session balance.
func SessionFeeStatus(remaining int) string {
	switch {
	case remaining <= 0:
		return models.FeeExpired
	case remaining <= ExpiringSoonThreshold:
		return models.FeeExpiringSoon
	}
	return models.FeeActive
}

// PaymentFeeStatus derives fee_status from revenue against the fee total.
func PaymentFeeStatus(actualRevenue, feeTotal int64) string {
	switch {
	case feeTotal > 0 && actualRevenue >= feeTotal:
		return models.FeePaid
	case actualRevenue <= 0:
		return models.FeePending
	}
	return models.FeePartial
}

// Balance is the session counters touched by one consumption.
type Balance struct {
	Remaining     int
	Used          int
	LevelSessions int
	FeeStatus     string
	// OnLevel is false for students without a current level; their level
	// counter does not advance.
	OnLevel bool
}

// Consume applies one attended session to b. ok is false, and b is returned
// unchanged, when nothing is left to consume. levelDone reports that the
// level counter reached LevelSessionThreshold; the returned counter is then
// already reset to zero.
func Consume(b Balance) (next Balance, ok bool, levelDone bool) {
	if b.Remaining <= 0 {
		return b, false, false
	}
	next = Balance{
		Remaining:     b.Remaining - 1,
		Used:          b.Used + 1,
		LevelSessions: b.LevelSessions,
		OnLevel:       b.OnLevel,
	}
	next.FeeStatus = SessionFeeStatus(next.Remaining)
	if !b.OnLevel {
		return next, true, false
	}
	next.LevelSessions++
	if next.LevelSessions >= LevelSessionThreshold {
		next.LevelSessions = 0
		levelDone = true
	}
	return next, true, levelDone
}

// expiringTransition reports whether moving from one fee status to another
// should notify about an expiring or expired balance.
func expiringTransition(from, to string) bool {
	if from == to {
		return false
	}
	return to == models.FeeExpiringSoon || to == models.FeeExpired
}
