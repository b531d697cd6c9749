// Package events carries domain events from the engines to the notification
// subscriber. Engines return events; callers publish them only after the
// owning transaction has committed.
package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeLeadConverted     = "lead.converted"
	TypeAttendanceWarning = "attendance.warning"
	TypePaymentConfirmed  = "payment.confirmed"
	TypeFeeExpiring       = "fee.expiring"
	TypeLevelCompleted    = "level.completed"
)

// Topic is the single bus topic; subscribers switch on Event.Type.
const Topic = "branch_ops.events"

type Event struct {
	Type       string      `json:"type"`
	BranchID   uuid.UUID   `json:"branch_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

func New(eventType string, branchID uuid.UUID, payload interface{}) Event {
	return Event{Type: eventType, BranchID: branchID, OccurredAt: time.Now(), Payload: payload}
}

type LeadConverted struct {
	LeadID      uuid.UUID `json:"lead_id"`
	LeadCode    string    `json:"lead_code"`
	StudentID   uuid.UUID `json:"student_id"`
	StudentCode string    `json:"student_code"`
	StudentName string    `json:"student_name"`
}

// AttendanceWarning is raised when a student's late+absent count in one
// class reaches the warning threshold.
type AttendanceWarning struct {
	StudentID   uuid.UUID `json:"student_id"`
	StudentCode string    `json:"student_code"`
	StudentName string    `json:"student_name"`
	ParentName  string    `json:"parent_name"`
	ParentPhone string    `json:"parent_phone"`
	ParentEmail string    `json:"parent_email"`
	ClassID     uuid.UUID `json:"class_id"`
	ClassName   string    `json:"class_name"`
	SessionID   uuid.UUID `json:"session_id"`
	SessionDate string    `json:"session_date"`
	LateCount   int       `json:"late_count"`
	AbsentCount int       `json:"absent_count"`
}

func (w AttendanceWarning) Total() int {
	return w.LateCount + w.AbsentCount
}

type PaymentConfirmed struct {
	StudentID     uuid.UUID `json:"student_id"`
	StudentCode   string    `json:"student_code"`
	StudentName   string    `json:"student_name"`
	Amount        int64     `json:"amount"`
	Method        string    `json:"method"`
	ActualRevenue int64     `json:"actual_revenue"`
	FeeTotal      int64     `json:"fee_total"`
	FeeStatus     string    `json:"fee_status"`
}

type FeeExpiring struct {
	StudentID         uuid.UUID `json:"student_id"`
	StudentCode       string    `json:"student_code"`
	StudentName       string    `json:"student_name"`
	ParentPhone       string    `json:"parent_phone"`
	ParentEmail       string    `json:"parent_email"`
	RemainingSessions int       `json:"remaining_sessions"`
	FeeStatus         string    `json:"fee_status"`
}

type LevelCompleted struct {
	StudentID     uuid.UUID  `json:"student_id"`
	StudentName   string     `json:"student_name"`
	CompletedID   uuid.UUID  `json:"completed_level_id"`
	CompletedName string     `json:"completed_level_name"`
	NextID        *uuid.UUID `json:"next_level_id,omitempty"`
	NextName      string     `json:"next_level_name,omitempty"`
}
