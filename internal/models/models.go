package models

import (
	"time"

	"github.com/google/uuid"
)

type Branch struct {
	ID             uuid.UUID `json:"id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Active         bool      `json:"active"`
	TelegramChatID *string   `json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type User struct {
	ID              uuid.UUID   `json:"id"`
	Username        string      `json:"username"`
	PasswordHash    string      `json:"-"`
	FullName        string      `json:"full_name"`
	Role            string      `json:"role"`
	SystemWide      bool        `json:"system_wide"`
	PrimaryBranchID *uuid.UUID  `json:"primary_branch_id,omitempty"`
	ManagerID       *uuid.UUID  `json:"manager_id,omitempty"`
	BranchIDs       []uuid.UUID `json:"branch_ids"`
	Email           *string     `json:"email,omitempty"`
	Active          bool        `json:"active"`
	CreatedAt       time.Time   `json:"created_at"`
}

type Lead struct {
	ID                    uuid.UUID  `json:"id"`
	BranchID              uuid.UUID  `json:"branch_id"`
	Code                  string     `json:"code"`
	CustomerName          string     `json:"customer_name"`
	CustomerPhone         string     `json:"customer_phone"`
	CustomerEmail         *string    `json:"customer_email,omitempty"`
	StudentName           string     `json:"student_name"`
	StudentBirthYear      *int       `json:"student_birth_year,omitempty"`
	SubjectID             *uuid.UUID `json:"subject_id,omitempty"`
	LevelID               *uuid.UUID `json:"level_id,omitempty"`
	ScheduledDate         *time.Time `json:"scheduled_date,omitempty"`
	ScheduledTime         *string    `json:"scheduled_time,omitempty"`
	Status                string     `json:"status"`
	TrialClassID          *uuid.UUID `json:"trial_class_id,omitempty"`
	TrialSessionsAttended int        `json:"trial_sessions_attended"`
	TrialSessionsMax      int        `json:"trial_sessions_max"`
	Rating                *int       `json:"rating,omitempty"`
	Feedback              *string    `json:"feedback,omitempty"`
	SalesOwnerID          *uuid.UUID `json:"sales_owner_id,omitempty"`
	Source                *string    `json:"source,omitempty"`
	Note                  *string    `json:"note,omitempty"`
	ExpectedFee           int64      `json:"expected_fee"`
	ActualRevenue         int64      `json:"actual_revenue"`
	ConvertedStudentID    *uuid.UUID `json:"converted_student_id,omitempty"`
	ConvertedAt           *time.Time `json:"converted_at,omitempty"`
	CreatedBy             *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type Student struct {
	ID                     uuid.UUID  `json:"id"`
	BranchID               uuid.UUID  `json:"branch_id"`
	Code                   string     `json:"code"`
	FullName               string     `json:"full_name"`
	BirthYear              *int       `json:"birth_year,omitempty"`
	ParentName             *string    `json:"parent_name,omitempty"`
	ParentPhone            *string    `json:"parent_phone,omitempty"`
	ParentEmail            *string    `json:"parent_email,omitempty"`
	SubjectID              *uuid.UUID `json:"subject_id,omitempty"`
	LevelID                *uuid.UUID `json:"level_id,omitempty"`
	CurrentLevelID         *uuid.UUID `json:"current_level_id,omitempty"`
	Status                 string     `json:"status"`
	SalesOwnerID           *uuid.UUID `json:"sales_owner_id,omitempty"`
	LeadID                 *uuid.UUID `json:"lead_id,omitempty"`
	PackageID              *uuid.UUID `json:"package_id,omitempty"`
	FeeTotal               int64      `json:"fee_total"`
	ActualRevenue          int64      `json:"actual_revenue"`
	DiscountAmount         int64      `json:"discount_amount"`
	ScholarshipMonths      int        `json:"scholarship_months"`
	TotalSessions          int        `json:"total_sessions"`
	RemainingSessions      int        `json:"remaining_sessions"`
	UsedSessions           int        `json:"used_sessions"`
	LevelSessionsCompleted int        `json:"level_sessions_completed"`
	FeeStatus              string     `json:"fee_status"`
	FeeExpiryDate          *time.Time `json:"fee_expiry_date,omitempty"`
	PaidAmount             int64      `json:"paid_amount"`
	RemainingAmount        int64      `json:"remaining_amount"`
	Note                   *string    `json:"note,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

type Class struct {
	ID            uuid.UUID  `json:"id"`
	BranchID      uuid.UUID  `json:"branch_id"`
	Code          string     `json:"code"`
	Name          string     `json:"name"`
	TeacherID     *uuid.UUID `json:"teacher_id,omitempty"`
	SubjectID     *uuid.UUID `json:"subject_id,omitempty"`
	LevelID       *uuid.UUID `json:"level_id,omitempty"`
	ScheduleDays  string     `json:"schedule_days"`
	StartTime     string     `json:"start_time"`
	EndTime       string     `json:"end_time"`
	StartDate     time.Time  `json:"start_date"`
	TotalSessions int        `json:"total_sessions"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Session is one scheduled occurrence of a Class. StartTime and EndTime are
// wall-clock "HH:MM" values on SessionDate in the business timezone.
type Session struct {
	ID                  uuid.UUID  `json:"id"`
	ClassID             uuid.UUID  `json:"class_id"`
	ClassName           string     `json:"class_name"`
	BranchID            uuid.UUID  `json:"branch_id"`
	TeacherID           *uuid.UUID `json:"teacher_id,omitempty"`
	SessionNumber       int        `json:"session_number"`
	SessionDate         time.Time  `json:"session_date"`
	StartTime           string     `json:"start_time"`
	EndTime             string     `json:"end_time"`
	AttendanceSubmitted bool       `json:"attendance_submitted"`
	SubmittedAt         *time.Time `json:"submitted_at,omitempty"`
	SubstituteTeacherID *uuid.UUID `json:"substitute_teacher_id,omitempty"`
}

type AttendanceRecord struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	StudentID *uuid.UUID `json:"student_id,omitempty"`
	LeadID    *uuid.UUID `json:"lead_id,omitempty"`
	Status    string     `json:"status"`
	Note      *string    `json:"note,omitempty"`
	MarkedBy  uuid.UUID  `json:"marked_by"`
	MarkedAt  time.Time  `json:"marked_at"`
}

type Package struct {
	ID                       uuid.UUID  `json:"id"`
	Name                     string     `json:"name"`
	SubjectID                *uuid.UUID `json:"subject_id,omitempty"`
	Months                   int        `json:"months"`
	Sessions                 int        `json:"sessions"`
	BasePrice                int64      `json:"base_price"`
	ScholarshipMonthsDefault int        `json:"scholarship_months_default"`
	Active                   bool       `json:"active"`
}

type Promotion struct {
	ID            uuid.UUID  `json:"id"`
	Code          string     `json:"code"`
	Name          string     `json:"name"`
	DiscountType  string     `json:"discount_type"`
	DiscountValue int64      `json:"discount_value"`
	Active        bool       `json:"active"`
	ValidFrom     *time.Time `json:"valid_from,omitempty"`
	ValidTo       *time.Time `json:"valid_to,omitempty"`
}

type Renewal struct {
	ID                uuid.UUID  `json:"id"`
	StudentID         uuid.UUID  `json:"student_id"`
	PackageID         uuid.UUID  `json:"package_id"`
	PromotionID       *uuid.UUID `json:"promotion_id,omitempty"`
	RenewalType       string     `json:"renewal_type"`
	OriginalPrice     int64      `json:"original_price"`
	DiscountAmount    int64      `json:"discount_amount"`
	FinalPrice        int64      `json:"final_price"`
	ScholarshipMonths int        `json:"scholarship_months"`
	DepositAmount     int64      `json:"deposit_amount"`
	PaidAmount        int64      `json:"paid_amount"`
	RemainingAmount   int64      `json:"remaining_amount"`
	SessionsGranted   int        `json:"sessions_granted"`
	PreviousExpiry    *time.Time `json:"previous_expiry,omitempty"`
	NewExpiryDate     time.Time  `json:"new_expiry_date"`
	TargetClassID     *uuid.UUID `json:"target_class_id,omitempty"`
	CreatedBy         uuid.UUID  `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
}

type LedgerEntry struct {
	ID         uuid.UUID  `json:"id"`
	StudentID  uuid.UUID  `json:"student_id"`
	BranchID   uuid.UUID  `json:"branch_id"`
	Amount     int64      `json:"amount"`
	Method     string     `json:"method"`
	Kind       string     `json:"kind"`
	RenewalID  *uuid.UUID `json:"renewal_id,omitempty"`
	Note       *string    `json:"note,omitempty"`
	RecordedBy uuid.UUID  `json:"recorded_by"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Page is the pagination metadata returned by every list operation.
type Page struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPage clamps page and limit and computes TotalPages.
func NewPage(page, limit, total int) Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Page{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

// Offset is the SQL OFFSET for the page.
func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}
