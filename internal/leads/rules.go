package leads

import (
	"regexp"
	"strings"
	"time"

	"branch-ops/internal/models"

	"github.com/google/uuid"
)

// DefaultTrialSessions is the trial length when none is given.
const DefaultTrialSessions = 3

var phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// NormalizePhone strips spaces, dots, dashes and parentheses so the
// duplicate guard compares the same digits however they were typed.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

func validPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// initialStatus is scheduled only when both a date and a time were given.
func initialStatus(date *time.Time, clock *string) string {
	if date != nil && clock != nil && strings.TrimSpace(*clock) != "" {
		return models.LeadScheduled
	}
	return models.LeadNew
}

// attendedTransition decides what markAttended does for a lead in status:
// the new status and whether the trial counter increments. ok is false for
// the no-op statuses.
func attendedTransition(status string) (next string, increment bool, ok bool) {
	switch status {
	case models.LeadTrial:
		return models.LeadTrial, true, true
	case models.LeadNew, models.LeadScheduled:
		return models.LeadAttended, false, true
	}
	return status, false, false
}

// ConvertOverrides are the caller-supplied student fields that take
// precedence over the lead's values on conversion.
type ConvertOverrides struct {
	FullName     *string    `json:"full_name"`
	BirthYear    *int       `json:"birth_year"`
	ParentName   *string    `json:"parent_name"`
	ParentPhone  *string    `json:"parent_phone"`
	ParentEmail  *string    `json:"parent_email" validate:"omitempty,email"`
	SubjectID    *uuid.UUID `json:"subject_id"`
	LevelID      *uuid.UUID `json:"level_id"`
	SalesOwnerID *uuid.UUID `json:"sales_owner_id"`
	FeeTotal     *int64     `json:"fee_total" validate:"omitempty,min=0"`
	Note         *string    `json:"note"`
}

// studentFromLead builds the pending student a conversion inserts: lead
// fields are defaults, overrides win.
func studentFromLead(l *models.Lead, o ConvertOverrides) *models.Student {
	s := &models.Student{
		BranchID:     l.BranchID,
		FullName:     l.StudentName,
		BirthYear:    l.StudentBirthYear,
		ParentName:   strPtr(l.CustomerName),
		ParentPhone:  strPtr(l.CustomerPhone),
		ParentEmail:  l.CustomerEmail,
		SubjectID:    l.SubjectID,
		LevelID:      l.LevelID,
		SalesOwnerID: l.SalesOwnerID,
		LeadID:       &l.ID,
		FeeTotal:     l.ExpectedFee,
		Note:         l.Note,
		Status:       models.StudentPending,
		FeeStatus:    models.FeePending,
	}

	if o.FullName != nil && strings.TrimSpace(*o.FullName) != "" {
		s.FullName = strings.TrimSpace(*o.FullName)
	}
	if o.BirthYear != nil {
		s.BirthYear = o.BirthYear
	}
	if o.ParentName != nil {
		s.ParentName = o.ParentName
	}
	if o.ParentPhone != nil {
		p := NormalizePhone(*o.ParentPhone)
		s.ParentPhone = &p
	}
	if o.ParentEmail != nil {
		s.ParentEmail = o.ParentEmail
	}
	if o.SubjectID != nil {
		s.SubjectID = o.SubjectID
	}
	if o.LevelID != nil {
		s.LevelID = o.LevelID
	}
	if o.SalesOwnerID != nil {
		s.SalesOwnerID = o.SalesOwnerID
	}
	if o.FeeTotal != nil {
		s.FeeTotal = *o.FeeTotal
	}
	if o.Note != nil {
		s.Note = o.Note
	}
	s.CurrentLevelID = s.LevelID
	return s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
