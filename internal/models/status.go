package models

// Lead statuses. converted, cancelled and no_show are terminal for the
// pipeline; converted is also immutable.
const (
	LeadNew       = "new"
	LeadScheduled = "scheduled"
	LeadAttended  = "attended"
	LeadTrial     = "trial"
	LeadWaiting   = "waiting"
	LeadConverted = "converted"
	LeadCancelled = "cancelled"
	LeadNoShow    = "no_show"
)

// Student statuses.
const (
	StudentPending    = "pending"
	StudentWaiting    = "waiting"
	StudentActive     = "active"
	StudentPaused     = "paused"
	StudentExpired    = "expired"
	StudentQuitPaid   = "quit_paid"
	StudentQuitRefund = "quit_refund"
	StudentReserved   = "reserved"
	StudentGraduated  = "graduated"
)

// Fee statuses. The first three derive from the session balance, the last
// three from revenue against fee_total.
const (
	FeeActive       = "active"
	FeeExpiringSoon = "expiring_soon"
	FeeExpired      = "expired"
	FeePaid         = "paid"
	FeePartial      = "partial"
	FeePending      = "pending"
)

// Attendance statuses as stored.
const (
	AttendancePresent = "present"
	AttendanceLate    = "late"
	AttendanceExcused = "excused"
	AttendanceAbsent  = "absent"
)

// StatusDisplayInfo contains display information for a lead status.
type StatusDisplayInfo struct {
	DisplayName string `json:"display_name"`
	NextAction  string `json:"next_action"`
}

// GetStatusDisplayInfo returns the label and next pipeline step for a lead status.
func GetStatusDisplayInfo(status string) StatusDisplayInfo {
	statusMap := map[string]StatusDisplayInfo{
		LeadNew:       {DisplayName: "New Lead", NextAction: "Schedule a trial"},
		LeadScheduled: {DisplayName: "Scheduled", NextAction: "Mark attended or no-show"},
		LeadAttended:  {DisplayName: "Attended", NextAction: "Assign trial class"},
		LeadTrial:     {DisplayName: "On Trial", NextAction: "Complete trial sessions"},
		LeadWaiting:   {DisplayName: "Waiting for Decision", NextAction: "Convert to student"},
		LeadConverted: {DisplayName: "Converted", NextAction: "Assign class"},
		LeadCancelled: {DisplayName: "Cancelled", NextAction: "None"},
		LeadNoShow:    {DisplayName: "No Show", NextAction: "Reschedule"},
	}
	if info, ok := statusMap[status]; ok {
		return info
	}
	return StatusDisplayInfo{DisplayName: status, NextAction: "Review"}
}

// IsValidLeadStatus reports whether s is one of the lead statuses.
func IsValidLeadStatus(s string) bool {
	switch s {
	case LeadNew, LeadScheduled, LeadAttended, LeadTrial, LeadWaiting,
		LeadConverted, LeadCancelled, LeadNoShow:
		return true
	}
	return false
}
