package models

import (
	"errors"
	"fmt"
)

// Kind classifies a business error. The HTTP layer maps each kind to a status
// code; engines only decide the kind.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindInvalidState     Kind = "invalid_state"
	KindValidation       Kind = "validation_failed"
	KindPermissionDenied Kind = "permission_denied"
)

// Error is a business-rule failure with a caller-facing message. Details carries
// guidance payloads such as the conflicting lead on a duplicate phone.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	return e.Message
}

// Is lets errors.Is(err, ErrNotFound) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
)

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func PermissionDenied(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a key to the guidance payload and returns e.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" for
// infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// PhoneAlreadyExistsError is returned by lead creation when the customer phone
// already belongs to a lead. It unwraps to a Conflict.
type PhoneAlreadyExistsError struct {
	Phone            string
	ExistingLeadID   string
	ExistingLeadCode string
}

func (e *PhoneAlreadyExistsError) Error() string {
	if e.ExistingLeadCode != "" {
		return fmt.Sprintf("phone number %s already exists on lead %s", e.Phone, e.ExistingLeadCode)
	}
	return fmt.Sprintf("phone number %s already exists", e.Phone)
}

func (e *PhoneAlreadyExistsError) Unwrap() error {
	return Conflict("%s", e.Error()).
		WithDetail("existing_lead_id", e.ExistingLeadID).
		WithDetail("existing_lead_code", e.ExistingLeadCode)
}
