package examapi

import (
	"errors"
	"fmt"
)

// ErrCode is the typed error code carried in the exam service's error
// envelope.
type ErrCode string

const (
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrForbidden     ErrCode = "FORBIDDEN"
	ErrValidation    ErrCode = "VALIDATION_ERROR"
	ErrInvalidID     ErrCode = "INVALID_ID"
	ErrNotFound      ErrCode = "NOT_FOUND"
	ErrExamNotOpen   ErrCode = "EXAM_NOT_OPEN"
	ErrExamClosed    ErrCode = "EXAM_CLOSED"
	ErrNoQuestions   ErrCode = "NO_QUESTIONS"
	ErrAlreadyDone   ErrCode = "ATTEMPT_COMPLETED"
	ErrInternal      ErrCode = "INTERNAL_ERROR"
)

// APIError is a structured failure reported by the exam service.
type APIError struct {
	Status  int
	Code    ErrCode
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("exam service: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("exam service: HTTP %d (%s)", e.Status, e.Code)
}

// CodeOf extracts the service error code from an error chain, or "" when the
// error did not originate from the service envelope.
func CodeOf(err error) ErrCode {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsNotFound reports whether err is a service-side 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}
