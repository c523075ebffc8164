package model

import (
	"errors"
	"fmt"
)

// Error codes carried by ErrorEnvelope. Backend failures are folded onto the
// first group; the second group blocks an operator action before any backend
// call is made.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrRateLimited        = "RATE_LIMITED"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"

	ErrOperatorRequired     = "OPERATOR_REQUIRED"
	ErrConfirmationRequired = "CONFIRMATION_REQUIRED"
	ErrCountdownActive      = "COUNTDOWN_ACTIVE"
)

// ErrorEnvelope is the console's error value and its JSON error body.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

func (e *ErrorEnvelope) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches any envelope with the same code, so errors.Is works against the
// constructors' results.
func (e *ErrorEnvelope) Is(target error) bool {
	t, ok := target.(*ErrorEnvelope)
	return ok && t.Code == e.Code
}

// FieldError is one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AsEnvelope finds the *ErrorEnvelope in err's chain.
func AsEnvelope(err error) (*ErrorEnvelope, bool) {
	var ee *ErrorEnvelope
	ok := errors.As(err, &ee)
	return ee, ok
}

// HasCode reports whether err's chain holds an envelope with code.
func HasCode(err error, code string) bool {
	ee, ok := AsEnvelope(err)
	return ok && ee.Code == code
}

func newError(code, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: msg}
}

func NewBadRequestError(msg string) *ErrorEnvelope   { return newError(ErrBadRequest, msg) }
func NewUnauthorizedError(msg string) *ErrorEnvelope { return newError(ErrUnauthorized, msg) }
func NewNotFoundError(msg string) *ErrorEnvelope     { return newError(ErrNotFound, msg) }
func NewConflictError(msg string) *ErrorEnvelope     { return newError(ErrConflict, msg) }

// NewValidationError reports invalid fields.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	e := newError(ErrValidationError, "One or more fields are invalid")
	e.Details = details
	return e
}

func NewInternalError() *ErrorEnvelope {
	return newError(ErrInternalError, "An unexpected error occurred")
}

func NewBackendUnavailableError() *ErrorEnvelope {
	return newError(ErrBackendUnavailable, "The backend service is temporarily unavailable")
}

func NewBackendTimeoutError() *ErrorEnvelope {
	return newError(ErrBackendTimeout, "The backend service did not respond in time")
}

func NewRateLimitedError() *ErrorEnvelope {
	return newError(ErrRateLimited, "The backend is rate limiting requests, try again shortly")
}

// NewOperatorRequiredError asks for the approver's name before a decision.
func NewOperatorRequiredError() *ErrorEnvelope {
	return newError(ErrOperatorRequired, "Please enter your name")
}

// NewConfirmationRequiredError carries, as its message, the question the
// operator must confirm.
func NewConfirmationRequiredError(prompt string) *ErrorEnvelope {
	return newError(ErrConfirmationRequired, prompt)
}

// NewCountdownActiveError rejects a decision while workflowID's approval
// countdown runs.
func NewCountdownActiveError(workflowID string) *ErrorEnvelope {
	return newError(ErrCountdownActive, fmt.Sprintf("approval for workflow %q is already counting down", workflowID))
}
