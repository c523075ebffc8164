package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "workflow not found"}
	want := "NOT_FOUND: workflow not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
}

func TestNewNotFoundError(t *testing.T) {
	e := NewNotFoundError("resource missing")
	if e.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", e.Code, ErrNotFound)
	}
	if e.Message != "resource missing" {
		t.Errorf("Message = %q, want %q", e.Message, "resource missing")
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "approval_countdown", Code: "RANGE", Message: "must be between 0 and 60"},
	}
	e := NewValidationError(details)
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 {
		t.Fatalf("Details length = %d, want 1", len(e.Details))
	}
	if e.Details[0].Field != "approval_countdown" {
		t.Errorf("Details[0].Field = %q", e.Details[0].Field)
	}
}

func TestNewOperatorRequiredError(t *testing.T) {
	e := NewOperatorRequiredError()
	if e.Code != ErrOperatorRequired {
		t.Errorf("Code = %q, want %q", e.Code, ErrOperatorRequired)
	}
	if e.Message != "Please enter your name" {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestNewConfirmationRequiredError_carriesPrompt(t *testing.T) {
	e := NewConfirmationRequiredError("Escalate to Legal/Compliance?")
	if e.Code != ErrConfirmationRequired {
		t.Errorf("Code = %q", e.Code)
	}
	if e.Message != "Escalate to Legal/Compliance?" {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestHasCode_unwrapsChain(t *testing.T) {
	wrapped := fmt.Errorf("approve wf-1: %w", NewBackendUnavailableError())
	if !HasCode(wrapped, ErrBackendUnavailable) {
		t.Error("HasCode(wrapped, BACKEND_UNAVAILABLE) = false, want true")
	}
	if HasCode(wrapped, ErrNotFound) {
		t.Error("HasCode(wrapped, NOT_FOUND) = true, want false")
	}
	if HasCode(fmt.Errorf("plain"), ErrNotFound) {
		t.Error("HasCode(plain error) = true, want false")
	}
}

func TestAsEnvelope(t *testing.T) {
	ee, ok := AsEnvelope(fmt.Errorf("x: %w", NewCountdownActiveError("wf-9")))
	if !ok {
		t.Fatal("AsEnvelope() ok = false")
	}
	if ee.Code != ErrCountdownActive {
		t.Errorf("Code = %q", ee.Code)
	}
}

func TestErrorEnvelope_Is(t *testing.T) {
	err := fmt.Errorf("list workflows: %w", NewBackendTimeoutError())
	if !errors.Is(err, &ErrorEnvelope{Code: ErrBackendTimeout}) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, NewBackendUnavailableError()) {
		t.Error("errors.Is matched a different code")
	}
}
