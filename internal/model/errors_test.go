package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewAuthError_HidesReasonFromMessage(t *testing.T) {
	err := NewAuthError("unknown username")

	if err.Code != ErrCodeAuth {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeAuth)
	}
	if strings.Contains(err.Message, "unknown username") {
		t.Error("Message should not reveal the reason")
	}
	if err.Err == nil || err.Err.Error() != "unknown username" {
		t.Errorf("Err = %v, want reason kept for logging", err.Err)
	}
}

func TestNewUnexpectedError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewUnexpectedError(cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if err.Code != ErrCodeInternal {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeInternal)
	}
	if strings.Contains(err.Message, "connection refused") {
		t.Error("Message should not contain internal error text")
	}
}

func TestIsAuthError(t *testing.T) {
	wrapped := fmt.Errorf("verify: %w", NewAuthError("invalid password"))

	if !IsAuthError(wrapped) {
		t.Error("expected wrapped auth error to be detected")
	}
	if IsAuthError(NewValidationError("x")) {
		t.Error("validation error should not be an auth error")
	}
	if IsAuthError(errors.New("plain")) {
		t.Error("plain error should not be an auth error")
	}
}
