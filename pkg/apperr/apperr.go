// Package apperr defines the stable error taxonomy shared across the
// orchestration pipeline. Codes are part of the external API contract
// (they appear in agent results, error events, and failed task records)
// and must never be renamed.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Code is a stable string error code.
type Code string

// Error codes.
const (
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeAuthFailed       Code = "AUTH_FAILED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeQuotaExceeded    Code = "QUOTA_EXCEEDED"
	CodeAgentUnavailable Code = "AGENT_UNAVAILABLE"
	CodeLLMFailure       Code = "LLM_FAILURE"
	CodeRetrievalFailure Code = "RETRIEVAL_FAILURE"
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeCancelled        Code = "CANCELLED"
	CodeTimeout          Code = "TIMEOUT"
	CodeInternal         Code = "INTERNAL"
)

// Error carries a stable code alongside a human-readable message and an
// optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping a cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the stable code from an error chain. Context cancellation
// and deadline errors map to CANCELLED and TIMEOUT; anything else unknown
// maps to INTERNAL.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	}
	return CodeInternal
}

// Sentinel errors used by stores and services.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
)
