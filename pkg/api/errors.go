package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
)

// ErrorResponse is the JSON body of every error reply. Code is one of the
// stable taxonomy codes.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// fail maps a pipeline error to its HTTP status and writes the error body.
func fail(c *echo.Context, err error) error {
	code := apperr.CodeOf(err)
	status := statusFor(code)
	if errors.Is(err, apperr.ErrNotFound) {
		status, code = http.StatusNotFound, apperr.CodeNotFound
	}
	if status == http.StatusInternalServerError {
		slog.Error("Unexpected error at API boundary", "error", err)
	}
	return c.JSON(status, &ErrorResponse{Error: err.Error(), Code: string(code)})
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidRequest, apperr.CodeValidationFailed:
		return http.StatusBadRequest
	case apperr.CodeAuthFailed:
		return http.StatusUnauthorized
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case apperr.CodeAgentUnavailable:
		return http.StatusServiceUnavailable
	case apperr.CodeLLMFailure, apperr.CodeRetrievalFailure:
		return http.StatusBadGateway
	case apperr.CodeCancelled:
		return http.StatusConflict
	case apperr.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// badRequest is the shortcut for request validation failures.
func badRequest(c *echo.Context, format string, args ...any) error {
	return fail(c, apperr.New(apperr.CodeInvalidRequest, format, args...))
}
