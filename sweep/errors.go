package sweep

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable error code surfaced to API clients.
type Code string

const (
	CodeParamInvalid Code = "E.PARAM_INVALID"
	CodeForbidden    Code = "E.FORBIDDEN"
	CodeNotFound     Code = "E.NOT_FOUND"
	CodeRateLimited  Code = "E.RATE_LIMITED"
	CodeInternal     Code = "E.INTERNAL"
)

// Error is the orchestrator's error type. Every failure that crosses the
// package boundary carries one of the closed Codes plus optional structured
// details for the client (offending field, computed estimate, limits).
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus maps the code to the canonical HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeParamInvalid:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds an *Error. The HTTP adapter uses this for transport-level
// failures (missing headers, rate limiting) so that every error body has the
// same shape.
func NewError(code Code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

func paramInvalid(message string, details map[string]any) *Error {
	return &Error{Code: CodeParamInvalid, Message: message, Details: details}
}

func jobNotFound(jobID string) *Error {
	return &Error{Code: CodeNotFound, Message: "optimization job not found", Details: map[string]any{"jobId": jobID}}
}

func taskNotFound(jobID, taskID string) *Error {
	return &Error{Code: CodeNotFound, Message: "task not found", Details: map[string]any{"jobId": jobID, "taskId": taskID}}
}

func ownerMismatch(jobID, ownerID string) *Error {
	return &Error{
		Code:    CodeForbidden,
		Message: "job does not belong to current owner",
		Details: map[string]any{"jobId": jobID, "ownerId": ownerID},
	}
}

// AsError unwraps err into an *Error when possible.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
