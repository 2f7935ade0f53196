package core

import "fmt"

type ErrorCode string

const (
	ErrBadRequest         ErrorCode = "RWS_BAD_REQUEST"
	ErrNotFound           ErrorCode = "RWS_NOT_FOUND"
	ErrConflict           ErrorCode = "RWS_CONFLICT"
	ErrConflictIdempotent ErrorCode = "RWS_CONFLICT_IDEMPOTENT_MISMATCH"
	ErrUnavailable        ErrorCode = "RWS_UNAVAILABLE"
	ErrInternal           ErrorCode = "RWS_INTERNAL"
	ErrUpstream           ErrorCode = "RWS_UPSTREAM"
	ErrUpstreamTimeout    ErrorCode = "RWS_UPSTREAM_TIMEOUT"
)

// HTTPStatus returns the HTTP status code for this error code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrBadRequest:
		return 400
	case ErrNotFound:
		return 404
	case ErrConflict, ErrConflictIdempotent:
		return 409
	case ErrUpstream:
		return 502
	case ErrUnavailable:
		return 503
	case ErrUpstreamTimeout:
		return 504
	default:
		return 500
	}
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}
