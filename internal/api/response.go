package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lzjever/remote-workspace/internal/core"
)

// ErrorResponse represents an RWS error response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DataResponse wraps every successful payload.
type DataResponse[T any] struct {
	Data T `json:"data"`
}

// WriteError writes an RWS error response.
func WriteError(w http.ResponseWriter, err *core.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code.HTTPStatus())
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    string(err.Code),
		Message: err.Message,
	})
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteData writes v inside the {"data": ...} envelope.
func WriteData[T any](w http.ResponseWriter, status int, v T) {
	WriteJSON(w, status, DataResponse[T]{Data: v})
}

// AsAppError returns err as an AppError, falling back to fallback for
// errors that carry no code.
func AsAppError(err error, fallback core.ErrorCode, msg string) *core.AppError {
	var appErr *core.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return core.NewAppError(fallback, msg)
}
