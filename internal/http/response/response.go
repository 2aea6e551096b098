// Package response writes vertd's JSON envelope:
// {"type":"success","data":...} or {"type":"error","data":"..."}.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope types.
const (
	TypeSuccess = "success"
	TypeError   = "error"
)

// Envelope wraps every JSON response body.
type Envelope[T any] struct {
	Type string `json:"type" enum:"success,error" doc:"Outcome of the request"`
	Data T      `json:"data"`
}

// Success wraps data in a success envelope.
func Success[T any](data T) Envelope[T] {
	return Envelope[T]{Type: TypeSuccess, Data: data}
}

// Failure wraps message in an error envelope.
func Failure(message string) Envelope[string] {
	return Envelope[string]{Type: TypeError, Data: message}
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response body", slog.String("error", err.Error()))
	}
}

// OK writes data in a 200 success envelope.
func OK[T any](w http.ResponseWriter, data T) {
	JSON(w, http.StatusOK, Success(data))
}

// Error writes message in an error envelope.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Failure(message))
}
