package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
)

// Error is a failed response: a machine code, a client-safe message and the HTTP status.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
}

// errorEnvelope is the body every failed order API call returns.
type errorEnvelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func NewError(code, message string, status int) Error {
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, maxCodeLength),
		Message: clean(message, maxMessageLength),
		Status:  status,
	}
}

// WithRequestID pins the request id instead of reading it from the context at write time.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clean(id, maxCodeLength)
	return e
}

func (e Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// WriteError renders err as {success:false, message, code, requestId}.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	body := errorEnvelope{
		Message:   err.Message,
		Code:      err.Code,
		RequestID: err.RequestID,
	}
	if body.RequestID == "" {
		body.RequestID = clean(middleware.GetReqID(ctx), maxCodeLength)
	}
	WriteJSON(w, status, body)
}

// clean folds line breaks to spaces so messages stay on one log line, then truncates.
func clean(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
