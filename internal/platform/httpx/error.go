package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/fixparts/api/internal/platform/requestctx"
)

// Error is the JSON error envelope. Details are merged into the top-level object so clients can
// read e.g. "lines" for stock shortages next to "error".
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an envelope. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, 80),
		Message: clean(message, 512),
		Status:  status,
	}
}

// WithDetails attaches extra JSON-serialisable fields. Envelope keys take precedence on write.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// BodyError converts a ReadBody/DecodeJSON failure into 413 or 400.
func BodyError(err error) Error {
	if errors.Is(err, ErrBodyTooLarge) {
		return NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge)
	}
	return NewError("invalid_request", err.Error(), http.StatusBadRequest)
}

// WriteError writes the envelope, stamping the chi request id and the trace id from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status
	if id := clean(middleware.GetReqID(ctx), 80); id != "" {
		payload["requestId"] = id
	}
	if id := clean(requestctx.TraceID(ctx), 64); id != "" {
		payload["traceId"] = id
	}

	WriteJSON(w, status, payload)
}

func clean(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
