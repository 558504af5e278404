package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

// DefaultBodyLimit bounds JSON request bodies.
const DefaultBodyLimit int64 = 64 * 1024

var (
	ErrEmptyBody    = errors.New("httpx: empty request body")
	ErrBodyTooLarge = errors.New("httpx: request body too large")
)

// Error is the JSON error envelope written by every handler.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// WithDetails returns a copy of the error carrying extra top-level fields.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	e.Details = maps.Clone(details)
	return e
}

// WriteError writes err as JSON, filling request and trace ids from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	requestID := err.RequestID
	if requestID == "" {
		requestID = sanitize(middleware.GetReqID(ctx), 80)
	}
	traceID := err.TraceID
	if traceID == "" {
		traceID = sanitize(requestctx.TraceID(ctx), 64)
	}

	payload := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  status,
	}
	if requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID != "" {
		payload["trace_id"] = traceID
	}
	for k, v := range err.Details {
		payload[k] = v
	}
	WriteJSON(w, status, payload)
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// DecodeJSON reads at most limit bytes and decodes them into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, limit int64, dst any) error {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	if r.Body == nil {
		return ErrEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return fmt.Errorf("httpx: read body: %w", err)
	}
	if int64(len(data)) > limit {
		return ErrBodyTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("httpx: decode body: %w", err)
	}
	return nil
}

// BodyError maps a DecodeJSON failure onto an envelope.
func BodyError(err error) Error {
	switch {
	case errors.Is(err, ErrEmptyBody):
		return NewError("invalid_request", "request body is required", http.StatusBadRequest)
	case errors.Is(err, ErrBodyTooLarge):
		return NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge)
	default:
		return NewError("invalid_json", "request body is not valid JSON", http.StatusBadRequest)
	}
}

func sanitize(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
