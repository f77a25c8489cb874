// Package httputil writes the response envelope shared by every endpoint:
//
//	{"ok": true,  "data": ..., "meta": {...}}
//	{"ok": false, "error": {"code", "message", "details"}, "meta": {...}}
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/requestcontext"
)

const maxBodyBytes = 1 << 20

// APIVersion is reported in every response meta block.
var APIVersion = "v1"

// Meta describes the request that produced a response.
type Meta struct {
	RequestID      string `json:"request_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	ServerTime     string `json:"server_time"`
	Version        string `json:"version"`
}

// ErrorBody is the error member of a failed envelope.
type ErrorBody struct {
	Code    dErrors.Code   `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
	Meta  Meta       `json:"meta"`
}

func metaFor(r *http.Request) Meta {
	ctx := r.Context()
	return Meta{
		RequestID:      requestcontext.RequestID(ctx),
		IdempotencyKey: requestcontext.IdempotencyKey(ctx),
		ServerTime:     time.Now().UTC().Format(time.RFC3339),
		Version:        APIVersion,
	}
}

// WriteJSON writes a successful envelope.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, status, envelope{OK: true, Data: data, Meta: metaFor(r)})
}

// WriteError maps err to its code and status. Internal errors never leak
// their message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	body := &ErrorBody{Code: dErrors.CodeInternal, Message: "an unexpected error occurred"}
	if de, ok := dErrors.As(err); ok && de.Code != dErrors.CodeInternal && de.Code != dErrors.CodeInvariantViolation {
		body = &ErrorBody{Code: de.Code, Message: de.Message, Details: de.Details}
	}
	write(w, dErrors.HTTPStatus(body.Code), envelope{OK: false, Error: body, Meta: metaFor(r)})
}

func write(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WithIdempotencyKey returns r with the key recorded for the response meta.
func WithIdempotencyKey(r *http.Request, key string) *http.Request {
	if key == "" {
		return r
	}
	return r.WithContext(requestcontext.WithIdempotencyKey(r.Context(), key))
}

type validatable[T any] interface {
	*T
	Validate() error
}

// DecodeAndPrepare decodes a JSON body into T and runs its Validate method.
// On failure it writes the error response and returns false.
func DecodeAndPrepare[T any, PT validatable[T]](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	ctx := r.Context()
	req := new(T)

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
		logger.WarnContext(ctx, "failed to decode request body",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		WriteError(w, r, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}

	if err := PT(req).Validate(); err != nil {
		logger.WarnContext(ctx, "invalid request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		WriteError(w, r, err)
		return nil, false
	}
	return req, true
}
