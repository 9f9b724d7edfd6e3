// Package apierror defines the closed set of client-visible error
// kinds the router can return, each mapped to a fixed HTTP status.
package apierror

import (
	"encoding/json"
	"net/http"
)

type Kind string

const (
	KindInvalidRequest     Kind = "invalid_request_error"
	KindUnauthorized       Kind = "authentication_error"
	KindForbidden          Kind = "permission_error"
	KindNotFound           Kind = "not_found_error"
	KindUpstreamTimeout    Kind = "upstream_timeout"
	KindUpstreamError      Kind = "upstream_error"
	KindInternal           Kind = "api_error"
	KindServiceUnavailable Kind = "overloaded_error"
)

var statusByKind = map[Kind]int{
	KindInvalidRequest:     http.StatusBadRequest,
	KindUnauthorized:       http.StatusUnauthorized,
	KindForbidden:          http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindUpstreamTimeout:    http.StatusGatewayTimeout,
	KindUpstreamError:      http.StatusBadGateway,
	KindInternal:           http.StatusInternalServerError,
	KindServiceUnavailable: http.StatusServiceUnavailable,
}

// Error is the router's single client-visible error type, threaded
// through the orchestrator instead of ad hoc http.Error calls.
type Error struct {
	Kind    Kind
	Message string
	Status  int
}

func New(kind Kind, message string) *Error {
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Kind: kind, Message: message, Status: status}
}

func (e *Error) Error() string {
	return e.Message
}

// WriteJSON writes the Anthropic-shaped error envelope
// {"type":"error","error":{"type":...,"message":...}}.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	body, _ := json.Marshal(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    e.Kind,
			"message": e.Message,
		},
	})
	w.Write(body)
}
