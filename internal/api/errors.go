package api

import (
	"encoding/json"
	"net/http"
)

// Stable error code strings of the HTTP error envelope.
const (
	codeValidationError      = "validation_error"
	codeInvalidInput         = "invalid_input"
	codeInputTooLarge        = "input_too_large"
	codeNotReady             = "not_ready"
	codeLLMTimeout           = "llm_timeout"
	codeUpstreamTimeout      = "upstream_timeout"
	codeUpstreamNetworkError = "upstream_network_error"
	codeToolCallLimit        = "tool_call_limit_exceeded"
	codeNotFound             = "not_found"
	codeCannotCancel         = "cannot_cancel"
	codeCannotRefund         = "cannot_refund"
	codeUnauthorized         = "unauthorized"
	codeUnverifiedInbound    = "unverified_inbound"
	codeUnsupportedConnector = "unsupported_connector"
	codeStreamError          = "stream_error"
	codeInternalError        = "internal_error"
)

// errorEnvelope is the uniform error body.
type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// apiError pairs an envelope with its HTTP status. unclassified marks a
// failure no taxonomy branch matched; the SSE path reports those as
// stream_error instead of the synchronous fallback code.
type apiError struct {
	status       int
	envelope     errorEnvelope
	unclassified bool
}

func newAPIError(status int, code, message string) *apiError {
	return &apiError{status: status, envelope: errorEnvelope{Code: code, Message: message}}
}

func (e *apiError) withDetails(details any) *apiError {
	e.envelope.Details = details
	return e
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, err *apiError) {
	writeJSON(w, err.status, err.envelope)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeAPIError(w, newAPIError(status, code, message))
}
