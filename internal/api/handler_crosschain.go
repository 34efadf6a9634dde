package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quantbay/agentd/internal/crosschain"
	"github.com/quantbay/agentd/pkg/models"
)

// inboundAuthHeader carries the shared secret for connector callbacks.
const inboundAuthHeader = "x-crosschain-auth"

func (s *Server) handleIntentCreate(w http.ResponseWriter, r *http.Request) {
	if s.intents == nil {
		writeError(w, http.StatusServiceUnavailable, codeNotReady, "cross-chain service not initialized")
		return
	}

	var req models.IntentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeValidationError, "malformed request body")
		return
	}

	intent, err := s.intents.CreateAndDispatch(r.Context(), &req)
	if err != nil {
		s.writeIntentError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (s *Server) handleIntentGet(w http.ResponseWriter, r *http.Request) {
	intent, err := s.intents.Get(r.PathValue("id"))
	if err != nil {
		s.writeIntentError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (s *Server) handleIntentCancel(w http.ResponseWriter, r *http.Request) {
	intent, err := s.intents.Cancel(r.PathValue("id"))
	if err != nil {
		s.writeIntentError(w, err, codeCannotCancel)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (s *Server) handleIntentRefund(w http.ResponseWriter, r *http.Request) {
	intent, err := s.intents.Refund(r.PathValue("id"))
	if err != nil {
		s.writeIntentError(w, err, codeCannotRefund)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// handleInbound applies an authenticated settlement message. The shared-secret
// header is checked before the body is even read.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if s.cfg.CrossChainInboundToken == "" {
		writeError(w, http.StatusServiceUnavailable, codeNotReady, "inbound token not configured")
		return
	}
	provided := r.Header.Get(inboundAuthHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.CrossChainInboundToken)) != 1 {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing or invalid auth header")
		return
	}

	var req models.InboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeValidationError, "malformed request body")
		return
	}

	resp, err := s.intents.ApplyInbound(&req)
	if err != nil {
		s.writeIntentError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeIntentError maps service errors onto the taxonomy. conflictCode names
// the 409 code for the calling operation.
func (s *Server) writeIntentError(w http.ResponseWriter, err error, conflictCode string) {
	switch {
	case errors.Is(err, crosschain.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "unknown intent id")
	case errors.Is(err, crosschain.ErrIllegalTransition):
		if conflictCode == "" {
			conflictCode = codeValidationError
		}
		writeError(w, http.StatusConflict, conflictCode, err.Error())
	case errors.Is(err, crosschain.ErrUnverifiedInbound):
		writeError(w, http.StatusBadRequest, codeUnverifiedInbound, "connector verification failed")
	case errors.Is(err, crosschain.ErrUnknownConnector):
		writeError(w, http.StatusBadRequest, codeUnsupportedConnector, err.Error())
	case errors.Is(err, crosschain.ErrInvalidRequest):
		writeError(w, http.StatusUnprocessableEntity, codeValidationError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, err.Error())
	}
}
