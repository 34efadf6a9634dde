package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/quantbay/agentd/internal/agent"
	"github.com/quantbay/agentd/internal/agent/providers"
	"github.com/quantbay/agentd/internal/intent"
	"github.com/quantbay/agentd/internal/market"
	"github.com/quantbay/agentd/internal/observability"
	"github.com/quantbay/agentd/internal/sessions"
	"github.com/quantbay/agentd/internal/strategy"
	"github.com/quantbay/agentd/internal/tools"
	"github.com/quantbay/agentd/pkg/models"
)

// handleChat is the synchronous chat endpoint.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, apiErr := s.decodeChatRequest(r)
	if apiErr != nil {
		s.recordChat("chat", "error", start)
		writeAPIError(w, apiErr)
		return
	}

	resp, apiErr := s.runChat(r.Context(), req, nil)
	if apiErr != nil {
		s.recordChat("chat", apiErr.envelope.Code, start)
		writeAPIError(w, apiErr)
		return
	}

	s.recordChat("chat", "success", start)
	writeJSON(w, http.StatusOK, resp)
}

// decodeChatRequest parses and validates the request body.
func (s *Server) decodeChatRequest(r *http.Request) (*models.ChatRequest, *apiError) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, newAPIError(http.StatusUnprocessableEntity, codeValidationError, "malformed request body").
			withDetails(err.Error())
	}
	if strings.TrimSpace(req.UserInput) == "" {
		return nil, newAPIError(http.StatusBadRequest, codeInvalidInput, "user_input must not be empty")
	}
	if len([]rune(req.UserInput)) > s.cfg.MaxInputChars {
		return nil, newAPIError(http.StatusRequestEntityTooLarge, codeInputTooLarge,
			"user_input exceeds the configured limit")
	}
	return &req, nil
}

// runChat executes the full chat pipeline and returns the response or a typed
// error. onDelta, when set, receives progressive assistant text for SSE.
func (s *Server) runChat(ctx context.Context, req *models.ChatRequest, onDelta agent.OnTextDelta) (*models.ChatResponse, *apiError) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = sessions.NewSessionID()
	}
	ctx = observability.WithSessionID(ctx, sessionID)

	unlock := s.store.Lock(sessionID)
	defer unlock()

	// Deterministic buy fast-path: no model involved.
	if order, ok := intent.ParseBuy(req.UserInput); ok {
		return s.buyFastPath(sessionID, req.UserInput, order), nil
	}

	if s.planner == nil {
		return nil, newAPIError(http.StatusServiceUnavailable, codeNotReady, "model backend not initialized")
	}

	memory := s.store.LoadMemory(sessionID)
	snapshot := s.prefetchSnapshot(ctx, req.UserInput)

	plan, err := s.planner.Plan(ctx, agent.PlanInput{
		UserInput:   req.UserInput,
		System:      agent.BuildSystemPrompt(snapshot),
		Memory:      memory,
		OnTextDelta: onDelta,
		UseTools:    !s.cfg.UseSimpleStrategy,
	})
	if err != nil {
		return nil, planError(err)
	}

	s.normalizer.Normalize(plan, snapshot, s.cfg.DefaultSymbol)

	resp := &models.ChatResponse{
		SessionID:     sessionID,
		AssistantText: plan.AssistantText,
		Actions:       plan.Actions,
	}
	if resp.Actions == nil {
		resp.Actions = []models.Action{}
	}
	if plan.Intent != models.IntentChat {
		resp.ExecutionPreview = tools.BuildPreview(plan.Intent, previewParams(plan))
		resp.StrategyType = plan.Intent
		resp.StrategyLabel = strategy.Label(plan.Intent)
	}

	s.store.Append(sessionID,
		models.Message{Role: models.RoleUser, Content: req.UserInput},
		models.Message{Role: models.RoleAssistant, Content: plan.AssistantText},
	)

	return resp, nil
}

// buyFastPath returns the deterministic execution plan for a parsed buy order
// and records the exchange in session memory.
func (s *Server) buyFastPath(sessionID, userInput string, order intent.BuyOrder) *models.ChatResponse {
	plan := strategy.BuildBuyPlan(order, strategy.BuyPlanConfig{
		EVMRPCURL:    s.cfg.EVMRPCURL,
		Router:       s.cfg.RouterAddress,
		WETH:         s.cfg.WETHAddress,
		TokenAddress: s.cfg.DemoTokenAddress,
		TokenSymbol:  s.cfg.DemoTokenSymbol,
	})
	text := strategy.BuyAssistantText(order)

	preview := &models.ExecutionPreview{
		Mode:   "preview",
		Intent: models.IntentBuyToken,
		Params: map[string]any{
			"amount_in_pas": order.AmountPAS,
			"token_out":     order.TokenSymbol,
		},
		RequiresConfirmation: true,
		Actions:              []models.Action{},
		Routing: &models.Routing{
			Route:  "local_signer",
			Reason: "deterministic cross-chain recipe; sign locally",
			Stub:   true,
		},
	}

	s.store.Append(sessionID,
		models.Message{Role: models.RoleUser, Content: userInput},
		models.Message{Role: models.RoleAssistant, Content: text},
	)

	return &models.ChatResponse{
		SessionID:        sessionID,
		AssistantText:    text,
		Actions:          []models.Action{},
		ExecutionPreview: preview,
		ExecutionPlan:    plan,
	}
}

// prefetchSnapshot fetches market data when the input smells like a strategy
// request, so even the simple planner sees indicators. Failures degrade to no
// snapshot.
func (s *Server) prefetchSnapshot(ctx context.Context, userInput string) *market.Snapshot {
	if s.market == nil || intent.InferHint(userInput) != intent.HintStrategy {
		return nil
	}
	symbol := intent.ExtractSymbol(userInput, s.cfg.CEXDefaultQuote, s.cfg.DefaultSymbol)
	snapshot := s.market.FetchSnapshot(ctx, symbol, s.cfg.KlineInterval, s.cfg.KlineLimit)
	if !snapshot.Ok {
		if s.log != nil {
			s.log.Warn(ctx, "snapshot prefetch failed", "symbol", symbol, "error", snapshot.Error)
		}
		return nil
	}
	return &snapshot
}

// previewParams copies plan params without the embedded snapshot, which is too
// bulky for the preview payload.
func previewParams(plan *models.Plan) map[string]any {
	out := make(map[string]any, len(plan.Params))
	for k, v := range plan.Params {
		if k == "market_snapshot" {
			continue
		}
		out[k] = v
	}
	return out
}

// planError maps planner failures onto the error taxonomy.
func planError(err error) *apiError {
	switch {
	case errors.Is(err, agent.ErrToolCallLimit):
		return newAPIError(http.StatusBadGateway, codeToolCallLimit, "model exceeded the tool call budget")
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusGatewayTimeout, codeLLMTimeout, "model call timed out")
	}
	if providerErr, ok := providers.GetProviderError(err); ok {
		if providerErr.Reason == providers.FailTimeout {
			return newAPIError(http.StatusGatewayTimeout, codeLLMTimeout, "model call timed out")
		}
		return newAPIError(http.StatusBadGateway, codeUpstreamNetworkError, providerErr.Error())
	}
	unknown := newAPIError(http.StatusBadGateway, codeUpstreamNetworkError, err.Error())
	unknown.unclassified = true
	return unknown
}

func (s *Server) recordChat(endpoint, status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordChat(endpoint, status, time.Since(start).Seconds())
	}
}
