package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quantbay/agentd/internal/agent"
	"github.com/quantbay/agentd/internal/config"
	"github.com/quantbay/agentd/internal/crosschain"
	"github.com/quantbay/agentd/internal/market"
	"github.com/quantbay/agentd/internal/sessions"
	"github.com/quantbay/agentd/internal/strategy"
	"github.com/quantbay/agentd/pkg/models"
)

// stubPlanner returns a fixed plan, optionally replaying deltas first.
type stubPlanner struct {
	plan   *models.Plan
	err    error
	deltas []string
	block  bool
}

func (p *stubPlanner) Plan(ctx context.Context, in agent.PlanInput) (*models.Plan, error) {
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if in.OnTextDelta != nil {
		for _, d := range p.deltas {
			in.OnTextDelta(d)
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	clone := *p.plan
	return &clone, nil
}

func testConfig() *config.Config {
	return &config.Config{
		HTTPAddr:               ":0",
		MaxInputChars:          2000,
		SessionTTL:             time.Minute,
		UseSimpleStrategy:      true,
		StreamChunkSize:        1000,
		StreamDelay:            0,
		StreamKeepalive:        0,
		StreamTotalTimeout:     5 * time.Second,
		CEXDefaultQuote:        "USDT",
		KlineInterval:          "1h",
		KlineLimit:             60,
		DefaultSymbol:          "BTCUSDT",
		EVMRPCURL:              "http://localhost:8545",
		RouterAddress:          "0x1111111111111111111111111111111111111111",
		WETHAddress:            "0x2222222222222222222222222222222222222222",
		DemoTokenAddress:       "0x3333333333333333333333333333333333333333",
		DemoTokenSymbol:        "TokenDemo",
		CrossChainInboundToken: "secret",
	}
}

func newTestServer(t *testing.T, planner Planner, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	srv := NewServer(Deps{
		Config:     cfg,
		Sessions:   sessions.NewStore(cfg.SessionTTL),
		Planner:    planner,
		Normalizer: strategy.NewNormalizer(nil),
		Intents:    crosschain.NewService(nil),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &stubPlanner{plan: &models.Plan{AssistantText: "x"}}, nil)

	resp := postJSON(t, ts.URL+"/health", map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestChatPlainReply(t *testing.T) {
	planner := &stubPlanner{plan: &models.Plan{
		AssistantText: "ok",
		Intent:        "chat",
		Actions:       []models.Action{},
	}}
	ts := newTestServer(t, planner, nil)

	resp := postJSON(t, ts.URL+"/chat", models.ChatRequest{UserInput: "hello", SessionID: "t"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[models.ChatResponse](t, resp)
	if body.SessionID != "t" || body.AssistantText != "ok" {
		t.Errorf("body = %+v", body)
	}
	if len(body.Actions) != 0 || body.ExecutionPreview != nil {
		t.Errorf("unexpected preview/actions: %+v", body)
	}
}

func TestChatValidation(t *testing.T) {
	ts := newTestServer(t, &stubPlanner{plan: &models.Plan{AssistantText: "x"}}, func(c *config.Config) {
		c.MaxInputChars = 10
	})

	resp, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("malformed body: status = %d, want 422", resp.StatusCode)
	}
	env := decodeBody[errorEnvelope](t, resp)
	if env.Code != codeValidationError {
		t.Errorf("code = %q", env.Code)
	}

	resp = postJSON(t, ts.URL+"/chat", models.ChatRequest{UserInput: "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty input: status = %d, want 400", resp.StatusCode)
	}
	env = decodeBody[errorEnvelope](t, resp)
	if env.Code != codeInvalidInput {
		t.Errorf("code = %q", env.Code)
	}

	resp = postJSON(t, ts.URL+"/chat", models.ChatRequest{UserInput: strings.Repeat("a", 11)})
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized input: status = %d, want 413", resp.StatusCode)
	}
	env = decodeBody[errorEnvelope](t, resp)
	if env.Code != codeInputTooLarge {
		t.Errorf("code = %q", env.Code)
	}
}

func fakeExchange(t *testing.T) *market.Client {
	t.Helper()
	rows := &strings.Builder{}
	rows.WriteString("[")
	for i := 0; i < 60; i++ {
		if i > 0 {
			rows.WriteString(",")
		}
		p := 100.0 + float64(i%7)
		raw, _ := json.Marshal(p)
		rows.WriteString(`[1700000000000,"` + string(raw) + `","` + string(raw) + `","` +
			string(raw) + `","` + string(raw) + `","50",1700003599999]`)
	}
	rows.WriteString("]")

	exchange := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(rows.String()))
	}))
	t.Cleanup(exchange.Close)
	return market.NewClient(exchange.URL, "USDT", time.Second)
}

func TestChatStrategyRecommendationBackfills(t *testing.T) {
	planner := &stubPlanner{plan: &models.Plan{
		AssistantText: "try dca",
		Intent:        "start_dca",
		Actions:       []models.Action{{Type: "start_dca", Params: map[string]any{"symbol": "BTCUSDT"}}},
	}}

	cfg := testConfig()
	srv := NewServer(Deps{
		Config:     cfg,
		Sessions:   sessions.NewStore(cfg.SessionTTL),
		Planner:    planner,
		Market:     fakeExchange(t),
		Normalizer: strategy.NewNormalizer(nil),
		Intents:    crosschain.NewService(nil),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp := postJSON(t, ts.URL+"/chat", models.ChatRequest{UserInput: "推荐一个BTC策略"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[models.ChatResponse](t, resp)

	if body.ExecutionPreview == nil {
		t.Fatal("missing execution_preview")
	}
	if body.ExecutionPreview.Mode != "preview" {
		t.Errorf("mode = %q, want preview", body.ExecutionPreview.Mode)
	}
	if !body.ExecutionPreview.RequiresConfirmation {
		t.Error("requires_confirmation not set")
	}
	if len(body.ExecutionPreview.Actions) != 1 || body.ExecutionPreview.Actions[0].Type != "start_dca" {
		t.Errorf("preview actions = %+v", body.ExecutionPreview.Actions)
	}
	params := body.ExecutionPreview.Params
	if params["take_profit_percent"] != 4.0 {
		t.Errorf("take_profit_percent = %v, want 4", params["take_profit_percent"])
	}
	if params["stop_loss_percent"] != 10.0 {
		t.Errorf("stop_loss_percent = %v, want 10", params["stop_loss_percent"])
	}
	if params["entry_price_range"] == nil {
		t.Error("entry_price_range not back-filled")
	}
	if body.StrategyType != "start_dca" || body.StrategyLabel != "智能DCA" {
		t.Errorf("strategy type/label = %q/%q", body.StrategyType, body.StrategyLabel)
	}
}

func TestChatBuyFastPath(t *testing.T) {
	ts := newTestServer(t, &stubPlanner{plan: &models.Plan{AssistantText: "unused"}}, nil)

	resp := postJSON(t, ts.URL+"/chat", models.ChatRequest{
		UserInput: "给我买 200 PAS 的 TokenDemo",
		SessionID: "buy1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[models.ChatResponse](t, resp)

	if body.SessionID != "buy1" {
		t.Errorf("session_id = %q", body.SessionID)
	}
	if body.ExecutionPreview == nil || body.ExecutionPreview.Intent != models.IntentBuyToken {
		t.Fatalf("preview = %+v", body.ExecutionPreview)
	}
	if body.ExecutionPreview.Mode != "preview" {
		t.Errorf("mode = %q, want preview", body.ExecutionPreview.Mode)
	}
	plan := body.ExecutionPlan
	if plan == nil {
		t.Fatal("missing execution_plan")
	}
	if plan.Type != "buy_token" || plan.AmountInPAS != "200" {
		t.Errorf("plan = %+v", plan)
	}
	if plan.TokenOut.Symbol != "TokenDemo" {
		t.Errorf("token_out = %+v", plan.TokenOut)
	}
	if len(plan.Steps) != 2 || plan.Steps[0].Kind != "xcm_transfer" || plan.Steps[1].Kind != "uniswap_v2_swap" {
		t.Errorf("steps = %+v", plan.Steps)
	}
}

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	defer resp.Body.Close()

	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.name != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return events
}

func TestChatStreamChunksAndDone(t *testing.T) {
	// The stub streams the raw plan JSON; the extractor should pull out only
	// the assistant_text value.
	raw := `{"intent":"chat","assistant_text":"hello world","actions":[]}`
	planner := &stubPlanner{
		plan:   &models.Plan{AssistantText: "hello world", Intent: "chat", Actions: []models.Action{}},
		deltas: []string{raw[:20], raw[20:]},
	}
	ts := newTestServer(t, planner, nil)

	resp := postJSON(t, ts.URL+"/chat/stream", models.ChatRequest{UserInput: "hi", SessionID: "s"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q", ct)
	}
	if resp.Header.Get("X-Accel-Buffering") != "no" {
		t.Error("missing X-Accel-Buffering header")
	}

	events := readSSE(t, resp)
	if len(events) < 2 {
		t.Fatalf("events = %+v", events)
	}

	var text strings.Builder
	seq := 0
	for _, ev := range events[:len(events)-1] {
		if ev.name != "chunk" {
			t.Fatalf("unexpected event %q before done", ev.name)
		}
		var chunk models.StreamChunkEvent
		if err := json.Unmarshal([]byte(ev.data), &chunk); err != nil {
			t.Fatalf("chunk payload: %v", err)
		}
		if chunk.Sequence != seq {
			t.Errorf("sequence = %d, want %d", chunk.Sequence, seq)
		}
		seq++
		text.WriteString(chunk.DeltaText)
	}
	if text.String() != "hello world" {
		t.Errorf("streamed text = %q", text.String())
	}

	last := events[len(events)-1]
	if last.name != "done" {
		t.Fatalf("last event = %q", last.name)
	}
	var done models.ChatResponse
	if err := json.Unmarshal([]byte(last.data), &done); err != nil {
		t.Fatalf("done payload: %v", err)
	}
	if done.AssistantText != "hello world" || done.SessionID != "s" {
		t.Errorf("done = %+v", done)
	}
}

func TestChatStreamBuyIncludesPlan(t *testing.T) {
	ts := newTestServer(t, &stubPlanner{plan: &models.Plan{AssistantText: "x"}}, nil)

	resp := postJSON(t, ts.URL+"/chat/stream", models.ChatRequest{
		UserInput: "buy 200 PAS TokenDemo",
		SessionID: "buy_sse",
	})
	events := readSSE(t, resp)
	if len(events) == 0 {
		t.Fatal("no events")
	}
	last := events[len(events)-1]
	if last.name != "done" {
		t.Fatalf("last event = %q", last.name)
	}
	var done models.ChatResponse
	if err := json.Unmarshal([]byte(last.data), &done); err != nil {
		t.Fatal(err)
	}
	if done.ExecutionPlan == nil || done.ExecutionPlan.AmountInPAS != "200" {
		t.Errorf("execution_plan = %+v", done.ExecutionPlan)
	}
	// Fallback chunking still produced at least one chunk before done.
	if events[0].name != "chunk" {
		t.Errorf("first event = %q, want chunk", events[0].name)
	}
}

func TestChatStreamTotalTimeout(t *testing.T) {
	ts := newTestServer(t, &stubPlanner{block: true}, func(c *config.Config) {
		c.StreamTotalTimeout = 50 * time.Millisecond
	})

	resp := postJSON(t, ts.URL+"/chat/stream", models.ChatRequest{UserInput: "hi", SessionID: "s"})
	events := readSSE(t, resp)
	if len(events) != 1 || events[0].name != "error" {
		t.Fatalf("events = %+v", events)
	}
	var errEv models.StreamErrorEvent
	if err := json.Unmarshal([]byte(events[0].data), &errEv); err != nil {
		t.Fatal(err)
	}
	if errEv.Code != codeUpstreamTimeout {
		t.Errorf("code = %q", errEv.Code)
	}
}

func TestChatStreamUnclassifiedErrorCode(t *testing.T) {
	ts := newTestServer(t, &stubPlanner{err: errors.New("boom")}, nil)

	resp := postJSON(t, ts.URL+"/chat/stream", models.ChatRequest{UserInput: "hi", SessionID: "s"})
	events := readSSE(t, resp)
	if len(events) != 1 || events[0].name != "error" {
		t.Fatalf("events = %+v", events)
	}
	var errEv models.StreamErrorEvent
	if err := json.Unmarshal([]byte(events[0].data), &errEv); err != nil {
		t.Fatal(err)
	}
	if errEv.Code != codeStreamError {
		t.Errorf("stream code = %q, want %q", errEv.Code, codeStreamError)
	}

	// The synchronous endpoint keeps the generic upstream code for the same
	// failure.
	resp = postJSON(t, ts.URL+"/chat", models.ChatRequest{UserInput: "hi"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	env := decodeBody[errorEnvelope](t, resp)
	if env.Code != codeUpstreamNetworkError {
		t.Errorf("chat code = %q, want %q", env.Code, codeUpstreamNetworkError)
	}
}

func TestCrossChainUnsupportedConnector(t *testing.T) {
	ts := newTestServer(t, &stubPlanner{plan: &models.Plan{AssistantText: "x"}}, nil)

	resp := postJSON(t, ts.URL+"/cross-chain/intents", models.IntentCreateRequest{
		SessionID: "s1",
		Goal:      models.GoalDeposit,
		Target:    models.IntentTarget{Connector: "wormhole", Destination: "evm"},
		Asset:     models.IntentAsset{Kind: "native", Amount: "1"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	env := decodeBody[errorEnvelope](t, resp)
	if env.Code != codeUnsupportedConnector {
		t.Errorf("code = %q, want %q", env.Code, codeUnsupportedConnector)
	}
}

func TestCrossChainIdempotentCreate(t *testing.T) {
	ts := newTestServer(t, &stubPlanner{plan: &models.Plan{AssistantText: "x"}}, nil)

	req := models.IntentCreateRequest{
		ClientRequestID: "req-1",
		SessionID:       "s1",
		Goal:            models.GoalDeposit,
		Target:          models.IntentTarget{Connector: models.ConnectorXCM, Destination: "evm"},
		Asset:           models.IntentAsset{Kind: "native", Amount: "100"},
	}

	first := decodeBody[models.IntentRecord](t, postJSON(t, ts.URL+"/cross-chain/intents", req))
	second := decodeBody[models.IntentRecord](t, postJSON(t, ts.URL+"/cross-chain/intents", req))

	if first.State != models.IntentPending || second.State != models.IntentPending {
		t.Errorf("states = %s, %s", first.State, second.State)
	}
	if first.IntentID != second.IntentID {
		t.Errorf("intent ids differ: %s vs %s", first.IntentID, second.IntentID)
	}
}

func TestCrossChainInboundAuthFlow(t *testing.T) {
	ts := newTestServer(t, &stubPlanner{plan: &models.Plan{AssistantText: "x"}}, nil)

	created := decodeBody[models.IntentRecord](t, postJSON(t, ts.URL+"/cross-chain/intents", models.IntentCreateRequest{
		SessionID: "s1",
		Goal:      models.GoalDeposit,
		Target:    models.IntentTarget{Connector: models.ConnectorXCM, Destination: "evm"},
		Asset:     models.IntentAsset{Kind: "native", Amount: "1"},
	}))

	inbound := models.InboundRequest{
		Connector: models.ConnectorXCM,
		IntentID:  created.IntentID,
		MessageID: "m1",
		Status:    "settled",
		Verified:  true,
	}
	post := func(auth string, body models.InboundRequest) *http.Response {
		raw, _ := json.Marshal(body)
		httpReq, _ := http.NewRequest(http.MethodPost, ts.URL+"/cross-chain/inbound", bytes.NewReader(raw))
		if auth != "" {
			httpReq.Header.Set(inboundAuthHeader, auth)
		}
		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	// No header.
	resp := post("", inbound)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no auth: status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Correct header, unverified message.
	unverified := inbound
	unverified.Verified = false
	resp = post("secret", unverified)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unverified: status = %d", resp.StatusCode)
	}
	env := decodeBody[errorEnvelope](t, resp)
	if env.Code != codeUnverifiedInbound {
		t.Errorf("code = %q", env.Code)
	}

	// Verified settlement applies.
	applied := decodeBody[models.InboundResponse](t, post("secret", inbound))
	if !applied.Applied || applied.Intent.State != models.IntentSettled {
		t.Errorf("applied = %+v", applied)
	}

	// Replay does not.
	replay := decodeBody[models.InboundResponse](t, post("secret", inbound))
	if replay.Applied {
		t.Error("replay was applied")
	}
}

func TestCrossChainGetCancelRefundErrors(t *testing.T) {
	ts := newTestServer(t, &stubPlanner{plan: &models.Plan{AssistantText: "x"}}, nil)

	resp, err := http.Get(ts.URL + "/cross-chain/intents/unknown")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get unknown: status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	created := decodeBody[models.IntentRecord](t, postJSON(t, ts.URL+"/cross-chain/intents", models.IntentCreateRequest{
		SessionID: "s1",
		Goal:      models.GoalWithdraw,
		Target:    models.IntentTarget{Connector: models.ConnectorHyperbridge, Destination: "evm"},
		Asset:     models.IntentAsset{Kind: "erc20", Amount: "5", TokenAddress: "0x1"},
	}))

	// Refund from pending is a 409.
	resp = postJSON(t, ts.URL+"/cross-chain/intents/"+created.IntentID+"/refund", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("refund pending: status = %d", resp.StatusCode)
	}
	env := decodeBody[errorEnvelope](t, resp)
	if env.Code != codeCannotRefund {
		t.Errorf("code = %q", env.Code)
	}

	// Cancel works from pending.
	cancelled := decodeBody[models.IntentRecord](t, postJSON(t, ts.URL+"/cross-chain/intents/"+created.IntentID+"/cancel", nil))
	if cancelled.State != models.IntentCancelled {
		t.Errorf("state = %s", cancelled.State)
	}

	// Second cancel is a 409 cannot_cancel.
	resp = postJSON(t, ts.URL+"/cross-chain/intents/"+created.IntentID+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("double cancel: status = %d", resp.StatusCode)
	}
	env = decodeBody[errorEnvelope](t, resp)
	if env.Code != codeCannotCancel {
		t.Errorf("code = %q", env.Code)
	}
}

func TestChatNotReadyWithoutPlanner(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp := postJSON(t, ts.URL+"/chat", models.ChatRequest{UserInput: "hello"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	env := decodeBody[errorEnvelope](t, resp)
	if env.Code != codeNotReady {
		t.Errorf("code = %q", env.Code)
	}
}
