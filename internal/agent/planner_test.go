package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/quantbay/agentd/pkg/models"
)

// fakeProvider replays scripted responses, one per Complete call.
type fakeProvider struct {
	responses [][]*CompletionChunk
	calls     int
	lastReq   *CompletionRequest
}

func (f *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	f.lastReq = req
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	ch := make(chan *CompletionChunk, len(f.responses[idx])+1)
	for _, c := range f.responses[idx] {
		ch <- c
	}
	ch <- &CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Models() []Model { return []Model{{ID: "fake-1"}} }

func (f *fakeProvider) SupportsTools() bool { return true }

func textChunks(text string) []*CompletionChunk {
	return []*CompletionChunk{{Text: text}}
}

type echoTool struct{ lastInput json.RawMessage }

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "echoes input" }
func (t *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"v":{"type":"string"}}}`)
}
func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	t.lastInput = params
	return &ToolResult{Content: `{"ok":true,"echo":` + string(params) + `}`}, nil
}

type slowTool struct{}

func (slowTool) Name() string        { return "slow" }
func (slowTool) Description() string { return "never returns in time" }
func (slowTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (slowTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestPlanner(p LLMProvider, tools ...Tool) *Planner {
	registry := NewToolRegistry()
	for _, t := range tools {
		registry.Register(t)
	}
	exec := NewToolExecutor(registry, ToolExecConfig{PerToolTimeout: 100 * time.Millisecond}, nil, nil)
	return NewPlanner(p, registry, exec, PlannerConfig{MaxIters: 3, LLMTimeout: time.Second}, nil, nil, nil)
}

func TestSimplePlannerParsesJSON(t *testing.T) {
	plan := `{"intent":"chat","assistant_text":"ok","params":{},"actions":[]}`
	p := newTestPlanner(&fakeProvider{responses: [][]*CompletionChunk{textChunks(plan)}})

	got, err := p.Plan(context.Background(), PlanInput{UserInput: "hello"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got.AssistantText != "ok" || got.Intent != "chat" {
		t.Errorf("plan = %+v", got)
	}
}

func TestSimplePlannerFallsBackToChatOnNonJSON(t *testing.T) {
	p := newTestPlanner(&fakeProvider{responses: [][]*CompletionChunk{textChunks("just some prose")}})

	got, err := p.Plan(context.Background(), PlanInput{UserInput: "hi"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got.Intent != models.IntentChat || got.AssistantText != "just some prose" {
		t.Errorf("plan = %+v", got)
	}
}

func TestSimplePlannerEmitsDeltas(t *testing.T) {
	fp := &fakeProvider{responses: [][]*CompletionChunk{{
		{Text: "hel"}, {Text: "lo"},
	}}}
	p := newTestPlanner(fp)

	var deltas []string
	_, err := p.Plan(context.Background(), PlanInput{
		UserInput:   "hi",
		OnTextDelta: func(d string) { deltas = append(deltas, d) },
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if strings.Join(deltas, "") != "hello" {
		t.Errorf("deltas = %v", deltas)
	}
}

func TestPlannerUpstreamStreamingFlag(t *testing.T) {
	reply := `{"intent":"chat","assistant_text":"ok","actions":[]}`

	fp := &fakeProvider{responses: [][]*CompletionChunk{textChunks(reply)}}
	p := newTestPlanner(fp)
	if _, err := p.Plan(context.Background(), PlanInput{UserInput: "hi"}); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !fp.lastReq.Stream {
		t.Error("default config should request a streamed completion")
	}

	fp = &fakeProvider{responses: [][]*CompletionChunk{textChunks(reply)}}
	p = NewPlanner(fp, nil, nil, PlannerConfig{
		MaxIters:                 3,
		LLMTimeout:               time.Second,
		DisableUpstreamStreaming: true,
	}, nil, nil, nil)
	if _, err := p.Plan(context.Background(), PlanInput{UserInput: "hi"}); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if fp.lastReq.Stream {
		t.Error("disabled streaming should request a blocking completion")
	}
}

func TestToolPlannerExecutesToolsThenReturnsPlan(t *testing.T) {
	tool := &echoTool{}
	finalPlan := `{"intent":"start_dca","assistant_text":"dca it","params":{"symbol":"BTCUSDT"},"actions":[{"type":"start_dca","params":{}}]}`
	fp := &fakeProvider{responses: [][]*CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "t1", Name: "echo", Input: json.RawMessage(`{"v":"x"}`)}}},
		textChunks(finalPlan),
	}}
	p := newTestPlanner(fp, tool)

	got, err := p.Plan(context.Background(), PlanInput{UserInput: "recommend", UseTools: true})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got.Intent != "start_dca" {
		t.Errorf("intent = %q", got.Intent)
	}
	if tool.lastInput == nil {
		t.Error("tool was never executed")
	}
	// Second call must include the assistant echo and a tool result message.
	msgs := fp.lastReq.Messages
	if len(msgs) < 3 {
		t.Fatalf("expected history with tool round, got %d messages", len(msgs))
	}
	if msgs[len(msgs)-2].Role != "assistant" || len(msgs[len(msgs)-2].ToolCalls) != 1 {
		t.Errorf("missing assistant tool_use echo: %+v", msgs[len(msgs)-2])
	}
	if msgs[len(msgs)-1].Role != "tool" || len(msgs[len(msgs)-1].ToolResults) != 1 {
		t.Errorf("missing tool result message: %+v", msgs[len(msgs)-1])
	}
}

func TestToolPlannerTimeoutSubstitutesErrorJSON(t *testing.T) {
	finalPlan := `{"intent":"chat","assistant_text":"done","actions":[]}`
	fp := &fakeProvider{responses: [][]*CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "t1", Name: "slow", Input: json.RawMessage(`{}`)}}},
		textChunks(finalPlan),
	}}
	p := newTestPlanner(fp, slowTool{})

	_, err := p.Plan(context.Background(), PlanInput{UserInput: "x", UseTools: true})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	msgs := fp.lastReq.Messages
	result := msgs[len(msgs)-1].ToolResults[0]
	if !result.IsError {
		t.Fatal("expected error result for timed-out tool")
	}
	var envelope struct {
		Ok    bool `json:"ok"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(result.Content), &envelope); err != nil {
		t.Fatalf("result content is not the error envelope: %q", result.Content)
	}
	if envelope.Ok || envelope.Error.Type != "timeout" {
		t.Errorf("envelope = %+v", envelope)
	}
}

func TestToolPlannerIterationBudget(t *testing.T) {
	// Model keeps requesting tools forever.
	fp := &fakeProvider{responses: [][]*CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "t", Name: "echo", Input: json.RawMessage(`{}`)}}},
	}}
	p := newTestPlanner(fp, &echoTool{})

	_, err := p.Plan(context.Background(), PlanInput{UserInput: "x", UseTools: true})
	if err != ErrToolCallLimit {
		t.Errorf("err = %v, want ErrToolCallLimit", err)
	}
	if fp.calls != 3 {
		t.Errorf("model calls = %d, want 3 (MaxIters)", fp.calls)
	}
}

func TestParsePlanText(t *testing.T) {
	fenced := "```json\n{\"intent\":\"chat\",\"assistant_text\":\"hi\",\"actions\":[]}\n```"
	plan := ParsePlanText(fenced)
	if plan.AssistantText != "hi" {
		t.Errorf("fenced parse = %+v", plan)
	}

	padded := "  \n {\"intent\":\"none\",\"assistant_text\":\"wait\",\"actions\":[]} \n"
	plan = ParsePlanText(padded)
	if plan.Intent != "none" {
		t.Errorf("padded parse = %+v", plan)
	}

	plan = ParsePlanText("{broken json")
	if plan.Intent != models.IntentChat || plan.AssistantText != "{broken json" {
		t.Errorf("broken parse = %+v", plan)
	}

	// Valid JSON that violates the plan schema degrades to chat too.
	rejected := `{"intent":"dca","actions":"not-an-array"}`
	plan = ParsePlanText(rejected)
	if plan.Intent != models.IntentChat || plan.AssistantText != rejected {
		t.Errorf("schema-rejected parse = %+v", plan)
	}
}

func TestRegistryUnknownToolIsErrorResult(t *testing.T) {
	reg := NewToolRegistry()
	res, err := reg.Execute(context.Background(), "missing", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "tool not found") {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryPreservesOrder(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(&echoTool{})
	reg.Register(slowTool{})
	tools := reg.AsLLMTools()
	if len(tools) != 2 || tools[0].Name() != "echo" || tools[1].Name() != "slow" {
		t.Errorf("order = %v", []string{tools[0].Name(), tools[1].Name()})
	}
}
