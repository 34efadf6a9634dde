package models

// Recommendation intents in the demo vocabulary. Anything the model returns
// outside this set is treated as plain chat.
const (
	IntentChat         = "chat"
	IntentStartDCA     = "start_dca"
	IntentStartGrid    = "start_grid"
	IntentStartMeanRev = "start_mean_reversion"
	IntentStartMartin  = "start_martingale"
	IntentNone         = "none"
	IntentBuyToken     = "buy_token"
)

// Action is a single executable step proposed by a plan. After normalization a
// plan carries at most one action and Type is a member of the demo vocabulary.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// Plan is the structured output contract of the LLM. Params is an open mapping;
// typed readers live in the strategy package.
type Plan struct {
	AssistantText string         `json:"assistant_text"`
	Intent        string         `json:"intent"`
	Params        map[string]any `json:"params"`
	Rationale     string         `json:"rationale,omitempty"`
	RiskNotes     []string       `json:"risk_notes,omitempty"`
	Actions       []Action       `json:"actions"`
}

// Routing is the stub routing advisory attached to previews.
type Routing struct {
	Route  string `json:"route"`
	Reason string `json:"reason"`
	Stub   bool   `json:"stub"`
}

// ExecutionPreview is an LLM-authored advisory that always requires explicit
// user confirmation before anything is signed or sent.
type ExecutionPreview struct {
	Mode                 string         `json:"mode"`
	Intent               string         `json:"intent"`
	Params               map[string]any `json:"params"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Actions              []Action       `json:"actions"`
	Routing              *Routing       `json:"routing,omitempty"`
}

// ChatRequest is the body of POST /chat and POST /chat/stream.
type ChatRequest struct {
	UserInput string `json:"user_input"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the synchronous chat reply and the payload of the SSE
// terminal "done" event.
type ChatResponse struct {
	SessionID        string            `json:"session_id"`
	AssistantText    string            `json:"assistant_text"`
	Actions          []Action          `json:"actions"`
	ExecutionPreview *ExecutionPreview `json:"execution_preview"`
	ExecutionPlan    *ExecutionPlan    `json:"execution_plan,omitempty"`
	StrategyType     string            `json:"strategy_type,omitempty"`
	StrategyLabel    string            `json:"strategy_label,omitempty"`
}

// StreamChunkEvent is the payload of an SSE "chunk" event. Sequence starts at
// zero and increases by one per chunk within a stream.
type StreamChunkEvent struct {
	SessionID string `json:"session_id"`
	Sequence  int    `json:"sequence"`
	DeltaText string `json:"delta_text"`
}

// StreamErrorEvent is the payload of an SSE "error" event.
type StreamErrorEvent struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}
