package models

// IntentState is the lifecycle state of a cross-chain intent. Transitions form
// a DAG: created → pending → {settled | failed}; pending|created → cancelled;
// failed → refunded.
type IntentState string

const (
	IntentCreated   IntentState = "created"
	IntentPending   IntentState = "pending"
	IntentSettled   IntentState = "settled"
	IntentFailed    IntentState = "failed"
	IntentCancelled IntentState = "cancelled"
	IntentRefunded  IntentState = "refunded"
)

// Terminal reports whether no inbound message may transition the state away.
func (s IntentState) Terminal() bool {
	switch s {
	case IntentSettled, IntentCancelled, IntentRefunded:
		return true
	}
	return false
}

// Cross-chain goals.
const (
	GoalDeposit        = "deposit"
	GoalWithdraw       = "withdraw"
	GoalPathCRoundtrip = "path_c_roundtrip"
)

// Connector names.
const (
	ConnectorXCM         = "xcm"
	ConnectorHyperbridge = "hyperbridge_ismp"
)

// IntentTarget names the connector and destination of an intent.
type IntentTarget struct {
	Connector   string `json:"connector"`
	Destination string `json:"destination"`
}

// IntentAsset describes what is being moved.
type IntentAsset struct {
	Kind         string `json:"kind"` // native | erc20
	Amount       string `json:"amount"`
	TokenAddress string `json:"token_address,omitempty"`
}

// IntentEvent is one entry of an intent's ordered event log.
type IntentEvent struct {
	TimestampUnixS int64       `json:"timestamp_unix_s"`
	State          IntentState `json:"state"`
	Detail         string      `json:"detail,omitempty"`
	MessageID      string      `json:"message_id,omitempty"`
}

// IntentRecord is the wire representation of a cross-chain intent.
type IntentRecord struct {
	IntentID        string        `json:"intent_id"`
	ClientRequestID string        `json:"client_request_id,omitempty"`
	SessionID       string        `json:"session_id"`
	Goal            string        `json:"goal"`
	Target          IntentTarget  `json:"target"`
	Asset           IntentAsset   `json:"asset"`
	State           IntentState   `json:"state"`
	DispatchID      string        `json:"dispatch_id,omitempty"`
	CreatedUnixS    int64         `json:"created_unix_s"`
	ExpiresUnixS    int64         `json:"expires_unix_s,omitempty"`
	Events          []IntentEvent `json:"events"`
}

// IntentCreateRequest is the body of POST /cross-chain/intents.
type IntentCreateRequest struct {
	ClientRequestID string       `json:"client_request_id,omitempty"`
	SessionID       string       `json:"session_id"`
	Goal            string       `json:"goal"`
	Target          IntentTarget `json:"target"`
	Asset           IntentAsset  `json:"asset"`
	TimeoutSeconds  int64        `json:"timeout_seconds,omitempty"`
}

// InboundRequest is an authenticated settlement message from a connector.
type InboundRequest struct {
	Connector string `json:"connector"`
	IntentID  string `json:"intent_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Verified  bool   `json:"verified"`
	Detail    string `json:"detail,omitempty"`
}

// InboundResponse reports whether an inbound message was applied (false on
// replay of an already-seen (connector, message_id) pair).
type InboundResponse struct {
	Applied bool          `json:"applied"`
	Intent  *IntentRecord `json:"intent"`
}
