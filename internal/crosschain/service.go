package crosschain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantbay/agentd/internal/observability"
	"github.com/quantbay/agentd/pkg/models"
)

// Sentinel errors mapped to HTTP codes at the API boundary.
var (
	ErrNotFound          = errors.New("intent not found")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrUnknownConnector  = errors.New("unknown connector")
	ErrUnverifiedInbound = errors.New("inbound message failed verification")
	ErrInvalidRequest    = errors.New("invalid intent request")
)

// Service owns the intent index, the inbound dedup set, and all state
// transitions. One service-wide mutex spans dedup, index, and state so every
// operation is serializable.
type Service struct {
	mu         sync.Mutex
	connectors map[string]Connector
	byID       map[string]*models.IntentRecord
	byClient   map[string]string
	applied    map[string]time.Time
	now        func() time.Time

	log     *observability.Logger
	metrics *observability.Metrics
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithNow overrides the time source.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithObservability attaches logging and metrics.
func WithObservability(log *observability.Logger, metrics *observability.Metrics) ServiceOption {
	return func(s *Service) {
		s.log = log
		s.metrics = metrics
	}
}

// NewService builds an intent service over the given connectors; nil uses the
// default stubs.
func NewService(connectors map[string]Connector, opts ...ServiceOption) *Service {
	if connectors == nil {
		connectors = DefaultConnectors()
	}
	s := &Service{
		connectors: connectors,
		byID:       map[string]*models.IntentRecord{},
		byClient:   map[string]string{},
		applied:    map[string]time.Time{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAndDispatch mints an intent and dispatches it through its connector,
// transitioning created → pending. A request whose client_request_id was seen
// before returns the existing intent unchanged.
func (s *Service) CreateAndDispatch(ctx context.Context, req *models.IntentCreateRequest) (*models.IntentRecord, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ClientRequestID != "" {
		if id, ok := s.byClient[req.ClientRequestID]; ok {
			intent := s.byID[id]
			s.evaluateTimeoutLocked(intent)
			return cloneIntent(intent), nil
		}
	}

	connector, ok := s.connectors[req.Target.Connector]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, req.Target.Connector)
	}

	now := s.now()
	intent := &models.IntentRecord{
		IntentID:        uuid.NewString(),
		ClientRequestID: req.ClientRequestID,
		SessionID:       req.SessionID,
		Goal:            req.Goal,
		Target:          req.Target,
		Asset:           req.Asset,
		State:           models.IntentCreated,
		CreatedUnixS:    now.Unix(),
	}
	if req.TimeoutSeconds > 0 {
		intent.ExpiresUnixS = now.Unix() + req.TimeoutSeconds
	}
	intent.Events = append(intent.Events, models.IntentEvent{
		TimestampUnixS: now.Unix(),
		State:          models.IntentCreated,
	})

	s.byID[intent.IntentID] = intent
	if req.ClientRequestID != "" {
		s.byClient[req.ClientRequestID] = intent.IntentID
	}

	dispatchID, err := connector.Dispatch(ctx, cloneIntent(intent))
	if err != nil {
		s.transitionLocked(intent, models.IntentFailed, "dispatch: "+err.Error(), "")
		return cloneIntent(intent), nil
	}
	intent.DispatchID = dispatchID
	s.transitionLocked(intent, models.IntentPending, "dispatched", "")

	if s.log != nil {
		s.log.Info(ctx, "intent dispatched",
			"intent_id", intent.IntentID,
			"connector", req.Target.Connector,
			"dispatch_id", dispatchID)
	}
	return cloneIntent(intent), nil
}

// Get returns the intent after timeout evaluation.
func (s *Service) Get(id string) (*models.IntentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.evaluateTimeoutLocked(intent)
	return cloneIntent(intent), nil
}

// Cancel transitions created|pending → cancelled.
func (s *Service) Cancel(id string) (*models.IntentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.evaluateTimeoutLocked(intent)

	switch intent.State {
	case models.IntentCreated, models.IntentPending:
		s.transitionLocked(intent, models.IntentCancelled, "cancelled by client", "")
		return cloneIntent(intent), nil
	}
	return nil, fmt.Errorf("%w: cancel from %s", ErrIllegalTransition, intent.State)
}

// Refund transitions failed → refunded.
func (s *Service) Refund(id string) (*models.IntentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.evaluateTimeoutLocked(intent)

	if intent.State != models.IntentFailed {
		return nil, fmt.Errorf("%w: refund from %s", ErrIllegalTransition, intent.State)
	}
	s.transitionLocked(intent, models.IntentRefunded, "refund issued", "")
	return cloneIntent(intent), nil
}

// ApplyInbound verifies and applies a settlement message. A replay of an
// already-seen (connector, message_id) pair returns applied=false with the
// current record; a message against a terminal intent records an event but
// leaves the state alone.
func (s *Service) ApplyInbound(req *models.InboundRequest) (*models.InboundResponse, error) {
	connector, ok := s.connectors[req.Connector]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, req.Connector)
	}
	if !connector.VerifyInbound(req) {
		return nil, ErrUnverifiedInbound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.byID[req.IntentID]
	if !ok {
		return nil, ErrNotFound
	}
	s.evaluateTimeoutLocked(intent)

	key := connectorKey(req.Connector, req.MessageID)
	if _, seen := s.applied[key]; seen {
		return &models.InboundResponse{Applied: false, Intent: cloneIntent(intent)}, nil
	}

	intent.Events = append(intent.Events, models.IntentEvent{
		TimestampUnixS: s.now().Unix(),
		State:          intent.State,
		Detail:         "inbound: " + req.Status,
		MessageID:      req.MessageID,
	})

	if !intent.State.Terminal() {
		switch req.Status {
		case "return_completed", "settled":
			s.transitionLocked(intent, models.IntentSettled, req.Detail, req.MessageID)
		case "failed":
			s.transitionLocked(intent, models.IntentFailed, req.Detail, req.MessageID)
		case "execution_completed":
			// Progress marker only; the event above is the record.
		}
	}

	s.applied[key] = s.now()
	return &models.InboundResponse{Applied: true, Intent: cloneIntent(intent)}, nil
}

// Sweep runs timeout evaluation across all intents and prunes applied-set
// entries older than retention. Zero retention keeps everything.
func (s *Service) Sweep(retention time.Duration) (timedOut, pruned int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, intent := range s.byID {
		if s.evaluateTimeoutLocked(intent) {
			timedOut++
		}
	}
	if retention > 0 {
		cutoff := s.now().Add(-retention)
		for key, at := range s.applied {
			if at.Before(cutoff) {
				delete(s.applied, key)
				pruned++
			}
		}
	}
	return timedOut, pruned
}

func (s *Service) evaluateTimeoutLocked(intent *models.IntentRecord) bool {
	if intent.State != models.IntentPending || intent.ExpiresUnixS == 0 {
		return false
	}
	if s.now().Unix() <= intent.ExpiresUnixS {
		return false
	}
	s.transitionLocked(intent, models.IntentFailed, "timeout", "")
	return true
}

func (s *Service) transitionLocked(intent *models.IntentRecord, to models.IntentState, detail, messageID string) {
	from := intent.State
	intent.State = to
	intent.Events = append(intent.Events, models.IntentEvent{
		TimestampUnixS: s.now().Unix(),
		State:          to,
		Detail:         detail,
		MessageID:      messageID,
	})
	if s.metrics != nil {
		s.metrics.RecordIntentTransition(string(from), string(to))
	}
}

func validateCreate(req *models.IntentCreateRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}
	switch req.Goal {
	case models.GoalDeposit, models.GoalWithdraw, models.GoalPathCRoundtrip:
	default:
		return fmt.Errorf("%w: goal %q", ErrInvalidRequest, req.Goal)
	}
	switch req.Asset.Kind {
	case "native", "erc20":
	default:
		return fmt.Errorf("%w: asset kind %q", ErrInvalidRequest, req.Asset.Kind)
	}
	if req.Asset.Amount == "" {
		return fmt.Errorf("%w: asset amount is required", ErrInvalidRequest)
	}
	if req.Target.Connector == "" {
		return fmt.Errorf("%w: target connector is required", ErrInvalidRequest)
	}
	return nil
}

func cloneIntent(intent *models.IntentRecord) *models.IntentRecord {
	if intent == nil {
		return nil
	}
	clone := *intent
	clone.Events = append([]models.IntentEvent(nil), intent.Events...)
	return &clone
}
