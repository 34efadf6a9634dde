package crosschain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantbay/agentd/pkg/models"
)

func depositRequest(clientID string) *models.IntentCreateRequest {
	return &models.IntentCreateRequest{
		ClientRequestID: clientID,
		SessionID:       "s1",
		Goal:            models.GoalDeposit,
		Target:          models.IntentTarget{Connector: models.ConnectorXCM, Destination: "paseo_asset_hub_evm"},
		Asset:           models.IntentAsset{Kind: "native", Amount: "100"},
	}
}

func TestCreateAndDispatchTransitionsToPending(t *testing.T) {
	svc := NewService(nil)

	intent, err := svc.CreateAndDispatch(context.Background(), depositRequest(""))
	if err != nil {
		t.Fatalf("CreateAndDispatch: %v", err)
	}
	if intent.State != models.IntentPending {
		t.Errorf("state = %s, want pending", intent.State)
	}
	if intent.DispatchID == "" {
		t.Error("missing dispatch id")
	}
	if len(intent.Events) != 2 || intent.Events[0].State != models.IntentCreated || intent.Events[1].State != models.IntentPending {
		t.Errorf("events = %+v", intent.Events)
	}
}

func TestCreateIsIdempotentPerClientRequestID(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()

	first, err := svc.CreateAndDispatch(ctx, depositRequest("req-1"))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := svc.CreateAndDispatch(ctx, depositRequest("req-1"))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.IntentID != second.IntentID {
		t.Errorf("ids differ: %s vs %s", first.IntentID, second.IntentID)
	}
	if second.State != models.IntentPending {
		t.Errorf("state = %s, want pending", second.State)
	}
}

func TestCreateRejectsBadRequests(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()

	bad := depositRequest("")
	bad.Goal = "teleport"
	if _, err := svc.CreateAndDispatch(ctx, bad); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("bad goal: err = %v", err)
	}

	bad = depositRequest("")
	bad.Target.Connector = "carrier_pigeon"
	if _, err := svc.CreateAndDispatch(ctx, bad); !errors.Is(err, ErrUnknownConnector) {
		t.Errorf("bad connector: err = %v", err)
	}

	bad = depositRequest("")
	bad.Asset.Amount = ""
	if _, err := svc.CreateAndDispatch(ctx, bad); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing amount: err = %v", err)
	}
}

func TestInboundSettlesAndDedups(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()

	intent, _ := svc.CreateAndDispatch(ctx, depositRequest(""))

	inbound := &models.InboundRequest{
		Connector: models.ConnectorXCM,
		IntentID:  intent.IntentID,
		MessageID: "m1",
		Status:    "settled",
		Verified:  true,
	}
	resp, err := svc.ApplyInbound(inbound)
	if err != nil {
		t.Fatalf("ApplyInbound: %v", err)
	}
	if !resp.Applied || resp.Intent.State != models.IntentSettled {
		t.Errorf("resp = applied=%v state=%s", resp.Applied, resp.Intent.State)
	}

	// Replay of the same (connector, message_id) pair.
	again, err := svc.ApplyInbound(inbound)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again.Applied {
		t.Error("replay was applied")
	}
	if again.Intent.State != models.IntentSettled {
		t.Errorf("replay state = %s", again.Intent.State)
	}
}

func TestInboundVerificationAndLookup(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()
	intent, _ := svc.CreateAndDispatch(ctx, depositRequest(""))

	unverified := &models.InboundRequest{
		Connector: models.ConnectorXCM,
		IntentID:  intent.IntentID,
		MessageID: "m1",
		Status:    "settled",
		Verified:  false,
	}
	if _, err := svc.ApplyInbound(unverified); !errors.Is(err, ErrUnverifiedInbound) {
		t.Errorf("unverified: err = %v", err)
	}

	missing := &models.InboundRequest{
		Connector: models.ConnectorXCM,
		IntentID:  "nope",
		MessageID: "m1",
		Status:    "settled",
		Verified:  true,
	}
	if _, err := svc.ApplyInbound(missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing intent: err = %v", err)
	}
}

func TestInboundAgainstTerminalStateRecordsOnly(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()
	intent, _ := svc.CreateAndDispatch(ctx, depositRequest(""))

	if _, err := svc.Cancel(intent.IntentID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	resp, err := svc.ApplyInbound(&models.InboundRequest{
		Connector: models.ConnectorXCM,
		IntentID:  intent.IntentID,
		MessageID: "late",
		Status:    "failed",
		Verified:  true,
	})
	if err != nil {
		t.Fatalf("ApplyInbound: %v", err)
	}
	if !resp.Applied {
		t.Error("event should still be applied against a terminal intent")
	}
	if resp.Intent.State != models.IntentCancelled {
		t.Errorf("state = %s, want cancelled preserved", resp.Intent.State)
	}
}

func TestExecutionCompletedRecordsWithoutTransition(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()
	intent, _ := svc.CreateAndDispatch(ctx, depositRequest(""))

	resp, err := svc.ApplyInbound(&models.InboundRequest{
		Connector: models.ConnectorHyperbridge,
		IntentID:  intent.IntentID,
		MessageID: "leg-1",
		Status:    "execution_completed",
		Verified:  true,
	})
	if err != nil {
		t.Fatalf("ApplyInbound: %v", err)
	}
	if resp.Intent.State != models.IntentPending {
		t.Errorf("state = %s, want pending", resp.Intent.State)
	}
	last := resp.Intent.Events[len(resp.Intent.Events)-1]
	if last.MessageID != "leg-1" {
		t.Errorf("last event = %+v", last)
	}
}

func TestCancelRefundTransitionRules(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()

	intent, _ := svc.CreateAndDispatch(ctx, depositRequest(""))
	if _, err := svc.Refund(intent.IntentID); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("refund from pending: err = %v", err)
	}

	// Drive to failed through an inbound, then refund.
	svc.ApplyInbound(&models.InboundRequest{
		Connector: models.ConnectorXCM,
		IntentID:  intent.IntentID,
		MessageID: "f1",
		Status:    "failed",
		Verified:  true,
	})
	refunded, err := svc.Refund(intent.IntentID)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunded.State != models.IntentRefunded {
		t.Errorf("state = %s", refunded.State)
	}

	if _, err := svc.Cancel(intent.IntentID); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("cancel from refunded: err = %v", err)
	}
}

func TestPendingTimesOutOnRead(t *testing.T) {
	current := time.Now()
	svc := NewService(nil, WithNow(func() time.Time { return current }))
	ctx := context.Background()

	req := depositRequest("")
	req.TimeoutSeconds = 60
	intent, _ := svc.CreateAndDispatch(ctx, req)

	current = current.Add(2 * time.Minute)
	got, err := svc.Get(intent.IntentID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != models.IntentFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	last := got.Events[len(got.Events)-1]
	if last.Detail != "timeout" {
		t.Errorf("last event detail = %q, want timeout", last.Detail)
	}

	// A settled inbound after the timeout stays recorded but cannot revive it
	// past failed; failed is not terminal for refund but is for settlement.
	resp, err := svc.ApplyInbound(&models.InboundRequest{
		Connector: models.ConnectorXCM,
		IntentID:  intent.IntentID,
		MessageID: "late",
		Status:    "settled",
		Verified:  true,
	})
	if err != nil {
		t.Fatalf("ApplyInbound: %v", err)
	}
	if resp.Intent.State != models.IntentSettled {
		// failed is non-terminal, so a verified settlement still applies.
		t.Errorf("state = %s", resp.Intent.State)
	}
}

func TestSweepTimesOutAndPrunes(t *testing.T) {
	current := time.Now()
	svc := NewService(nil, WithNow(func() time.Time { return current }))
	ctx := context.Background()

	req := depositRequest("")
	req.TimeoutSeconds = 30
	intent, _ := svc.CreateAndDispatch(ctx, req)

	other, _ := svc.CreateAndDispatch(ctx, depositRequest(""))
	svc.ApplyInbound(&models.InboundRequest{
		Connector: models.ConnectorXCM,
		IntentID:  other.IntentID,
		MessageID: "old",
		Status:    "settled",
		Verified:  true,
	})

	current = current.Add(time.Hour)
	timedOut, pruned := svc.Sweep(30 * time.Minute)
	if timedOut != 1 {
		t.Errorf("timedOut = %d, want 1", timedOut)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	got, _ := svc.Get(intent.IntentID)
	if got.State != models.IntentFailed {
		t.Errorf("state = %s", got.State)
	}
}
