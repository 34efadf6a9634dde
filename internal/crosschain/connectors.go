// Package crosschain implements the cross-chain intent lifecycle: idempotent
// creation, connector dispatch, authenticated inbound settlement with replay
// protection, and timeout evaluation.
package crosschain

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/quantbay/agentd/pkg/models"
)

// Connector dispatches an intent toward a destination chain and verifies
// inbound settlement messages attributed to it.
type Connector interface {
	Name() string

	// Dispatch submits the intent and returns the connector's dispatch id.
	Dispatch(ctx context.Context, intent *models.IntentRecord) (string, error)

	// VerifyInbound reports whether an inbound message is authentic.
	VerifyInbound(req *models.InboundRequest) bool
}

// xcmConnector is the demo XCM transport stub. Dispatch mints an id;
// verification trusts the caller's verified flag, standing in for an on-chain
// proof check.
type xcmConnector struct{}

func (xcmConnector) Name() string { return models.ConnectorXCM }

func (xcmConnector) Dispatch(ctx context.Context, intent *models.IntentRecord) (string, error) {
	return "xcm-" + uuid.NewString(), nil
}

func (xcmConnector) VerifyInbound(req *models.InboundRequest) bool { return req.Verified }

// hyperbridgeConnector is the demo Hyperbridge ISMP transport stub.
type hyperbridgeConnector struct{}

func (hyperbridgeConnector) Name() string { return models.ConnectorHyperbridge }

func (hyperbridgeConnector) Dispatch(ctx context.Context, intent *models.IntentRecord) (string, error) {
	return "ismp-" + uuid.NewString(), nil
}

func (hyperbridgeConnector) VerifyInbound(req *models.InboundRequest) bool { return req.Verified }

// DefaultConnectors returns the stub connector set keyed by name.
func DefaultConnectors() map[string]Connector {
	return map[string]Connector{
		models.ConnectorXCM:         xcmConnector{},
		models.ConnectorHyperbridge: hyperbridgeConnector{},
	}
}

func connectorKey(connector, messageID string) string {
	return fmt.Sprintf("%s|%s", connector, messageID)
}
