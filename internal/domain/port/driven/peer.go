package driven

import (
	"context"

	"github.com/nomorepassword/bclient/internal/domain/model"
)

// NodeRegistration is the payload relayed to an authoritative node.
type NodeRegistration struct {
	Level     model.NodeLevel `json:"level"`
	Scope     model.Scope     `json:"scope"`
	NodeID    string          `json:"node_id"`
	IPAddress string          `json:"ip_address"`
	Port      int             `json:"port"`
	Forwarded bool            `json:"forwarded"`
}

// PeerForwarder defines the driven port for node-to-node calls.
type PeerForwarder interface {
	ForwardRegistration(ctx context.Context, target model.NodeAddress, reg NodeRegistration) error
}
