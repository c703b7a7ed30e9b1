package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PeerForwarder = (*PeerForwarder)(nil)

// PeerForwarder relays node registrations to another broker node.
type PeerForwarder struct {
	poster poster
}

// NewPeerForwarder creates a PeerForwarder whose calls time out after timeout.
func NewPeerForwarder(timeout time.Duration, logger *slog.Logger) *PeerForwarder {
	return &PeerForwarder{poster: newPoster(timeout, logger)}
}

// ForwardRegistration posts reg to {target}/api/nodes/register with the
// forwarded flag set so the receiver does not relay it again.
func (f *PeerForwarder) ForwardRegistration(ctx context.Context, target model.NodeAddress, reg driven.NodeRegistration) error {
	reg.Forwarded = true
	return f.poster.postJSON(ctx, target.BaseURL()+"/api/nodes/register", reg)
}
