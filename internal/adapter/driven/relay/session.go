package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SessionRelay = (*SessionRelay)(nil)

// SessionRelay delivers sessions and logout notices to a client's local API.
type SessionRelay struct {
	poster poster
}

// NewSessionRelay creates a SessionRelay whose calls time out after timeout.
func NewSessionRelay(timeout time.Duration, logger *slog.Logger) *SessionRelay {
	return &SessionRelay{poster: newPoster(timeout, logger)}
}

// PushSession posts the session bundle to {addr}/api/cookie.
func (r *SessionRelay) PushSession(ctx context.Context, addr model.NodeAddress, push driven.CookiePush) error {
	return r.poster.postJSON(ctx, addr.BaseURL()+"/api/cookie", push)
}

// PushLogout posts a logout notice to {addr}/api/logout.
func (r *SessionRelay) PushLogout(ctx context.Context, addr model.NodeAddress, userID, username string) error {
	body := map[string]string{"user_id": userID, "username": username}
	return r.poster.postJSON(ctx, addr.BaseURL()+"/api/logout", body)
}
