package driven

import (
	"context"

	"github.com/nomorepassword/bclient/internal/domain/model"
)

// CookiePush is the body delivered to a client's /api/cookie endpoint.
type CookiePush struct {
	UserID              string               `json:"user_id"`
	Username            string               `json:"username"`
	CompleteSessionData model.SessionPayload `json:"complete_session_data"`
	NSNURL              string               `json:"nsn_url"`
	NSNPort             int                  `json:"nsn_port"`
}

// SessionRelay defines the driven port for pushing results to a client's own
// local HTTP endpoint.
type SessionRelay interface {
	PushSession(ctx context.Context, addr model.NodeAddress, push CookiePush) error
	PushLogout(ctx context.Context, addr model.NodeAddress, userID, username string) error
}

// AddressCache remembers the last callback address an owner supplied.
type AddressCache interface {
	Put(ownerID string, addr model.NodeAddress)
	Get(ownerID string) (model.NodeAddress, bool)
}
