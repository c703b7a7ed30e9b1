package driven

import (
	"context"
	"time"

	"github.com/nomorepassword/bclient/internal/domain/model"
)

// SessionStore defines the driven port for owner session persistence. There is
// exactly one live session per (OwnerID, OwnerUsername); Upsert replaces it.
type SessionStore interface {
	Upsert(ctx context.Context, session model.Session) error

	// GetLatest returns the most recently updated session for the owner id, or
	// (nil, nil) when the owner has none.
	GetLatest(ctx context.Context, ownerID string) (*model.Session, error)

	// DeleteAll removes every session for the owner id and reports how many
	// rows were removed.
	DeleteAll(ctx context.Context, ownerID string) (int64, error)

	// Renew rewrites the payload, refresh deadline and updated_at of a session
	// only if its stored updated_at still equals prevUpdatedAt. It reports
	// false when the session was replaced or deleted in the meantime.
	Renew(ctx context.Context, session model.Session, prevUpdatedAt time.Time) (bool, error)

	// ListAutoRefresh returns every session flagged for auto-refresh. Rows whose
	// payload cannot be decoded are returned with RawPayload set so callers can
	// count them as failures.
	ListAutoRefresh(ctx context.Context) ([]StoredSession, error)
}

// StoredSession pairs a session row with its undecoded payload and any decode
// error, so a sweep can report corrupt rows without aborting.
type StoredSession struct {
	Session    model.Session
	RawPayload string
	DecodeErr  error
}
