package driven

import (
	"context"
	"errors"
	"time"

	"github.com/nomorepassword/bclient/internal/domain/model"
)

// ErrNoAuthoritativeNode indicates a domain scope has no registered authority.
var ErrNoAuthoritativeNode = errors.New("no authoritative node for scope")

// NodeStore defines the driven port for the node directory.
type NodeStore interface {
	// Get returns the directory row for the level and scope, or (nil, nil).
	Get(ctx context.Context, level model.NodeLevel, scope model.Scope) (*model.NodeRecord, error)

	// Upsert writes the row for rec.Level and rec.Scope, last write wins.
	Upsert(ctx context.Context, rec model.NodeRecord) error

	// InsertIfAbsent stores rec only when no row exists for its level and
	// scope, then returns whichever row is now stored.
	InsertIfAbsent(ctx context.Context, rec model.NodeRecord) (*model.NodeRecord, error)

	// Touch sets last_refresh on every row naming nodeID and reports how many
	// rows matched.
	Touch(ctx context.Context, nodeID string, at time.Time) (int64, error)

	// ListByLevel returns rows for the level whose scope starts with the given
	// prefix. Empty prefix components match everything.
	ListByLevel(ctx context.Context, level model.NodeLevel, prefix model.Scope) ([]model.NodeRecord, error)
}
