package driven

import (
	"context"
	"errors"

	"github.com/nomorepassword/bclient/internal/domain/model"
)

// ErrMessageNotFound indicates an acknowledgement for an unknown message id.
var ErrMessageNotFound = errors.New("message not found")

// MailboxStore defines the driven port for pending inter-node messages.
type MailboxStore interface {
	Enqueue(ctx context.Context, msg model.PendingMessage) error
	ListPending(ctx context.Context, toNodeID string) ([]model.PendingMessage, error)
	CountPending(ctx context.Context, toNodeID string) (int, error)

	// Ack deletes a processed message. Returns ErrMessageNotFound if absent.
	Ack(ctx context.Context, messageID string) error
}
