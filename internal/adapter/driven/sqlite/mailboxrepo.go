package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.MailboxStore = (*MailboxRepo)(nil)

// MailboxRepo is the SQLite implementation of the MailboxStore port interface.
type MailboxRepo struct {
	db *DB
}

// NewMailboxRepo creates a new MailboxRepo backed by the given DB.
func NewMailboxRepo(db *DB) *MailboxRepo {
	return &MailboxRepo{db: db}
}

// Enqueue stores a new unprocessed message.
func (r *MailboxRepo) Enqueue(ctx context.Context, msg model.PendingMessage) error {
	const query = `INSERT INTO pending_messages
		(message_id, to_node_id, message_type, payload, processed, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`

	payload := string(msg.Payload)
	if payload == "" {
		payload = "{}"
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.Writer.ExecContext(ctx, query, msg.ID, msg.ToNodeID, msg.MessageType, payload, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("enqueue message %s: %w", msg.ID, err)
	}
	return nil
}

// ListPending returns the node's unprocessed messages, oldest first.
func (r *MailboxRepo) ListPending(ctx context.Context, toNodeID string) ([]model.PendingMessage, error) {
	const query = `SELECT message_id, to_node_id, message_type, payload, processed, created_at
		FROM pending_messages WHERE to_node_id = ? AND processed = 0
		ORDER BY created_at, message_id`

	rows, err := r.db.Reader.QueryContext(ctx, query, toNodeID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", toNodeID, err)
	}
	defer rows.Close()

	msgs := []model.PendingMessage{}
	for rows.Next() {
		var msg model.PendingMessage
		var payload, createdAt string
		var processed int
		if err := rows.Scan(&msg.ID, &msg.ToNodeID, &msg.MessageType, &payload, &processed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Payload = []byte(payload)
		msg.Processed = processed == 1
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return msgs, nil
}

// CountPending returns how many unprocessed messages await the node.
func (r *MailboxRepo) CountPending(ctx context.Context, toNodeID string) (int, error) {
	const query = `SELECT COUNT(*) FROM pending_messages WHERE to_node_id = ? AND processed = 0`

	var n int
	if err := r.db.Reader.QueryRowContext(ctx, query, toNodeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages for %s: %w", toNodeID, err)
	}
	return n, nil
}

// Ack deletes a processed message.
func (r *MailboxRepo) Ack(ctx context.Context, messageID string) error {
	const query = `DELETE FROM pending_messages WHERE message_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, messageID)
	if err != nil {
		return fmt.Errorf("ack message %s: %w", messageID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("ack message %s: %w", messageID, driven.ErrMessageNotFound)
	}
	return nil
}
