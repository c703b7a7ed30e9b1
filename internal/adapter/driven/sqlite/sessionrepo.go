package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SessionStore = (*SessionRepo)(nil)

// SessionRepo is the SQLite implementation of the SessionStore port interface.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new SessionRepo backed by the given DB.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `owner_id, owner_username, target_site, target_account, payload,
	auto_refresh, refresh_deadline, created_at, updated_at`

// Upsert inserts or replaces the owner's session. created_at survives replacement.
func (r *SessionRepo) Upsert(ctx context.Context, s model.Session) error {
	blob, err := s.Payload.Encode()
	if err != nil {
		return err
	}

	now := time.Now()
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	const query = `INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, owner_username) DO UPDATE SET
			target_site = excluded.target_site,
			target_account = excluded.target_account,
			payload = excluded.payload,
			auto_refresh = excluded.auto_refresh,
			refresh_deadline = excluded.refresh_deadline,
			updated_at = excluded.updated_at`

	_, err = r.db.Writer.ExecContext(ctx, query,
		s.OwnerID, s.OwnerUsername, s.TargetSite, s.TargetAccount, blob,
		boolToInt(s.AutoRefresh), formatTime(s.RefreshDeadline), formatTime(createdAt), formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session for %s: %w", s.OwnerID, err)
	}
	return nil
}

// GetLatest returns the most recently updated session for the owner id.
func (r *SessionRepo) GetLatest(ctx context.Context, ownerID string) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE owner_id = ? ORDER BY updated_at DESC LIMIT 1`

	stored, err := scanSession(r.db.Reader.QueryRowContext(ctx, query, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session for %s: %w", ownerID, err)
	}
	if stored.DecodeErr != nil {
		return nil, fmt.Errorf("get session for %s: %w", ownerID, stored.DecodeErr)
	}
	return &stored.Session, nil
}

// DeleteAll removes every session for the owner id.
func (r *SessionRepo) DeleteAll(ctx context.Context, ownerID string) (int64, error) {
	const query = `DELETE FROM sessions WHERE owner_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions for %s: %w", ownerID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, nil
}

// Renew updates the session in place if nobody replaced it since prevUpdatedAt.
func (r *SessionRepo) Renew(ctx context.Context, s model.Session, prevUpdatedAt time.Time) (bool, error) {
	blob, err := s.Payload.Encode()
	if err != nil {
		return false, err
	}

	const query = `UPDATE sessions SET payload = ?, refresh_deadline = ?, updated_at = ?
		WHERE owner_id = ? AND owner_username = ? AND updated_at = ?`

	result, err := r.db.Writer.ExecContext(ctx, query,
		blob, formatTime(s.RefreshDeadline), formatTime(s.UpdatedAt),
		s.OwnerID, s.OwnerUsername, formatTime(prevUpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("renew session for %s: %w", s.OwnerID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// ListAutoRefresh returns every session with auto_refresh set. Payload decode
// failures are attached per row rather than failing the listing.
func (r *SessionRepo) ListAutoRefresh(ctx context.Context) ([]driven.StoredSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE auto_refresh = 1 ORDER BY owner_id, owner_username`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list auto-refresh sessions: %w", err)
	}
	defer rows.Close()

	var sessions []driven.StoredSession
	for rows.Next() {
		stored, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

func scanSession(s scanner) (*driven.StoredSession, error) {
	var stored driven.StoredSession
	var autoRefresh int
	var deadline, createdAt, updatedAt string
	sess := &stored.Session

	err := s.Scan(
		&sess.OwnerID, &sess.OwnerUsername, &sess.TargetSite, &sess.TargetAccount, &stored.RawPayload,
		&autoRefresh, &deadline, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	sess.AutoRefresh = autoRefresh == 1

	if sess.RefreshDeadline, err = parseTime(deadline); err != nil {
		return nil, fmt.Errorf("parse refresh_deadline: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	sess.Payload, stored.DecodeErr = model.DecodeSessionPayload(stored.RawPayload)

	return &stored, nil
}
