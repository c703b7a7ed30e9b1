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
var _ driven.NodeStore = (*NodeRepo)(nil)

// NodeRepo is the SQLite implementation of the NodeStore port interface. All
// three hierarchy levels share one table keyed by (level, domain, cluster, channel).
type NodeRepo struct {
	db *DB
}

// NewNodeRepo creates a new NodeRepo backed by the given DB.
func NewNodeRepo(db *DB) *NodeRepo {
	return &NodeRepo{db: db}
}

const nodeColumns = `level, domain_id, cluster_id, channel_id, node_id, ip_address, port, last_refresh`

const selectNodeQuery = `SELECT ` + nodeColumns + ` FROM nodes
	WHERE level = ? AND domain_id = ? AND cluster_id = ? AND channel_id = ?`

// Get returns the row for the level and scope, or (nil, nil).
func (r *NodeRepo) Get(ctx context.Context, level model.NodeLevel, scope model.Scope) (*model.NodeRecord, error) {
	s := scope.At(level)
	rec, err := scanNode(r.db.Reader.QueryRowContext(ctx, selectNodeQuery, string(level), s.DomainID, s.ClusterID, s.ChannelID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s node for %s: %w", level, s.DomainID, err)
	}
	return rec, nil
}

// Upsert writes the row, replacing any existing one for the same scope.
func (r *NodeRepo) Upsert(ctx context.Context, rec model.NodeRecord) error {
	const query = `INSERT INTO nodes (` + nodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (level, domain_id, cluster_id, channel_id) DO UPDATE SET
			node_id = excluded.node_id,
			ip_address = excluded.ip_address,
			port = excluded.port,
			last_refresh = excluded.last_refresh`

	if _, err := r.db.Writer.ExecContext(ctx, query, nodeArgs(rec)...); err != nil {
		return fmt.Errorf("upsert %s node %s: %w", rec.Level, rec.NodeID, err)
	}
	return nil
}

// InsertIfAbsent stores rec unless a row already exists, returning the stored row.
func (r *NodeRepo) InsertIfAbsent(ctx context.Context, rec model.NodeRecord) (*model.NodeRecord, error) {
	const insertQuery = `INSERT INTO nodes (` + nodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (level, domain_id, cluster_id, channel_id) DO NOTHING`

	s := rec.Scope.At(rec.Level)
	var stored *model.NodeRecord

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertQuery, nodeArgs(rec)...); err != nil {
			return fmt.Errorf("insert %s node: %w", rec.Level, err)
		}
		var err error
		stored, err = scanNode(tx.QueryRowContext(ctx, selectNodeQuery, string(rec.Level), s.DomainID, s.ClusterID, s.ChannelID))
		if err != nil {
			return fmt.Errorf("read back %s node: %w", rec.Level, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Touch sets last_refresh on every row naming nodeID.
func (r *NodeRepo) Touch(ctx context.Context, nodeID string, at time.Time) (int64, error) {
	const query = `UPDATE nodes SET last_refresh = ? WHERE node_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(at), nodeID)
	if err != nil {
		return 0, fmt.Errorf("touch node %s: %w", nodeID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, nil
}

// ListByLevel returns the level's rows that fall under prefix.
func (r *NodeRepo) ListByLevel(ctx context.Context, level model.NodeLevel, prefix model.Scope) ([]model.NodeRecord, error) {
	const query = `SELECT ` + nodeColumns + ` FROM nodes
		WHERE level = ?
			AND (? = '' OR domain_id = ?)
			AND (? = '' OR cluster_id = ?)
			AND (? = '' OR channel_id = ?)
		ORDER BY domain_id, cluster_id, channel_id`

	rows, err := r.db.Reader.QueryContext(ctx, query, string(level),
		prefix.DomainID, prefix.DomainID,
		prefix.ClusterID, prefix.ClusterID,
		prefix.ChannelID, prefix.ChannelID,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s nodes: %w", level, err)
	}
	defer rows.Close()

	var recs []model.NodeRecord
	for rows.Next() {
		rec, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}

	return recs, nil
}

func nodeArgs(rec model.NodeRecord) []any {
	s := rec.Scope.At(rec.Level)
	nodeID := sql.NullString{String: rec.NodeID, Valid: rec.NodeID != ""}

	lastRefresh := rec.LastRefresh
	if lastRefresh.IsZero() {
		lastRefresh = time.Now()
	}

	return []any{
		string(rec.Level), s.DomainID, s.ClusterID, s.ChannelID,
		nodeID, rec.Address.IPAddress, rec.Address.Port, formatTime(lastRefresh),
	}
}

func scanNode(s scanner) (*model.NodeRecord, error) {
	var rec model.NodeRecord
	var level, lastRefresh string
	var nodeID sql.NullString

	err := s.Scan(
		&level, &rec.Scope.DomainID, &rec.Scope.ClusterID, &rec.Scope.ChannelID,
		&nodeID, &rec.Address.IPAddress, &rec.Address.Port, &lastRefresh,
	)
	if err != nil {
		return nil, err
	}
	rec.Level = model.NodeLevel(level)
	rec.NodeID = nodeID.String

	rec.LastRefresh, err = parseTime(lastRefresh)
	if err != nil {
		return nil, fmt.Errorf("parse last_refresh: %w", err)
	}

	return &rec, nil
}
