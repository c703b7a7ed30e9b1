package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomorepassword/bclient/internal/domain/model"
)

func TestNodeRepo_UpsertLastWriteWins(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNodeRepo(db)
	ctx := context.Background()
	scope := model.Scope{DomainID: "d1"}

	require.NoError(t, repo.Upsert(ctx, model.NodeRecord{
		Level: model.LevelDomain, Scope: scope, NodeID: "node-a",
		Address: model.NodeAddress{IPAddress: "10.0.0.1", Port: 4001},
	}))
	require.NoError(t, repo.Upsert(ctx, model.NodeRecord{
		Level: model.LevelDomain, Scope: scope, NodeID: "node-b",
		Address: model.NodeAddress{IPAddress: "10.0.0.2", Port: 4002},
	}))

	got, err := repo.Get(ctx, model.LevelDomain, scope)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "node-b", got.NodeID)
	assert.Equal(t, model.NodeAddress{IPAddress: "10.0.0.2", Port: 4002}, got.Address)
}

func TestNodeRepo_GetMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNodeRepo(db)

	got, err := repo.Get(context.Background(), model.LevelCluster, model.Scope{DomainID: "d1", ClusterID: "c1"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNodeRepo_NullNodeID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNodeRepo(db)
	ctx := context.Background()
	scope := model.Scope{DomainID: "d1"}

	require.NoError(t, repo.Upsert(ctx, model.NodeRecord{Level: model.LevelDomain, Scope: scope}))

	got, err := repo.Get(ctx, model.LevelDomain, scope)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.HasAuthority())
}

func TestNodeRepo_InsertIfAbsentKeepsFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNodeRepo(db)
	ctx := context.Background()
	scope := model.Scope{DomainID: "d1", ClusterID: "c1"}

	first, err := repo.InsertIfAbsent(ctx, model.NodeRecord{Level: model.LevelCluster, Scope: scope, NodeID: "cluster-c1-1"})
	require.NoError(t, err)
	assert.Equal(t, "cluster-c1-1", first.NodeID)

	second, err := repo.InsertIfAbsent(ctx, model.NodeRecord{Level: model.LevelCluster, Scope: scope, NodeID: "cluster-c1-2"})
	require.NoError(t, err)
	assert.Equal(t, "cluster-c1-1", second.NodeID)
}

func TestNodeRepo_ScopeTruncatedToLevel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNodeRepo(db)
	ctx := context.Background()

	full := model.Scope{DomainID: "d1", ClusterID: "c1", ChannelID: "ch1"}
	require.NoError(t, repo.Upsert(ctx, model.NodeRecord{Level: model.LevelDomain, Scope: full, NodeID: "dom"}))

	got, err := repo.Get(ctx, model.LevelDomain, model.Scope{DomainID: "d1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "dom", got.NodeID)
	assert.Empty(t, got.Scope.ClusterID)
}

func TestNodeRepo_Touch(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNodeRepo(db)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx, model.NodeRecord{Level: model.LevelDomain, Scope: model.Scope{DomainID: "d1"}, NodeID: "n1", LastRefresh: old}))
	require.NoError(t, repo.Upsert(ctx, model.NodeRecord{Level: model.LevelCluster, Scope: model.Scope{DomainID: "d1", ClusterID: "c1"}, NodeID: "n1", LastRefresh: old}))

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	n, err := repo.Touch(ctx, "n1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := repo.Get(ctx, model.LevelDomain, model.Scope{DomainID: "d1"})
	require.NoError(t, err)
	assert.True(t, got.LastRefresh.Equal(now))

	n, err = repo.Touch(ctx, "unknown", now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNodeRepo_ListByLevel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNodeRepo(db)
	ctx := context.Background()

	for _, rec := range []model.NodeRecord{
		{Level: model.LevelCluster, Scope: model.Scope{DomainID: "d1", ClusterID: "c1"}, NodeID: "a"},
		{Level: model.LevelCluster, Scope: model.Scope{DomainID: "d1", ClusterID: "c2"}, NodeID: "b"},
		{Level: model.LevelCluster, Scope: model.Scope{DomainID: "d2", ClusterID: "c1"}, NodeID: "c"},
		{Level: model.LevelDomain, Scope: model.Scope{DomainID: "d1"}, NodeID: "d"},
	} {
		require.NoError(t, repo.Upsert(ctx, rec))
	}

	all, err := repo.ListByLevel(ctx, model.LevelCluster, model.Scope{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	d1, err := repo.ListByLevel(ctx, model.LevelCluster, model.Scope{DomainID: "d1"})
	require.NoError(t, err)
	require.Len(t, d1, 2)
	assert.Equal(t, "a", d1[0].NodeID)
	assert.Equal(t, "b", d1[1].NodeID)

	none, err := repo.ListByLevel(ctx, model.LevelChannel, model.Scope{})
	require.NoError(t, err)
	assert.Empty(t, none)
}
