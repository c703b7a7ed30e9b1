package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomorepassword/bclient/internal/application"
	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

type nodeFixture struct {
	nodes   *memNodes
	mailbox *memMailbox
	peers   *fakePeers
	svc     *application.NodeService
}

func newNodeFixture() *nodeFixture {
	f := &nodeFixture{nodes: newMemNodes(), mailbox: &memMailbox{}, peers: &fakePeers{}}
	f.svc = application.NewNodeService("broker-1", f.nodes, f.mailbox, f.peers, discardLogger())
	return f
}

func domainReg(nodeID string, port int) driven.NodeRegistration {
	return driven.NodeRegistration{
		Level:     model.LevelDomain,
		Scope:     model.Scope{DomainID: "d1"},
		NodeID:    nodeID,
		IPAddress: "10.0.0.1",
		Port:      port,
	}
}

func TestRegisterNode_LastWriteWins(t *testing.T) {
	f := newNodeFixture()
	ctx := context.Background()

	_, err := f.svc.RegisterNode(ctx, domainReg("node-a", 4001))
	require.NoError(t, err)
	ack, err := f.svc.RegisterNode(ctx, domainReg("node-b", 4002))
	require.NoError(t, err)

	rec, err := f.nodes.Get(ctx, model.LevelDomain, model.Scope{DomainID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, "node-b", rec.NodeID)
	assert.Equal(t, "node-a", ack.PreviousNode)

	require.Len(t, f.peers.calls, 1)
	assert.Equal(t, 4001, f.peers.calls[0].target.Port)
	assert.Equal(t, "node-b", f.peers.calls[0].reg.NodeID)
	assert.True(t, ack.Forward.Forwarded)
}

func TestRegisterNode_FirstRegistrationDoesNotForward(t *testing.T) {
	f := newNodeFixture()

	ack, err := f.svc.RegisterNode(context.Background(), domainReg("node-a", 4001))

	require.NoError(t, err)
	assert.False(t, ack.Forward.Attempted)
	assert.Empty(t, f.peers.calls)
}

func TestRegisterNode_ForwardFailureDegrades(t *testing.T) {
	f := newNodeFixture()
	ctx := context.Background()
	f.peers.err = errors.New("timeout")

	_, err := f.svc.RegisterNode(ctx, domainReg("node-a", 4001))
	require.NoError(t, err)
	ack, err := f.svc.RegisterNode(ctx, domainReg("node-b", 4002))

	require.NoError(t, err)
	assert.Equal(t, "registered locally only", ack.Message)
	assert.True(t, ack.Forward.Attempted)
	assert.False(t, ack.Forward.Forwarded)
	assert.Contains(t, ack.Forward.Error, "timeout")
	assert.True(t, ack.Forward.Queued)

	msgs, err := f.svc.PendingMessages(ctx, "node-a")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageNodeRegistered, msgs[0].MessageType)
}

func TestRegisterNode_ForwardedRequestNotRelayed(t *testing.T) {
	f := newNodeFixture()
	ctx := context.Background()

	_, err := f.svc.RegisterNode(ctx, domainReg("node-a", 4001))
	require.NoError(t, err)
	reg := domainReg("node-b", 4002)
	reg.Forwarded = true
	_, err = f.svc.RegisterNode(ctx, reg)

	require.NoError(t, err)
	assert.Empty(t, f.peers.calls)
}

func TestRegisterNode_Validation(t *testing.T) {
	f := newNodeFixture()

	_, err := f.svc.RegisterNode(context.Background(), driven.NodeRegistration{NodeID: "n"})
	requireAppError(t, err, application.KindStructural, "invalid_scope")

	_, err = f.svc.RegisterNode(context.Background(), driven.NodeRegistration{Scope: model.Scope{DomainID: "d1"}})
	requireAppError(t, err, application.KindStructural, "invalid_request")
}

func TestForwardToScope_DomainRequiresAuthority(t *testing.T) {
	f := newNodeFixture()

	_, err := f.svc.ForwardToScope(context.Background(), model.LevelDomain, model.Scope{DomainID: "d1"}, driven.NodeRegistration{})

	requireAppError(t, err, application.KindNotFound, "no_authoritative_node")
	assert.ErrorIs(t, err, driven.ErrNoAuthoritativeNode)
}

func TestForwardToScope_DomainResolves(t *testing.T) {
	f := newNodeFixture()
	ctx := context.Background()
	_, err := f.svc.RegisterNode(ctx, domainReg("node-a", 4001))
	require.NoError(t, err)

	res, err := f.svc.ForwardToScope(ctx, model.LevelDomain, model.Scope{DomainID: "d1"},
		driven.NodeRegistration{NodeID: "node-c", IPAddress: "10.0.0.3", Port: 4003})

	require.NoError(t, err)
	assert.Equal(t, "node-a", res.Record.NodeID)
	assert.False(t, res.Created)
	assert.True(t, res.Forward.Forwarded)
	require.Len(t, f.peers.calls, 1)
	assert.Equal(t, model.LevelDomain, f.peers.calls[0].reg.Level)
}

func TestForwardToScope_ClusterSelfElectsOnce(t *testing.T) {
	f := newNodeFixture()
	ctx := context.Background()
	scope := model.Scope{DomainID: "d1", ClusterID: "c1"}

	first, err := f.svc.ForwardToScope(ctx, model.LevelCluster, scope, driven.NodeRegistration{})
	require.NoError(t, err)
	second, err := f.svc.ForwardToScope(ctx, model.LevelCluster, scope, driven.NodeRegistration{})
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.True(t, strings.HasPrefix(first.Record.NodeID, "cluster-c1-"))
	assert.Equal(t, first.Record.NodeID, second.Record.NodeID)
}

func TestForwardToScope_ElectedRequesterIsNotForwardedItself(t *testing.T) {
	f := newNodeFixture()
	ctx := context.Background()
	scope := model.Scope{DomainID: "d1", ClusterID: "c1"}
	info := driven.NodeRegistration{NodeID: "node-a", IPAddress: "10.0.0.1", Port: 4001}

	first, err := f.svc.ForwardToScope(ctx, model.LevelCluster, scope, info)
	require.NoError(t, err)
	second, err := f.svc.ForwardToScope(ctx, model.LevelCluster, scope, info)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.Equal(t, model.NodeAddress{IPAddress: "10.0.0.1", Port: 4001}, first.Record.Address)
	assert.False(t, first.Forward.Attempted)
	assert.False(t, second.Forward.Attempted)
	assert.Empty(t, f.peers.calls)
	assert.Empty(t, f.mailbox.msgs)
}

func TestForwardToScope_ClusterRelaysOtherNodes(t *testing.T) {
	f := newNodeFixture()
	ctx := context.Background()
	scope := model.Scope{DomainID: "d1", ClusterID: "c1"}

	elected, err := f.svc.ForwardToScope(ctx, model.LevelCluster, scope,
		driven.NodeRegistration{NodeID: "node-a", IPAddress: "10.0.0.1", Port: 4001})
	require.NoError(t, err)
	res, err := f.svc.ForwardToScope(ctx, model.LevelCluster, scope,
		driven.NodeRegistration{NodeID: "node-b", IPAddress: "10.0.0.2", Port: 4002})
	require.NoError(t, err)

	assert.Equal(t, elected.Record.NodeID, res.Record.NodeID)
	assert.True(t, res.Forward.Forwarded)
	require.Len(t, f.peers.calls, 1)
	assert.Equal(t, model.NodeAddress{IPAddress: "10.0.0.1", Port: 4001}, f.peers.calls[0].target)
	assert.Equal(t, "node-b", f.peers.calls[0].reg.NodeID)
	assert.Equal(t, model.LevelCluster, f.peers.calls[0].reg.Level)
}

func TestForwardToScope_ChannelNeedsFullScope(t *testing.T) {
	f := newNodeFixture()

	_, err := f.svc.ForwardToScope(context.Background(), model.LevelChannel, model.Scope{DomainID: "d1", ClusterID: "c1"}, driven.NodeRegistration{})

	requireAppError(t, err, application.KindStructural, "invalid_scope")
}

func TestRegisterChannel(t *testing.T) {
	f := newNodeFixture()
	scope := model.Scope{DomainID: "d1", ClusterID: "c1", ChannelID: "ch1"}

	res, err := f.svc.RegisterChannel(context.Background(), scope, driven.NodeRegistration{})

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Cluster.Record.NodeID, "cluster-c1-"))
	assert.True(t, strings.HasPrefix(res.Channel.Record.NodeID, "channel-ch1-"))
}

func TestHeartbeat_EmptySnapshot(t *testing.T) {
	f := newNodeFixture()

	res, err := f.svc.Heartbeat(context.Background(), "node-x", "ok", model.Scope{})

	require.NoError(t, err)
	assert.False(t, res.Known)
	assert.NotNil(t, res.Snapshot.Domain)
	assert.NotNil(t, res.Snapshot.Cluster)
	assert.NotNil(t, res.Snapshot.Channel)
	assert.Empty(t, res.Snapshot.Domain)
	assert.Zero(t, res.PendingMessages)
}

func TestHeartbeat_TouchesAndSnapshots(t *testing.T) {
	f := newNodeFixture()
	ctx := context.Background()
	_, err := f.svc.RegisterNode(ctx, domainReg("node-a", 4001))
	require.NoError(t, err)
	_, err = f.svc.ForwardToScope(ctx, model.LevelCluster, model.Scope{DomainID: "d1", ClusterID: "c1"}, driven.NodeRegistration{})
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, "node-a", "ping", nil)
	require.NoError(t, err)

	res, err := f.svc.Heartbeat(ctx, "node-a", "ok", model.Scope{})

	require.NoError(t, err)
	assert.True(t, res.Known)
	assert.Equal(t, "broker-1", res.BrokerID)
	require.Len(t, res.Snapshot.Domain, 1)
	assert.Equal(t, "node-a", res.Snapshot.Domain[0].NodeID)
	assert.Len(t, res.Snapshot.Cluster, 1)
	assert.Empty(t, res.Snapshot.Channel)
	assert.Equal(t, 1, res.PendingMessages)
}

func TestTransferAuthority_InsertsWhenMissing(t *testing.T) {
	f := newNodeFixture()

	res, err := f.svc.TransferAuthority(context.Background(), application.TransferRequest{
		DomainID: "d9", NewNodeID: "node-z", NewAddress: model.NodeAddress{IPAddress: "10.0.0.9", Port: 4009},
	})

	require.NoError(t, err)
	assert.Empty(t, res.PreviousNodeID)
	assert.Empty(t, res.MessageID)

	rec, _ := f.nodes.Get(context.Background(), model.LevelDomain, model.Scope{DomainID: "d9"})
	require.NotNil(t, rec)
	assert.Equal(t, "node-z", rec.NodeID)
}

func TestTransferAuthority_NotifiesOldNode(t *testing.T) {
	f := newNodeFixture()
	ctx := context.Background()
	_, err := f.svc.RegisterNode(ctx, domainReg("node-a", 4001))
	require.NoError(t, err)

	res, err := f.svc.TransferAuthority(ctx, application.TransferRequest{
		DomainID: "d1", OldNodeID: "node-a", NewNodeID: "node-b",
		NewAddress: model.NodeAddress{IPAddress: "10.0.0.2", Port: 4002}, Reason: "maintenance",
	})
	require.NoError(t, err)
	assert.Equal(t, "node-a", res.PreviousNodeID)
	assert.Equal(t, "node-a", res.NotifiedNodeID)

	msgs, err := f.svc.PendingMessages(ctx, "node-a")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageAuthorityTransferred, msgs[0].MessageType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, "node-b", payload["new_node_id"])
	assert.Equal(t, "maintenance", payload["reason"])

	// Forwarding after the transfer resolves to the new node.
	resolved, err := f.svc.ForwardToScope(ctx, model.LevelDomain, model.Scope{DomainID: "d1"}, driven.NodeRegistration{})
	require.NoError(t, err)
	assert.Equal(t, "node-b", resolved.Record.NodeID)
}

func TestMainNodes(t *testing.T) {
	f := newNodeFixture()
	ctx := context.Background()
	_, err := f.svc.RegisterNode(ctx, domainReg("node-a", 4001))
	require.NoError(t, err)

	res, err := f.svc.MainNodes(ctx, model.Scope{DomainID: "d1", ClusterID: "c1"})
	require.NoError(t, err)
	require.NotNil(t, res.Domain)
	assert.Equal(t, "node-a", res.Domain.NodeID)
	assert.Nil(t, res.Cluster)
	assert.Nil(t, res.Channel)

	_, err = f.svc.MainNodes(ctx, model.Scope{})
	requireAppError(t, err, application.KindStructural, "invalid_request")
}

func TestMailbox_AckUnknown(t *testing.T) {
	f := newNodeFixture()
	ctx := context.Background()

	id, err := f.svc.SendMessage(ctx, "node-a", "ping", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, f.svc.AckMessage(ctx, id))

	err = f.svc.AckMessage(ctx, id)
	requireAppError(t, err, application.KindNotFound, "message_not_found")
}
