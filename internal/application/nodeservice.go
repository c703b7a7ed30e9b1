package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

// ForwardStatus reports a best-effort relay of a registration to the
// authoritative node. Error is set when the relay failed; the registration
// itself still stands.
type ForwardStatus struct {
	Attempted bool
	Forwarded bool
	Target    string
	Error     string
	// Queued is true when the failed relay was left in the target's mailbox.
	Queued bool
}

// RegisterAck is returned by RegisterNode.
type RegisterAck struct {
	Record       model.NodeRecord
	PreviousNode string
	Forward      ForwardStatus
	Message      string
}

// Resolution is the authoritative node for a scope.
type Resolution struct {
	Record  model.NodeRecord
	Created bool
	Forward ForwardStatus
}

// ChannelResolution holds the cluster and channel authorities for a channel.
type ChannelResolution struct {
	Cluster Resolution
	Channel Resolution
}

// Snapshot lists the authoritative nodes at each level.
type Snapshot struct {
	Domain  []model.NodeRecord
	Cluster []model.NodeRecord
	Channel []model.NodeRecord
}

// HeartbeatResult is returned by Heartbeat.
type HeartbeatResult struct {
	BrokerID        string
	NodeID          string
	Status          string
	Known           bool
	Snapshot        Snapshot
	PendingMessages int
	ServerTime      time.Time
}

// TransferRequest hands authority for a domain to a new node.
type TransferRequest struct {
	DomainID   string
	OldNodeID  string
	NewNodeID  string
	NewAddress model.NodeAddress
	Reason     string
}

// TransferResult is returned by TransferAuthority.
type TransferResult struct {
	Record         model.NodeRecord
	PreviousNodeID string
	NotifiedNodeID string
	MessageID      string
}

// MainNodes holds the authority at each level for a scope; nil where none.
type MainNodes struct {
	Domain  *model.NodeRecord
	Cluster *model.NodeRecord
	Channel *model.NodeRecord
}

// NodeService maintains the node directory, relays registrations to the
// authoritative node and runs the inter-node mailbox.
type NodeService struct {
	brokerID string
	nodes    driven.NodeStore
	mailbox  driven.MailboxStore
	peers    driven.PeerForwarder
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// NewNodeService creates a NodeService. brokerID identifies this broker to
// heartbeating nodes.
func NewNodeService(brokerID string, nodes driven.NodeStore, mailbox driven.MailboxStore, peers driven.PeerForwarder, logger *slog.Logger) *NodeService {
	return &NodeService{
		brokerID: brokerID,
		nodes:    nodes,
		mailbox:  mailbox,
		peers:    peers,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger,
	}
}

// RegisterNode records reg as the authoritative node for its scope (last write
// wins) and relays it to the node that held the scope before. A failed relay
// is reported in the ack and queued in the previous node's mailbox.
func (s *NodeService) RegisterNode(ctx context.Context, reg driven.NodeRegistration) (*RegisterAck, error) {
	if reg.Level == "" {
		reg.Level = model.LevelDomain
	}
	if err := validateScope(reg.Level, reg.Scope); err != nil {
		return nil, err
	}
	if reg.NodeID == "" {
		return nil, structuralError("invalid_request", "node_id is required", nil)
	}

	prev, err := s.nodes.Get(ctx, reg.Level, reg.Scope)
	if err != nil {
		return nil, systemError("load node directory", err)
	}

	rec := model.NodeRecord{
		Level:       reg.Level,
		Scope:       reg.Scope.At(reg.Level),
		NodeID:      reg.NodeID,
		Address:     model.NodeAddress{IPAddress: reg.IPAddress, Port: reg.Port},
		LastRefresh: s.now(),
	}
	if err := s.nodes.Upsert(ctx, rec); err != nil {
		return nil, systemError("store node", err)
	}

	ack := &RegisterAck{Record: rec}
	if prev != nil {
		ack.PreviousNode = prev.NodeID
	}

	switch {
	case reg.Forwarded:
		ack.Message = "registered from forwarded request"
	case prev == nil || !prev.HasAuthority() || prev.NodeID == reg.NodeID:
		ack.Message = "registered; no other authority to notify"
	default:
		ack.Forward = s.forward(ctx, *prev, reg)
		if ack.Forward.Forwarded {
			ack.Message = "registered and forwarded to " + prev.NodeID
		} else {
			ack.Message = "registered locally only"
		}
	}

	s.logger.Info("node registered",
		"level", rec.Level, "domain_id", rec.Scope.DomainID, "node_id", rec.NodeID,
		"previous", ack.PreviousNode, "forwarded", ack.Forward.Forwarded)
	return ack, nil
}

// ForwardToScope resolves the authoritative node for level and scope. Domain
// scopes must already have one. Cluster and channel scopes elect
// "{level}-{id}-{unix}" on first use; later calls return the stored id.
// When info names a different node, its registration is relayed to the
// authority.
func (s *NodeService) ForwardToScope(ctx context.Context, level model.NodeLevel, scope model.Scope, info driven.NodeRegistration) (*Resolution, error) {
	if err := validateScope(level, scope); err != nil {
		return nil, err
	}
	scope = scope.At(level)

	rec, err := s.nodes.Get(ctx, level, scope)
	if err != nil {
		return nil, systemError("load node directory", err)
	}

	res := &Resolution{}
	switch {
	case rec != nil && rec.HasAuthority():
		res.Record = *rec
	case level == model.LevelDomain:
		return nil, notFoundError("no_authoritative_node",
			fmt.Sprintf("domain %s has no authoritative node", scope.DomainID),
			"register a node for the domain first", driven.ErrNoAuthoritativeNode)
	default:
		elected, created, err := s.elect(ctx, level, scope, rec, info)
		if err != nil {
			return nil, err
		}
		res.Record = *elected
		res.Created = created
	}

	// An authority listening on the requester's own address is the requester.
	self := model.NodeAddress{IPAddress: info.IPAddress, Port: info.Port}
	if info.NodeID != "" && info.NodeID != res.Record.NodeID && !info.Forwarded &&
		!res.Created && (self.IsZero() || res.Record.Address != self) {
		info.Level, info.Scope = level, scope
		res.Forward = s.forward(ctx, res.Record, info)
	}
	return res, nil
}

// elect stores a new authority for the scope. created is false when a
// concurrent caller won the insert.
func (s *NodeService) elect(ctx context.Context, level model.NodeLevel, scope model.Scope, existing *model.NodeRecord, info driven.NodeRegistration) (*model.NodeRecord, bool, error) {
	now := s.now()
	candidate := model.NodeRecord{
		Level:       level,
		Scope:       scope,
		NodeID:      fmt.Sprintf("%s-%s-%d", level, scope.ID(level), now.Unix()),
		Address:     model.NodeAddress{IPAddress: info.IPAddress, Port: info.Port},
		LastRefresh: now,
	}

	if existing != nil {
		// The scope row exists without an authority; assign one.
		if err := s.nodes.Upsert(ctx, candidate); err != nil {
			return nil, false, systemError("store elected node", err)
		}
		return &candidate, true, nil
	}

	stored, err := s.nodes.InsertIfAbsent(ctx, candidate)
	if err != nil {
		return nil, false, systemError("store elected node", err)
	}
	created := stored.NodeID == candidate.NodeID && stored.Address == candidate.Address
	if created {
		s.logger.Info("scope authority elected", "level", level, "scope_id", scope.ID(level), "node_id", stored.NodeID)
	}
	return stored, created, nil
}

// RegisterChannel resolves, electing where needed, the cluster and channel
// authorities for scope.
func (s *NodeService) RegisterChannel(ctx context.Context, scope model.Scope, info driven.NodeRegistration) (*ChannelResolution, error) {
	if err := validateScope(model.LevelChannel, scope); err != nil {
		return nil, err
	}
	cluster, err := s.ForwardToScope(ctx, model.LevelCluster, scope, info)
	if err != nil {
		return nil, err
	}
	channel, err := s.ForwardToScope(ctx, model.LevelChannel, scope, info)
	if err != nil {
		return nil, err
	}
	return &ChannelResolution{Cluster: *cluster, Channel: *channel}, nil
}

// Heartbeat refreshes nodeID's last_refresh and returns the current
// authorities under prefix. Empty levels yield empty slices.
func (s *NodeService) Heartbeat(ctx context.Context, nodeID, status string, prefix model.Scope) (*HeartbeatResult, error) {
	if nodeID == "" {
		return nil, structuralError("invalid_request", "node_id is required", nil)
	}

	now := s.now()
	touched, err := s.nodes.Touch(ctx, nodeID, now)
	if err != nil {
		return nil, systemError("touch node", err)
	}

	snap, err := s.snapshot(ctx, prefix)
	if err != nil {
		return nil, err
	}

	pending, err := s.mailbox.CountPending(ctx, nodeID)
	if err != nil {
		return nil, systemError("count pending messages", err)
	}

	return &HeartbeatResult{
		BrokerID:        s.brokerID,
		NodeID:          nodeID,
		Status:          status,
		Known:           touched > 0,
		Snapshot:        snap,
		PendingMessages: pending,
		ServerTime:      now,
	}, nil
}

func (s *NodeService) snapshot(ctx context.Context, prefix model.Scope) (Snapshot, error) {
	var snap Snapshot
	targets := []struct {
		level model.NodeLevel
		dst   *[]model.NodeRecord
	}{
		{model.LevelDomain, &snap.Domain},
		{model.LevelCluster, &snap.Cluster},
		{model.LevelChannel, &snap.Channel},
	}
	for _, t := range targets {
		recs, err := s.nodes.ListByLevel(ctx, t.level, prefix.At(t.level))
		if err != nil {
			return Snapshot{}, systemError("list nodes", err)
		}
		out := make([]model.NodeRecord, 0, len(recs))
		for _, r := range recs {
			if r.HasAuthority() {
				out = append(out, r)
			}
		}
		*t.dst = out
	}
	return snap, nil
}

// TransferAuthority replaces the authoritative node for a domain, inserting
// the row if the domain is new, and notifies the old node via its mailbox.
func (s *NodeService) TransferAuthority(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	scope := model.Scope{DomainID: req.DomainID}
	if err := validateScope(model.LevelDomain, scope); err != nil {
		return nil, err
	}
	if req.NewNodeID == "" {
		return nil, structuralError("invalid_request", "new_node_id is required", nil)
	}

	prev, err := s.nodes.Get(ctx, model.LevelDomain, scope)
	if err != nil {
		return nil, systemError("load node directory", err)
	}

	rec := model.NodeRecord{
		Level:       model.LevelDomain,
		Scope:       scope,
		NodeID:      req.NewNodeID,
		Address:     req.NewAddress,
		LastRefresh: s.now(),
	}
	if err := s.nodes.Upsert(ctx, rec); err != nil {
		return nil, systemError("store node", err)
	}

	res := &TransferResult{Record: rec}
	if prev != nil {
		res.PreviousNodeID = prev.NodeID
		if req.OldNodeID != "" && prev.NodeID != req.OldNodeID {
			s.logger.Warn("authority transfer from unexpected node",
				"domain_id", req.DomainID, "expected", req.OldNodeID, "actual", prev.NodeID)
		}
	}

	notify := req.OldNodeID
	if notify == "" {
		notify = res.PreviousNodeID
	}
	if notify != "" && notify != req.NewNodeID {
		payload := map[string]any{
			"domain_id":   req.DomainID,
			"old_node_id": notify,
			"new_node_id": req.NewNodeID,
			"ip_address":  req.NewAddress.IPAddress,
			"port":        req.NewAddress.Port,
			"reason":      req.Reason,
		}
		id, err := s.SendMessage(ctx, notify, model.MessageAuthorityTransferred, payload)
		if err != nil {
			return nil, err
		}
		res.NotifiedNodeID = notify
		res.MessageID = id
	}

	s.logger.Info("domain authority transferred",
		"domain_id", req.DomainID, "from", res.PreviousNodeID, "to", req.NewNodeID, "reason", req.Reason)
	return res, nil
}

// MainNodes returns the authority at each level that scope identifies.
func (s *NodeService) MainNodes(ctx context.Context, scope model.Scope) (*MainNodes, error) {
	if scope.DomainID == "" {
		return nil, structuralError("invalid_request", "domain_id is required", nil)
	}

	var out MainNodes
	lookups := []struct {
		level model.NodeLevel
		dst   **model.NodeRecord
		need  string
	}{
		{model.LevelDomain, &out.Domain, scope.DomainID},
		{model.LevelCluster, &out.Cluster, scope.ClusterID},
		{model.LevelChannel, &out.Channel, scope.ChannelID},
	}
	for _, l := range lookups {
		if l.need == "" {
			continue
		}
		rec, err := s.nodes.Get(ctx, l.level, scope)
		if err != nil {
			return nil, systemError("load node directory", err)
		}
		if rec != nil && rec.HasAuthority() {
			*l.dst = rec
		}
	}
	return &out, nil
}

// SendMessage queues a message for toNodeID and returns its id.
func (s *NodeService) SendMessage(ctx context.Context, toNodeID, messageType string, payload any) (string, error) {
	if toNodeID == "" || messageType == "" {
		return "", structuralError("invalid_request", "to_node_id and message_type are required", nil)
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = p
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return "", structuralError("invalid_request", "payload is not serializable", err)
		}
		raw = data
	}

	msg := model.PendingMessage{
		ID:          s.newID(),
		ToNodeID:    toNodeID,
		MessageType: messageType,
		Payload:     raw,
		CreatedAt:   s.now(),
	}
	if err := s.mailbox.Enqueue(ctx, msg); err != nil {
		return "", systemError("enqueue message", err)
	}
	return msg.ID, nil
}

// PendingMessages lists the unprocessed messages for nodeID.
func (s *NodeService) PendingMessages(ctx context.Context, nodeID string) ([]model.PendingMessage, error) {
	if nodeID == "" {
		return nil, structuralError("invalid_request", "node_id is required", nil)
	}
	msgs, err := s.mailbox.ListPending(ctx, nodeID)
	if err != nil {
		return nil, systemError("list messages", err)
	}
	return msgs, nil
}

// AckMessage marks a message processed.
func (s *NodeService) AckMessage(ctx context.Context, messageID string) error {
	if err := s.mailbox.Ack(ctx, messageID); err != nil {
		if errors.Is(err, driven.ErrMessageNotFound) {
			return notFoundError("message_not_found", "no pending message "+messageID, "", err)
		}
		return systemError("ack message", err)
	}
	return nil
}

// forward relays reg to target. On failure the registration is queued in the
// target's mailbox so it is not lost.
func (s *NodeService) forward(ctx context.Context, target model.NodeRecord, reg driven.NodeRegistration) ForwardStatus {
	status := ForwardStatus{Attempted: true, Target: target.NodeID}

	var err error
	if target.Address.IsZero() {
		err = errors.New("authoritative node has no address")
	} else {
		err = s.peers.ForwardRegistration(ctx, target.Address, reg)
	}
	if err == nil {
		status.Forwarded = true
		return status
	}

	status.Error = err.Error()
	s.logger.Warn("registration forward failed", "target", target.NodeID, "node_id", reg.NodeID, "error", err)

	reg.Forwarded = true
	if _, qerr := s.SendMessage(ctx, target.NodeID, model.MessageNodeRegistered, reg); qerr != nil {
		s.logger.Error("queue forwarded registration failed", "target", target.NodeID, "error", qerr)
		return status
	}
	status.Queued = true
	return status
}

func validateScope(level model.NodeLevel, scope model.Scope) error {
	if _, err := model.ParseNodeLevel(string(level)); err != nil {
		return structuralError("invalid_level", err.Error(), err)
	}
	if err := scope.Validate(level); err != nil {
		return structuralError("invalid_scope", err.Error(), err)
	}
	return nil
}
