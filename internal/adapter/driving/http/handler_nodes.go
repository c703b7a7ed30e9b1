package httphandler

import (
	"net/http"

	"github.com/nomorepassword/bclient/internal/application"
	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

func (req NodeRequest) registration(level model.NodeLevel) driven.NodeRegistration {
	return driven.NodeRegistration{
		Level:     level,
		Scope:     req.scope(),
		NodeID:    req.NodeID,
		IPAddress: req.IPAddress,
		Port:      int(req.Port),
		Forwarded: req.Forwarded,
	}
}

// RegisterNode handles POST /api/nodes/register. The level defaults to domain.
func (h *Handler) RegisterNode(w http.ResponseWriter, r *http.Request) {
	var req NodeRequest
	if !decode(w, r, &req) {
		return
	}

	ack, err := h.nodes.RegisterNode(r.Context(), req.registration(model.NodeLevel(req.Level)))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RegisterNodeResponse{
		Success:        true,
		Registered:     true,
		Node:           toNodeResponse(ack.Record),
		PreviousNodeID: ack.PreviousNode,
		Forward:        toForwardResponse(ack.Forward),
		Message:        ack.Message,
	})
}

// ForwardToScope handles POST /api/forward/{level}.
func (h *Handler) ForwardToScope(w http.ResponseWriter, r *http.Request) {
	level, err := model.ParseNodeLevel(r.PathValue("level"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), ErrorType: "invalid_level"})
		return
	}

	var req NodeRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.nodes.ForwardToScope(r.Context(), level, req.scope(), req.registration(level))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResolutionResponse(*res))
}

// RegisterChannel handles POST /api/register/channel.
func (h *Handler) RegisterChannel(w http.ResponseWriter, r *http.Request) {
	var req NodeRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.nodes.RegisterChannel(r.Context(), req.scope(), req.registration(model.LevelChannel))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RegisterChannelResponse{
		Success: true,
		Cluster: toResolutionResponse(res.Cluster),
		Channel: toResolutionResponse(res.Channel),
	})
}

// Heartbeat handles POST /api/heartbeat.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.nodes.Heartbeat(r.Context(), req.NodeID, req.Status,
		model.Scope{DomainID: req.DomainID, ClusterID: req.ClusterID})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, HeartbeatResponse{
		Success:         true,
		Ack:             true,
		BrokerID:        res.BrokerID,
		NodeID:          res.NodeID,
		Known:           res.Known,
		PendingMessages: res.PendingMessages,
		ServerTime:      formatTime(res.ServerTime),
		AuthoritativeNodes: SnapshotResponse{
			Domain:  toNodeResponses(res.Snapshot.Domain),
			Cluster: toNodeResponses(res.Snapshot.Cluster),
			Channel: toNodeResponses(res.Snapshot.Channel),
		},
	})
}

// MainNode handles GET /api/main-node?domain_id=&cluster_id=&channel_id=.
func (h *Handler) MainNode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := model.Scope{
		DomainID:  q.Get("domain_id"),
		ClusterID: q.Get("cluster_id"),
		ChannelID: q.Get("channel_id"),
	}

	res, err := h.nodes.MainNodes(r.Context(), scope)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MainNodeResponse{
		Success: true,
		Domain:  toNodeResponsePtr(res.Domain),
		Cluster: toNodeResponsePtr(res.Cluster),
		Channel: toNodeResponsePtr(res.Channel),
	})
}

// TransferAuthority handles POST /api/nodes/transfer.
func (h *Handler) TransferAuthority(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.nodes.TransferAuthority(r.Context(), application.TransferRequest{
		DomainID:   req.DomainID,
		OldNodeID:  req.OldNodeID,
		NewNodeID:  req.NewNodeID,
		NewAddress: model.NodeAddress{IPAddress: req.IPAddress, Port: int(req.Port)},
		Reason:     req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TransferResponse{
		Success:        true,
		Node:           toNodeResponse(res.Record),
		PreviousNodeID: res.PreviousNodeID,
		NotifiedNodeID: res.NotifiedNodeID,
		MessageID:      res.MessageID,
	})
}

// SendMessage handles POST /api/messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decode(w, r, &req) {
		return
	}

	id, err := h.nodes.SendMessage(r.Context(), req.ToNodeID, req.MessageType, req.Payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message_id": id})
}

// PendingMessages handles GET /api/messages?node_id=.
func (h *Handler) PendingMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.nodes.PendingMessages(r.Context(), r.URL.Query().Get("node_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := MessagesResponse{Success: true, Messages: make([]MessageResponse, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AckMessage handles POST /api/messages/{id}/ack.
func (h *Handler) AckMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.nodes.AckMessage(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
