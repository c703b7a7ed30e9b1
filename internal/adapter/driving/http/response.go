package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nomorepassword/bclient/internal/application"
	"github.com/nomorepassword/bclient/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, ErrorType: "invalid_request"})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	ErrorType    string `json:"error_type,omitempty"`
	UserFriendly bool   `json:"user_friendly"`
	Suggestion   string `json:"suggestion,omitempty"`
}

// statusFor maps an error kind to its HTTP status. User-correctable failures
// are a normal outcome and use 200.
func statusFor(kind application.ErrorKind) int {
	switch kind {
	case application.KindUserCorrectable:
		return http.StatusOK
	case application.KindTransient:
		return http.StatusBadGateway
	case application.KindStructural:
		return http.StatusBadRequest
	case application.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func toErrorResponse(e *application.Error) errorResponse {
	msg := e.Message
	if e.Kind == application.KindSystem {
		msg = "internal server error"
	}
	return errorResponse{
		Error:        msg,
		ErrorType:    e.Type,
		UserFriendly: e.UserFriendly(),
		Suggestion:   e.Suggestion,
	}
}

// SessionInfoResponse carries the session handed to a client.
type SessionInfoResponse struct {
	CompleteSessionData model.SessionPayload `json:"complete_session_data"`
	TargetSite          string               `json:"target_site"`
	TargetAccount       string               `json:"target_account"`
	AutoRefresh         bool                 `json:"auto_refresh"`
	RefreshDeadline     string               `json:"refresh_deadline"`
}

// RelayResponse reports delivery to the client's callback endpoint.
type RelayResponse struct {
	Pushed  bool   `json:"pushed"`
	Address string `json:"address,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BindOutcome is the result of a bind operation.
type BindOutcome struct {
	Operation     string               `json:"operation"`
	LoginSuccess  bool                 `json:"login_success"`
	Registered    bool                 `json:"registered"`
	TargetAccount string               `json:"target_account,omitempty"`
	SessionInfo   *SessionInfoResponse `json:"session_info,omitempty"`
	Degraded      bool                 `json:"degraded,omitempty"`
	ClearedCount  *int64               `json:"cleared_count,omitempty"`
	Relay         RelayResponse        `json:"relay"`
	Message       string               `json:"message,omitempty"`
}

// BindResponse is the body of a successful POST /bind. The outcome is sent
// both at top level and under data.
type BindResponse struct {
	Success bool `json:"success"`
	BindOutcome
	Data *BindOutcome `json:"data,omitempty"`
}

// QueryCookieResponse is the body of POST /api/query-cookie.
type QueryCookieResponse struct {
	Success     bool                 `json:"success"`
	HasCookie   bool                 `json:"has_cookie"`
	Message     string               `json:"message"`
	SessionInfo *SessionInfoResponse `json:"session_info,omitempty"`
	Relay       *RelayResponse       `json:"relay,omitempty"`
}

// NodeResponse is the JSON representation of a node directory row.
type NodeResponse struct {
	Level       string `json:"level"`
	DomainID    string `json:"domain_id"`
	ClusterID   string `json:"cluster_id,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	NodeID      string `json:"node_id"`
	IPAddress   string `json:"ip_address"`
	Port        int    `json:"port"`
	LastRefresh string `json:"last_refresh"`
}

// ForwardResponse reports a relay of a registration to the authority.
type ForwardResponse struct {
	Attempted bool   `json:"attempted"`
	Forwarded bool   `json:"forwarded"`
	Target    string `json:"target,omitempty"`
	Error     string `json:"error,omitempty"`
	Queued    bool   `json:"queued,omitempty"`
}

// RegisterNodeResponse is the body of POST /api/nodes/register.
type RegisterNodeResponse struct {
	Success        bool            `json:"success"`
	Registered     bool            `json:"registered"`
	Node           NodeResponse    `json:"node"`
	PreviousNodeID string          `json:"previous_node_id,omitempty"`
	Forward        ForwardResponse `json:"forward"`
	Message        string          `json:"message"`
}

// ResolutionResponse is the body of POST /api/forward/{level}.
type ResolutionResponse struct {
	Success bool            `json:"success"`
	Node    NodeResponse    `json:"node"`
	Created bool            `json:"created"`
	Forward ForwardResponse `json:"forward"`
}

// RegisterChannelResponse is the body of POST /api/register/channel.
type RegisterChannelResponse struct {
	Success bool               `json:"success"`
	Cluster ResolutionResponse `json:"cluster"`
	Channel ResolutionResponse `json:"channel"`
}

// SnapshotResponse lists the authoritative nodes per level.
type SnapshotResponse struct {
	Domain  []NodeResponse `json:"domain"`
	Cluster []NodeResponse `json:"cluster"`
	Channel []NodeResponse `json:"channel"`
}

// HeartbeatResponse is the body of POST /api/heartbeat.
type HeartbeatResponse struct {
	Success            bool             `json:"success"`
	Ack                bool             `json:"ack"`
	BrokerID           string           `json:"broker_id"`
	NodeID             string           `json:"node_id"`
	Known              bool             `json:"known"`
	PendingMessages    int              `json:"pending_messages"`
	ServerTime         string           `json:"server_time"`
	AuthoritativeNodes SnapshotResponse `json:"authoritative_nodes"`
}

// MainNodeResponse is the body of GET /api/main-node.
type MainNodeResponse struct {
	Success bool          `json:"success"`
	Domain  *NodeResponse `json:"domain"`
	Cluster *NodeResponse `json:"cluster"`
	Channel *NodeResponse `json:"channel"`
}

// TransferResponse is the body of POST /api/nodes/transfer.
type TransferResponse struct {
	Success        bool         `json:"success"`
	Node           NodeResponse `json:"node"`
	PreviousNodeID string       `json:"previous_node_id,omitempty"`
	NotifiedNodeID string       `json:"notified_node_id,omitempty"`
	MessageID      string       `json:"message_id,omitempty"`
}

// MessageResponse is the JSON representation of a pending message.
type MessageResponse struct {
	MessageID   string          `json:"message_id"`
	ToNodeID    string          `json:"to_node_id"`
	MessageType string          `json:"message_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   string          `json:"created_at"`
}

// MessagesResponse is the body of GET /api/messages.
type MessagesResponse struct {
	Success  bool              `json:"success"`
	Messages []MessageResponse `json:"messages"`
}

// RefreshResponse is the body of POST /api/refresh.
type RefreshResponse struct {
	Success    bool  `json:"success"`
	Total      int   `json:"total"`
	Refreshed  int   `json:"refreshed"`
	Skipped    int   `json:"skipped"`
	Failed     int   `json:"failed"`
	DurationMS int64 `json:"duration_ms"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toSessionInfoResponse(s *application.SessionInfo) *SessionInfoResponse {
	if s == nil {
		return nil
	}
	return &SessionInfoResponse{
		CompleteSessionData: s.Payload,
		TargetSite:          s.TargetSite,
		TargetAccount:       s.TargetAccount,
		AutoRefresh:         s.AutoRefresh,
		RefreshDeadline:     formatTime(s.RefreshDeadline),
	}
}

func toRelayResponse(r application.RelayStatus) RelayResponse {
	return RelayResponse{Pushed: r.Pushed, Address: r.Address, Error: r.Error}
}

func toBindResponse(out *application.BindOutcome) BindResponse {
	outcome := BindOutcome{
		Operation:     out.Operation.String(),
		LoginSuccess:  out.LoginSuccess,
		Registered:    out.Registered,
		TargetAccount: out.TargetAccount,
		SessionInfo:   toSessionInfoResponse(out.Session),
		Degraded:      out.Degraded,
		Relay:         toRelayResponse(out.Relay),
		Message:       out.Message,
	}
	if out.Operation == model.OpClearCookies {
		n := out.Cleared
		outcome.ClearedCount = &n
	}
	data := outcome
	return BindResponse{Success: true, BindOutcome: outcome, Data: &data}
}

func toNodeResponse(r model.NodeRecord) NodeResponse {
	return NodeResponse{
		Level:       string(r.Level),
		DomainID:    r.Scope.DomainID,
		ClusterID:   r.Scope.ClusterID,
		ChannelID:   r.Scope.ChannelID,
		NodeID:      r.NodeID,
		IPAddress:   r.Address.IPAddress,
		Port:        r.Address.Port,
		LastRefresh: formatTime(r.LastRefresh),
	}
}

func toNodeResponsePtr(r *model.NodeRecord) *NodeResponse {
	if r == nil {
		return nil
	}
	resp := toNodeResponse(*r)
	return &resp
}

func toNodeResponses(recs []model.NodeRecord) []NodeResponse {
	out := make([]NodeResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, toNodeResponse(r))
	}
	return out
}

func toForwardResponse(f application.ForwardStatus) ForwardResponse {
	return ForwardResponse{
		Attempted: f.Attempted,
		Forwarded: f.Forwarded,
		Target:    f.Target,
		Error:     f.Error,
		Queued:    f.Queued,
	}
}

func toResolutionResponse(r application.Resolution) ResolutionResponse {
	return ResolutionResponse{
		Success: true,
		Node:    toNodeResponse(r.Record),
		Created: r.Created,
		Forward: toForwardResponse(r.Forward),
	}
}

func toMessageResponse(m model.PendingMessage) MessageResponse {
	payload := m.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return MessageResponse{
		MessageID:   m.ID,
		ToNodeID:    m.ToNodeID,
		MessageType: m.MessageType,
		Payload:     payload,
		CreatedAt:   formatTime(m.CreatedAt),
	}
}
