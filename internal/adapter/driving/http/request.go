package httphandler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nomorepassword/bclient/internal/domain/model"
)

// flexInt accepts a JSON number or a numeric string. Clients send ports and
// request types both ways.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
		*f = flexInt(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// optionalInt is a flexInt that remembers whether a value was supplied. Null
// and the empty string count as absent.
type optionalInt struct {
	value int
	set   bool
}

func (o *optionalInt) UnmarshalJSON(data []byte) error {
	var f flexInt
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	switch string(bytes.TrimSpace(data)) {
	case "null", `""`:
		return nil
	}
	o.value, o.set = int(f), true
	return nil
}

// BindRequest is the JSON body of POST /bind.
type BindRequest struct {
	DomainID    string      `json:"domain_id"`
	UserID      string      `json:"user_id"`
	UserName    string      `json:"user_name"`
	NodeID      string      `json:"node_id"`
	RequestType optionalInt `json:"request_type"`
	AutoRefresh bool        `json:"auto_refresh"`
	Account     string      `json:"account"`
	Password    string      `json:"password"`
	IPAddress   string      `json:"ip_address"`
	Port        flexInt     `json:"port"`
}

// QueryCookieRequest is the JSON body of POST /api/query-cookie.
type QueryCookieRequest struct {
	UserID    string  `json:"user_id"`
	IPAddress string  `json:"c_client_ip_address"`
	Port      flexInt `json:"c_client_api_port"`
}

// NodeRequest is the JSON body shared by the node registration and forwarding
// endpoints.
type NodeRequest struct {
	Level     string  `json:"level"`
	DomainID  string  `json:"domain_id"`
	ClusterID string  `json:"cluster_id"`
	ChannelID string  `json:"channel_id"`
	NodeID    string  `json:"node_id"`
	IPAddress string  `json:"ip_address"`
	Port      flexInt `json:"port"`
	Forwarded bool    `json:"forwarded"`
	// Scope is accepted from peers that post a nested scope object.
	Scope *model.Scope `json:"scope,omitempty"`
}

func (r NodeRequest) scope() model.Scope {
	if r.Scope != nil && r.DomainID == "" {
		return *r.Scope
	}
	return model.Scope{DomainID: r.DomainID, ClusterID: r.ClusterID, ChannelID: r.ChannelID}
}

// HeartbeatRequest is the JSON body of POST /api/heartbeat.
type HeartbeatRequest struct {
	NodeID    string `json:"node_id"`
	Status    string `json:"status"`
	DomainID  string `json:"domain_id"`
	ClusterID string `json:"cluster_id"`
}

// TransferRequest is the JSON body of POST /api/nodes/transfer.
type TransferRequest struct {
	DomainID  string  `json:"domain_id"`
	OldNodeID string  `json:"old_node_id"`
	NewNodeID string  `json:"new_node_id"`
	IPAddress string  `json:"ip_address"`
	Port      flexInt `json:"port"`
	Reason    string  `json:"reason"`
}

// SendMessageRequest is the JSON body of POST /api/messages.
type SendMessageRequest struct {
	ToNodeID    string          `json:"to_node_id"`
	MessageType string          `json:"message_type"`
	Payload     json.RawMessage `json:"payload"`
}
