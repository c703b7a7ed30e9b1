// Package client talks to a broker's HTTP API from the node side: registering
// the node, heartbeating, binding sessions and transferring authority.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	httphandler "github.com/nomorepassword/bclient/internal/adapter/driving/http"
	"github.com/nomorepassword/bclient/internal/domain/model"
)

const maxResponseBytes = 1 << 20

// APIError is a non-2xx response from the broker.
type APIError struct {
	Status     int
	Type       string
	Message    string
	Suggestion string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("broker returned %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("broker returned %d: %s", e.Status, e.Message)
}

// Registration describes this node to the broker.
type Registration struct {
	Level     model.NodeLevel
	Scope     model.Scope
	NodeID    string
	Address   model.NodeAddress
	Forwarded bool
}

// BindParams is a bind request issued on behalf of a user.
type BindParams struct {
	SiteKey     string
	UserID      string
	UserName    string
	NodeID      string
	Operation   model.Operation
	AutoRefresh bool
	Account     string
	Password    string
	Callback    model.NodeAddress
}

// BindResult is the broker's answer to a bind request. Success is false with
// Error set for user-correctable failures such as rejected credentials.
type BindResult struct {
	httphandler.BindResponse
	Error        string `json:"error,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
	UserFriendly bool   `json:"user_friendly,omitempty"`
	Suggestion   string `json:"suggestion,omitempty"`
}

// Client is a broker API client. Calls that are safe to repeat are retried
// once; bind and transfer are not.
type Client struct {
	baseURL string
	retry   *retryablehttp.Client
	once    *retryablehttp.Client
}

// New creates a Client for the broker at baseURL.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		retry:   newHTTPClient(1, timeout, logger),
		once:    newHTTPClient(0, timeout, logger),
	}
}

func newHTTPClient(retries int, timeout time.Duration, logger *slog.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retries
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = nil
	if logger != nil {
		c.Logger = logger
	}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// RegisterNode registers this node as the authority for its scope.
func (c *Client) RegisterNode(ctx context.Context, reg Registration) (*httphandler.RegisterNodeResponse, error) {
	var out httphandler.RegisterNodeResponse
	err := c.call(ctx, c.retry, http.MethodPost, "/api/nodes/register", nodeBody(reg), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ForwardToScope resolves, electing if needed, the authority for a cluster
// or channel scope.
func (c *Client) ForwardToScope(ctx context.Context, reg Registration) (*httphandler.ResolutionResponse, error) {
	if _, err := model.ParseNodeLevel(string(reg.Level)); err != nil {
		return nil, err
	}
	var out httphandler.ResolutionResponse
	err := c.call(ctx, c.retry, http.MethodPost, "/api/forward/"+string(reg.Level), nodeBody(reg), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Heartbeat reports this node alive and returns the authority snapshot.
func (c *Client) Heartbeat(ctx context.Context, nodeID, status string, scope model.Scope) (*httphandler.HeartbeatResponse, error) {
	body := map[string]string{
		"node_id":    nodeID,
		"status":     status,
		"domain_id":  scope.DomainID,
		"cluster_id": scope.ClusterID,
	}
	var out httphandler.HeartbeatResponse
	if err := c.call(ctx, c.retry, http.MethodPost, "/api/heartbeat", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MainNode returns the authorities for scope.
func (c *Client) MainNode(ctx context.Context, scope model.Scope) (*httphandler.MainNodeResponse, error) {
	q := url.Values{}
	q.Set("domain_id", scope.DomainID)
	if scope.ClusterID != "" {
		q.Set("cluster_id", scope.ClusterID)
	}
	if scope.ChannelID != "" {
		q.Set("channel_id", scope.ChannelID)
	}
	var out httphandler.MainNodeResponse
	if err := c.call(ctx, c.retry, http.MethodGet, "/api/main-node?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Bind submits a bind request. User-correctable failures come back as a
// result with Success false, not as an error.
func (c *Client) Bind(ctx context.Context, p BindParams) (*BindResult, error) {
	body := map[string]any{
		"domain_id":    p.SiteKey,
		"user_id":      p.UserID,
		"user_name":    p.UserName,
		"node_id":      p.NodeID,
		"request_type": int(p.Operation),
		"auto_refresh": p.AutoRefresh,
	}
	if p.Account != "" {
		body["account"] = p.Account
	}
	if p.Password != "" {
		body["password"] = p.Password
	}
	if !p.Callback.IsZero() {
		body["ip_address"] = p.Callback.IPAddress
		body["port"] = p.Callback.Port
	}

	var out BindResult
	if err := c.call(ctx, c.once, http.MethodPost, "/bind", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryCookie asks whether userID has a stored session, having the broker
// push it to callback when it does.
func (c *Client) QueryCookie(ctx context.Context, userID string, callback model.NodeAddress) (*httphandler.QueryCookieResponse, error) {
	body := map[string]any{"user_id": userID}
	if !callback.IsZero() {
		body["c_client_ip_address"] = callback.IPAddress
		body["c_client_api_port"] = callback.Port
	}
	var out httphandler.QueryCookieResponse
	if err := c.call(ctx, c.retry, http.MethodPost, "/api/query-cookie", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transfer hands domain authority from oldNodeID to newNodeID at addr.
func (c *Client) Transfer(ctx context.Context, domainID, oldNodeID, newNodeID string, addr model.NodeAddress, reason string) (*httphandler.TransferResponse, error) {
	body := map[string]any{
		"domain_id":   domainID,
		"old_node_id": oldNodeID,
		"new_node_id": newNodeID,
		"ip_address":  addr.IPAddress,
		"port":        addr.Port,
		"reason":      reason,
	}
	var out httphandler.TransferResponse
	if err := c.call(ctx, c.once, http.MethodPost, "/api/nodes/transfer", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PendingMessages lists the mailbox of nodeID.
func (c *Client) PendingMessages(ctx context.Context, nodeID string) ([]httphandler.MessageResponse, error) {
	var out httphandler.MessagesResponse
	path := "/api/messages?node_id=" + url.QueryEscape(nodeID)
	if err := c.call(ctx, c.retry, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// AckMessage marks a mailbox message processed.
func (c *Client) AckMessage(ctx context.Context, messageID string) error {
	return c.call(ctx, c.retry, http.MethodPost, "/api/messages/"+url.PathEscape(messageID)+"/ack", nil, nil)
}

// Health checks that the broker is serving.
func (c *Client) Health(ctx context.Context) error {
	var out httphandler.HealthResponse
	if err := c.call(ctx, c.retry, http.MethodGet, "/health", nil, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("broker health status %q", out.Status)
	}
	return nil
}

func nodeBody(reg Registration) map[string]any {
	body := map[string]any{
		"domain_id":  reg.Scope.DomainID,
		"node_id":    reg.NodeID,
		"ip_address": reg.Address.IPAddress,
		"port":       reg.Address.Port,
	}
	if reg.Level != "" {
		body["level"] = string(reg.Level)
	}
	if reg.Scope.ClusterID != "" {
		body["cluster_id"] = reg.Scope.ClusterID
	}
	if reg.Scope.ChannelID != "" {
		body["channel_id"] = reg.Scope.ChannelID
	}
	if reg.Forwarded {
		body["forwarded"] = true
	}
	return body
}

func (c *Client) call(ctx context.Context, hc *retryablehttp.Client, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	var body struct {
		Error      string `json:"error"`
		ErrorType  string `json:"error_type"`
		Suggestion string `json:"suggestion"`
	}
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		apiErr.Type, apiErr.Message, apiErr.Suggestion = body.ErrorType, body.Error, body.Suggestion
		return apiErr
	}
	apiErr.Message = string(bytes.TrimSpace(data))
	if len(apiErr.Message) > 200 {
		apiErr.Message = apiErr.Message[:200]
	}
	return apiErr
}
