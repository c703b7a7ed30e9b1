package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	httphandler "github.com/nomorepassword/bclient/internal/adapter/driving/http"
	"github.com/nomorepassword/bclient/internal/domain/model"
)

// Heartbeater sends one heartbeat to the broker.
type Heartbeater interface {
	Heartbeat(ctx context.Context, nodeID, status string, scope model.Scope) (*httphandler.HeartbeatResponse, error)
}

// State is the node's view of its connection to the broker. BrokerID,
// LastSnapshot and PendingMessages keep the values from the last successful
// heartbeat.
type State struct {
	Connected           bool
	BrokerID            string
	Known               bool
	LastError           string
	ConsecutiveFailures int
	LastSnapshot        *httphandler.SnapshotResponse
	PendingMessages     int
	CheckedAt           time.Time
	LastSuccess         time.Time
}

// Monitor heartbeats periodically and tracks connectivity. Other components
// read the result through State.
type Monitor struct {
	hb       Heartbeater
	nodeID   string
	scope    model.Scope
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	state State
}

// NewMonitor creates a Monitor for nodeID.
func NewMonitor(hb Heartbeater, nodeID string, scope model.Scope, interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		hb:       hb,
		nodeID:   nodeID,
		scope:    scope,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// State returns the current connectivity state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Run heartbeats immediately and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check sends one heartbeat and returns the updated state.
func (m *Monitor) Check(ctx context.Context) State {
	resp, err := m.hb.Heartbeat(ctx, m.nodeID, "online", m.scope)
	now := m.now()

	m.mu.Lock()
	prev := m.state.Connected
	prevBroker := m.state.BrokerID
	m.state.CheckedAt = now
	if err != nil {
		m.state.Connected = false
		m.state.LastError = err.Error()
		m.state.ConsecutiveFailures++
	} else {
		m.state.Connected = true
		m.state.Known = resp.Known
		m.state.BrokerID = resp.BrokerID
		m.state.LastError = ""
		m.state.ConsecutiveFailures = 0
		snap := resp.AuthoritativeNodes
		m.state.LastSnapshot = &snap
		m.state.PendingMessages = resp.PendingMessages
		m.state.LastSuccess = now
	}
	st := m.state
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("heartbeat failed", "node_id", m.nodeID, "failures", st.ConsecutiveFailures, "error", err)
	} else if !st.Known {
		m.logger.Warn("broker does not know this node; register it first", "node_id", m.nodeID)
	}

	if err == nil && prevBroker != "" && prevBroker != st.BrokerID {
		m.logger.Warn("broker identity changed", "node_id", m.nodeID, "from", prevBroker, "to", st.BrokerID)
	}
	if prev != st.Connected {
		m.logger.Info("broker connectivity changed", "node_id", m.nodeID, "connected", st.Connected)
	}
	return st
}
