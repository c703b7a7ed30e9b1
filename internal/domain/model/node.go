package model

import (
	"fmt"
	"time"
)

// NodeLevel is one tier of the forwarding hierarchy.
type NodeLevel string

const (
	LevelDomain  NodeLevel = "domain"
	LevelCluster NodeLevel = "cluster"
	LevelChannel NodeLevel = "channel"
)

// ParseNodeLevel converts a path or query value into a NodeLevel.
func ParseNodeLevel(s string) (NodeLevel, error) {
	switch NodeLevel(s) {
	case LevelDomain, LevelCluster, LevelChannel:
		return NodeLevel(s), nil
	}
	return "", fmt.Errorf("unknown node level %q", s)
}

// Scope identifies a position in the hierarchy. ClusterID is required for the
// cluster and channel levels; ChannelID only for the channel level.
type Scope struct {
	DomainID  string `json:"domain_id"`
	ClusterID string `json:"cluster_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// At returns the scope truncated to the given level.
func (s Scope) At(level NodeLevel) Scope {
	switch level {
	case LevelDomain:
		return Scope{DomainID: s.DomainID}
	case LevelCluster:
		return Scope{DomainID: s.DomainID, ClusterID: s.ClusterID}
	}
	return s
}

// ID returns the identifier of the innermost component for the level.
func (s Scope) ID(level NodeLevel) string {
	switch level {
	case LevelCluster:
		return s.ClusterID
	case LevelChannel:
		return s.ChannelID
	}
	return s.DomainID
}

// Validate checks that every component the level needs is present.
func (s Scope) Validate(level NodeLevel) error {
	if s.DomainID == "" {
		return fmt.Errorf("domain_id is required")
	}
	if (level == LevelCluster || level == LevelChannel) && s.ClusterID == "" {
		return fmt.Errorf("cluster_id is required for %s level", level)
	}
	if level == LevelChannel && s.ChannelID == "" {
		return fmt.Errorf("channel_id is required for channel level")
	}
	return nil
}

// NodeAddress is where a node's HTTP API can be reached.
type NodeAddress struct {
	IPAddress string `json:"ip_address"`
	Port      int    `json:"port"`
}

// IsZero reports whether no address is known.
func (a NodeAddress) IsZero() bool {
	return a.IPAddress == "" || a.Port == 0
}

// BaseURL returns the http base URL for the address.
func (a NodeAddress) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", a.IPAddress, a.Port)
}

// NodeRecord is a node directory row. NodeID is empty when the scope exists
// without an assigned authoritative node.
type NodeRecord struct {
	Level       NodeLevel
	Scope       Scope
	NodeID      string
	Address     NodeAddress
	LastRefresh time.Time
}

// HasAuthority reports whether the record names an authoritative node.
func (r NodeRecord) HasAuthority() bool {
	return r.NodeID != ""
}
