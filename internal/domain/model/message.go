package model

import (
	"encoding/json"
	"time"
)

// Message types exchanged through the inter-node mailbox.
const (
	MessageAuthorityTransferred = "authority_transferred"
	MessageNodeRegistered       = "node_registered"
)

// PendingMessage is an asynchronous notification addressed to a node.
type PendingMessage struct {
	ID          string
	ToNodeID    string
	MessageType string
	Payload     json.RawMessage
	Processed   bool
	CreatedAt   time.Time
}
