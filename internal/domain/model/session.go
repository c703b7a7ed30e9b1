package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SessionPayloadVersion is the only payload schema version currently written.
const SessionPayloadVersion = 1

// ErrInvalidPayload indicates a stored session blob that does not decode to a
// known, structurally valid payload.
var ErrInvalidPayload = errors.New("invalid session payload")

// Session is the single live target-site session for an owner.
type Session struct {
	OwnerID         string
	OwnerUsername   string
	TargetSite      string
	TargetAccount   string
	Payload         SessionPayload
	AutoRefresh     bool
	RefreshDeadline time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SessionPayload is the versioned blob handed to clients as complete_session_data.
type SessionPayload struct {
	Version     int       `json:"version"`
	SessionData string    `json:"nsn_session_data"`
	UserID      string    `json:"nsn_user_id,omitempty"`
	Username    string    `json:"nsn_username"`
	Role        string    `json:"nsn_role,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	// Degraded is set when login succeeded but the site did not confirm who
	// logged in; identity fields are then empty.
	Degraded bool `json:"degraded,omitempty"`
}

// Validate reports whether the payload is structurally usable.
func (p SessionPayload) Validate() error {
	if p.Version != SessionPayloadVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidPayload, p.Version)
	}
	if p.SessionData == "" {
		return fmt.Errorf("%w: empty session data", ErrInvalidPayload)
	}
	return nil
}

// Encode serializes the payload for storage.
func (p SessionPayload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode session payload: %w", err)
	}
	return string(data), nil
}

// DecodeSessionPayload parses and validates a stored payload blob.
func DecodeSessionPayload(blob string) (SessionPayload, error) {
	var p SessionPayload
	if err := json.Unmarshal([]byte(blob), &p); err != nil {
		return SessionPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return SessionPayload{}, err
	}
	return p, nil
}
