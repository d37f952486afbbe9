// Package realtime maintains the single upstream realtime connection of a
// principal and fans its events out to local subscribers.
package realtime

import (
	"context"
	"encoding/json"
)

// Event names on the wire. Connect and disconnect never travel on the wire;
// the manager dispatches them locally when the connection opens or drops.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"

	EventOnlineUsers         = "online_users_list"
	EventUserStatus          = "user_status_change"
	EventNotification        = "notification"
	EventMessageNotification = "message_notification"
	EventReceiveMessage      = "receive_message"

	EventJoinChat  = "join_chat"
	EventLeaveChat = "leave_chat"
)

// Envelope is one framed event in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Presence values carried by EventUserStatus.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// StatusChange is the payload of EventUserStatus.
type StatusChange struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// UnmarshalJSON also accepts peerId, which some backends send instead of userId.
func (c *StatusChange) UnmarshalJSON(b []byte) error {
	var raw struct {
		UserID string `json:"userId"`
		PeerID string `json:"peerId"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.UserID = raw.UserID
	if c.UserID == "" {
		c.UserID = raw.PeerID
	}
	c.Status = raw.Status
	return nil
}

// Status is the lifecycle state of a connection.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
)

// Handler receives the raw payload of one event.
type Handler func(data json.RawMessage)

// Conn is an established, framed connection.
type Conn interface {
	ReadEnvelope() (Envelope, error)
	WriteEnvelope(env Envelope) error
	Close() error
}

// Dialer opens a connection on behalf of a principal.
type Dialer interface {
	Dial(ctx context.Context, principalID string) (Conn, error)
}

// Source is the read side of a connection as seen by consumers.
type Source interface {
	Subscribe(event string, h Handler) (unsubscribe func())
}

// Emitter is the write side of a connection as seen by consumers.
type Emitter interface {
	Emit(event string, data interface{}) error
}

// Channel is what consumers hold: subscribe, emit and read-only status.
type Channel interface {
	Source
	Emitter
	Connected() bool
}
