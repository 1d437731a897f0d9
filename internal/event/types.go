package event

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownType    = errors.New("unknown event type")
)

// Priority classifies outbound messages for queue ordering.
// All High messages drain before any Medium, and Medium before Low.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

// String returns the lowercase label used in logs and metrics.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// Inbound event types accepted from clients.
const (
	TypeAuthenticate = "authenticate"
	TypeJoinRoom     = "join_room"
	TypeLeaveRoom    = "leave_room"
	TypePublish      = "publish"
	TypeHeartbeat    = "heartbeat"
)

// Outbound control event types sent to clients.
const (
	TypeAuthenticated = "authenticated"
	TypeJoinedRoom    = "joined_room"
	TypeLeftRoom      = "left_room"
	TypeRoomFull      = "room_full"
	TypeRateLimited   = "rate_limited"
	TypeError         = "error"
)

// TypeEvent is the envelope discriminator for delivered domain events. The
// domain event name travels in the eventType field, so a published event can
// never impersonate a control frame no matter what name the publisher chose.
const TypeEvent = "event"

// Domain event types relayed between clients.
const (
	TypeScoreUpdate   = "score_update"
	TypeDraftPick     = "draft_pick"
	TypeTradeProposed = "trade_proposed"
	TypeChatMessage   = "chat_message"
	TypeLineupUpdated = "lineup_updated"
)

// PriorityFor maps a domain event type to its delivery priority.
// Unknown types default to Low so a new event type can never starve
// score or draft traffic.
func PriorityFor(eventType string) Priority {
	switch eventType {
	case TypeScoreUpdate, TypeDraftPick:
		return PriorityHigh
	case TypeTradeProposed, TypeChatMessage:
		return PriorityMedium
	case TypeLineupUpdated:
		return PriorityLow
	}
	return PriorityLow
}

// Inbound is the envelope for every client→server frame.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AuthenticatePayload carries credentials for the handshake.
type AuthenticatePayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// RoomPayload names the target room for join/leave requests.
type RoomPayload struct {
	Room string `json:"room"`
}

// PublishPayload carries a domain event destined for a room.
type PublishPayload struct {
	Room      string          `json:"room"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// Outbound is the envelope for every server→client frame.
// Room and User are mutually exclusive targets; control events carry neither.
type Outbound struct {
	Type            string          `json:"type"`
	Room            string          `json:"room,omitempty"`
	User            string          `json:"user,omitempty"`
	EventType       string          `json:"eventType,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Success         *bool           `json:"success,omitempty"`
	ServerTimestamp int64           `json:"serverTimestamp,omitempty"` // µs since epoch
}

// QueuedMessage is a prioritized outbound delivery waiting on the flush
// scheduler. Exactly one of Room or UserID is set.
type QueuedMessage struct {
	Room       string          `json:"room,omitempty"`
	UserID     string          `json:"user,omitempty"`
	EventType  string          `json:"eventType"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   Priority        `json:"priority"`
	Origin     string          `json:"origin,omitempty"` // instance id that first enqueued this
	EnqueuedAt time.Time       `json:"enqueuedAt"`

	// FromRelay marks messages that arrived via the pub/sub relay.
	// They are delivered locally but never re-published.
	FromRelay bool `json:"-"`
}

// Age reports how long the message has been queued.
func (m *QueuedMessage) Age(now time.Time) time.Duration {
	return now.Sub(m.EnqueuedAt)
}

// Envelope converts a queued message to its client-facing form.
func (m *QueuedMessage) Envelope() Outbound {
	return Outbound{
		Type:            TypeEvent,
		Room:            m.Room,
		User:            m.UserID,
		EventType:       m.EventType,
		Payload:         m.Payload,
		ServerTimestamp: time.Now().UnixMicro(),
	}
}
