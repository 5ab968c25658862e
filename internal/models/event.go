package models

import "time"

// Event types emitted on the message lifecycle stream.
const (
	EventReceived  = "received"
	EventHandled   = "handled"
	EventSent      = "sent"
	EventQueued    = "queued"
	EventCancelled = "cancelled"
)

// MessageEvent is the record published to the lifecycle topic whenever a
// message changes status. Consumers use it for delivery reporting and
// audit; the router never reads it back.
type MessageEvent struct {
	MessageID    string    `json:"message_id"`
	Backend      string    `json:"backend"`
	Identity     string    `json:"identity"`
	Direction    Direction `json:"direction"`
	EventType    string    `json:"event_type"`
	Text         string    `json:"text,omitempty"`
	InResponseTo string    `json:"in_response_to,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
