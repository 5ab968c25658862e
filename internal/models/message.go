package models

import "time"

// Direction indicates whether a message entered the router from the
// outside world or is on its way out to a recipient.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Status tracks a message through its lifecycle. Incoming messages move
// received -> handled; outgoing messages move pending -> sent, queued or
// cancelled. Queued messages may later become sent once a delivery
// attempt succeeds.
type Status string

const (
	// StatusReceived marks an incoming message that has been persisted
	// but not yet dispatched through the handler chain.
	StatusReceived Status = "received"
	// StatusHandled marks an incoming message whose dispatch completed.
	StatusHandled Status = "handled"
	// StatusPending marks an outgoing message awaiting its outbound run.
	StatusPending Status = "pending"
	// StatusSent marks an outgoing message acknowledged by the gateway.
	StatusSent Status = "sent"
	// StatusQueued marks an outgoing message whose delivery failed or
	// could not be attempted; it is picked up again by the retry worker.
	StatusQueued Status = "queued"
	// StatusCancelled marks an outgoing message stopped by a handler
	// before any delivery attempt.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a message in this status may never change
// status again.
func (s Status) Terminal() bool {
	switch s {
	case StatusHandled, StatusSent, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next respects the
// lifecycle. Identity transitions are allowed so repeated writes of the
// same status stay idempotent.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusReceived:
		return next == StatusHandled
	case StatusPending:
		return next == StatusSent || next == StatusQueued || next == StatusCancelled
	case StatusQueued:
		return next == StatusSent
	}
	return false
}

// Connection identifies the (backend, identity) pair a message travels
// over: the carrier channel plus the remote address. The pair is a
// unique key; lookups are idempotent get-or-create.
type Connection struct {
	Backend  string `json:"backend"`
	Identity string `json:"identity"`
}

// Message is one unit of text traffic owned by the message store.
type Message struct {
	ID           string     `json:"id"`
	Connection   Connection `json:"connection"`
	Text         string     `json:"text"`
	Direction    Direction  `json:"direction"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	InResponseTo string     `json:"in_response_to,omitempty"`
}
