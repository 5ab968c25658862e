// Package handler defines the pluggable application contract for the
// router: a fixed set of phase methods every handler exposes, the
// transient envelope passed through inbound phases, and the registry
// that resolves configured handler names to instances at startup.
package handler

import (
	"context"

	"github.com/example/sms-router/internal/models"
)

// Handler is one application in the chain. Handlers are registered in a
// fixed order at startup and that order is stable for the process
// lifetime. Each phase method has a no-op default on Base so handlers
// implement only what they need.
//
// Phase methods returning an error are treated as faulted for that
// phase: the fault is logged, Exception is invoked, and dispatch
// continues with the next handler.
type Handler interface {
	// Name identifies the handler in logs and the registry.
	Name() string

	// Start is called once at router startup. A Start failure is fatal
	// to initialization, unlike per-message phase faults.
	Start(ctx context.Context) error

	// Filter may veto the envelope: returning true aborts all remaining
	// inbound phases (finalization still runs).
	Filter(env *Envelope) (bool, error)

	// Parse runs for every handler with no short-circuit semantics.
	Parse(env *Envelope) error

	// Handle processes the envelope; returning true marks it handled
	// and stops the remaining handlers for this phase only.
	Handle(env *Envelope) (bool, error)

	// Default runs only when no handler handled the envelope; returning
	// true stops the remaining handlers for this phase.
	Default(env *Envelope) (bool, error)

	// Cleanup runs for every handler with no short-circuit semantics.
	Cleanup(env *Envelope) error

	// Outgoing is consulted for each outbound message in reverse
	// registration order. Returning false cancels delivery; no further
	// handlers are consulted.
	Outgoing(out *OutgoingContext) (bool, error)

	// Exception is invoked after any phase fault of this handler.
	Exception(env *Envelope, err error)
}

// Reply is a response queued on an envelope during inbound dispatch.
type Reply struct {
	Connection models.Connection
	Text       string
}

// Envelope is the transient in-flight representation of an incoming
// message. It is created when inbound dispatch starts and discarded
// when dispatch completes; queued replies are drained into separate
// outbound runs. Envelopes are confined to a single dispatch and are
// not safe for use from other goroutines.
type Envelope struct {
	Connection models.Connection
	Text       string

	// Handled is set when a handler takes responsibility for the
	// message during the handle phase.
	Handled bool

	// Message is the persisted record backing this envelope.
	Message *models.Message

	// Fields holds values parse-phase handlers extract for later
	// phases (tokens, matched keywords and the like).
	Fields map[string]string

	replies []Reply
}

// Respond queues a reply to the envelope's own connection. Replies are
// sent in the order they were queued once dispatch finishes.
func (e *Envelope) Respond(text string) {
	e.replies = append(e.replies, Reply{Connection: e.Connection, Text: text})
}

// RespondTo queues a reply to an arbitrary connection.
func (e *Envelope) RespondTo(conn models.Connection, text string) {
	e.replies = append(e.replies, Reply{Connection: conn, Text: text})
}

// Replies returns the queued replies in FIFO order.
func (e *Envelope) Replies() []Reply {
	return e.replies
}

// OutgoingContext carries an outbound message through the outgoing
// phase. Handlers may attach extra delivery parameters that are merged
// into the gateway request.
type OutgoingContext struct {
	Connection models.Connection
	Text       string

	// Message is the persisted pending record for this send.
	Message *models.Message

	// Params holds handler-supplied extra gateway parameters.
	Params map[string]string
}

// SetParam records an extra delivery parameter for the gateway request.
func (o *OutgoingContext) SetParam(key, value string) {
	if o.Params == nil {
		o.Params = make(map[string]string)
	}
	o.Params[key] = value
}

// Base provides no-op defaults for every phase so concrete handlers
// embed it and override only the phases they participate in.
type Base struct{}

func (Base) Start(context.Context) error             { return nil }
func (Base) Filter(*Envelope) (bool, error)          { return false, nil }
func (Base) Parse(*Envelope) error                   { return nil }
func (Base) Handle(*Envelope) (bool, error)          { return false, nil }
func (Base) Default(*Envelope) (bool, error)         { return false, nil }
func (Base) Cleanup(*Envelope) error                 { return nil }
func (Base) Outgoing(*OutgoingContext) (bool, error) { return true, nil }
func (Base) Exception(*Envelope, error)              {}
