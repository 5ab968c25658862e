package router

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sms-router/internal/handler"
	"github.com/example/sms-router/internal/models"
	"github.com/example/sms-router/internal/store"
)

// Phase is one named step of the processing pipeline.
type Phase string

const (
	PhaseFilter   Phase = "filter"
	PhaseParse    Phase = "parse"
	PhaseHandle   Phase = "handle"
	PhaseDefault  Phase = "default"
	PhaseCleanup  Phase = "cleanup"
	PhaseOutgoing Phase = "outgoing"
)

var incomingPhases = []Phase{PhaseFilter, PhaseParse, PhaseHandle, PhaseDefault, PhaseCleanup}

// Deliverer hands an outbound message to the carrier gateway. It never
// fails: every failure mode maps to StatusQueued.
type Deliverer interface {
	Deliver(ctx context.Context, msg *models.Message, extra map[string]string) models.Status
}

// EventPublisher emits message lifecycle events. Implementations must
// tolerate being called concurrently; publish failures are logged by
// the dispatcher and never interrupt dispatch.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event models.MessageEvent) error
}

// Dispatcher drives inbound and outbound phase execution across the
// handler chain. Dispatches for different envelopes are independent and
// may run concurrently; the only shared state is the store.
type Dispatcher struct {
	logger    zerolog.Logger
	store     store.Store
	deliverer Deliverer
	events    EventPublisher
	handlers  []handler.Handler
}

// NewDispatcher constructs a dispatcher over the given handler chain.
// The chain order is the registration order and is fixed for the
// dispatcher's lifetime.
func NewDispatcher(st store.Store, deliverer Deliverer, events EventPublisher, handlers []handler.Handler, logger zerolog.Logger) (*Dispatcher, error) {
	if st == nil {
		return nil, fmt.Errorf("dispatcher: store dependency is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("dispatcher: deliverer dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	return &Dispatcher{
		logger:    logger,
		store:     st,
		deliverer: deliverer,
		events:    events,
		handlers:  handlers,
	}, nil
}

// phaseAction is the tagged result of a single handler invocation
// within a phase, telling the phase loop how to proceed.
type phaseAction int

const (
	// actionContinue moves on to the next handler or phase.
	actionContinue phaseAction = iota
	// actionBreakPhase stops the remaining handlers for this phase only.
	actionBreakPhase
	// actionAbort stops all remaining phases for this envelope.
	actionAbort
)

// RunInbound pushes the envelope through the inbound phases in order,
// then finalizes: the backing message is marked handled and any queued
// replies are sent, each completing its full outbound run before the
// next begins. Handler faults are isolated; only store failures
// surface as errors.
func (d *Dispatcher) RunInbound(ctx context.Context, env *handler.Envelope) error {
	d.logger.Info().
		Str("backend", env.Connection.Backend).
		Str("identity", env.Connection.Identity).
		Str("text", env.Text).
		Msg("incoming message")

phases:
	for _, phase := range incomingPhases {
		d.logger.Debug().Str("phase", string(phase)).Msg("entering phase")

		// Once a message is handled, the default phase and everything
		// after it are skipped.
		if phase == PhaseDefault && env.Handled {
			d.logger.Debug().Msg("message handled, skipping remaining phases")
			break
		}

		for _, h := range d.handlers {
			switch d.runPhase(h, phase, env) {
			case actionBreakPhase:
				continue phases
			case actionAbort:
				d.logger.Warn().
					Str("handler", h.Name()).
					Str("message_id", env.Message.ID).
					Msg("message filtered")
				break phases
			}
		}
	}

	if err := d.store.UpdateStatus(ctx, env.Message.ID, models.StatusHandled); err != nil {
		return fmt.Errorf("dispatcher: finalize message %s: %w", env.Message.ID, err)
	}
	env.Message.Status = models.StatusHandled
	d.publishEvent(ctx, env.Message, models.EventHandled)

	for _, reply := range env.Replies() {
		if _, err := d.RunOutbound(ctx, reply.Connection, reply.Text, env.Message.ID); err != nil {
			return fmt.Errorf("dispatcher: send reply for %s: %w", env.Message.ID, err)
		}
	}
	return nil
}

// runPhase invokes one handler's method for the given phase, isolating
// faults, and maps the result onto a phaseAction per the phase's
// short-circuit rules.
func (d *Dispatcher) runPhase(h handler.Handler, phase Phase, env *handler.Envelope) phaseAction {
	var (
		result bool
		err    error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		switch phase {
		case PhaseFilter:
			result, err = h.Filter(env)
		case PhaseParse:
			err = h.Parse(env)
		case PhaseHandle:
			result, err = h.Handle(env)
		case PhaseDefault:
			result, err = h.Default(env)
		case PhaseCleanup:
			err = h.Cleanup(env)
		}
	}()

	if err != nil {
		d.isolateFault(h, phase, env, err)
		return actionContinue
	}

	switch phase {
	case PhaseFilter:
		if result {
			return actionAbort
		}
	case PhaseHandle:
		if result {
			env.Handled = true
			d.logger.Debug().Str("handler", h.Name()).Msg("handle phase short-circuited")
			return actionBreakPhase
		}
	case PhaseDefault:
		if result {
			d.logger.Debug().Str("handler", h.Name()).Msg("default phase short-circuited")
			return actionBreakPhase
		}
	}
	return actionContinue
}

// isolateFault logs a handler fault and surfaces it to the handler via
// its Exception hook. One failing handler must never abort the chain.
func (d *Dispatcher) isolateFault(h handler.Handler, phase Phase, env *handler.Envelope, err error) {
	d.logger.Error().
		Err(err).
		Str("handler", h.Name()).
		Str("phase", string(phase)).
		Msg("handler fault isolated")

	func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error().
					Str("handler", h.Name()).
					Interface("panic", r).
					Msg("handler exception hook panicked")
			}
		}()
		h.Exception(env, err)
	}()
}

// RunOutbound persists a new pending message linked to its source,
// consults the handlers in reverse registration order, and attempts
// delivery unless a handler cancels. The returned message carries the
// final persisted status: sent, queued or cancelled.
func (d *Dispatcher) RunOutbound(ctx context.Context, conn models.Connection, text, inResponseTo string) (*models.Message, error) {
	msg, err := d.store.CreateMessage(ctx, conn, text, models.DirectionOutgoing, models.StatusPending, inResponseTo)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: create outgoing message: %w", err)
	}

	d.logger.Info().
		Str("message_id", msg.ID).
		Str("backend", conn.Backend).
		Str("identity", conn.Identity).
		Str("text", text).
		Msg("outgoing message")

	out := &handler.OutgoingContext{
		Connection: conn,
		Text:       text,
		Message:    msg,
	}

	// The handler first consulted on the way in is consulted last on
	// the way out.
	for i := len(d.handlers) - 1; i >= 0; i-- {
		h := d.handlers[i]

		proceed, err := d.runOutgoing(h, out)
		if err != nil {
			d.isolateFault(h, PhaseOutgoing, nil, err)
			continue
		}
		if !proceed {
			if err := d.store.UpdateStatus(ctx, msg.ID, models.StatusCancelled); err != nil {
				return nil, fmt.Errorf("dispatcher: cancel message %s: %w", msg.ID, err)
			}
			msg.Status = models.StatusCancelled
			d.logger.Warn().
				Str("message_id", msg.ID).
				Str("handler", h.Name()).
				Msg("message cancelled")
			d.publishEvent(ctx, msg, models.EventCancelled)
			return msg, nil
		}
	}

	status := d.deliverer.Deliver(ctx, msg, out.Params)
	if err := d.store.UpdateStatus(ctx, msg.ID, status); err != nil {
		return nil, fmt.Errorf("dispatcher: record delivery of %s: %w", msg.ID, err)
	}
	msg.Status = status

	switch status {
	case models.StatusSent:
		d.publishEvent(ctx, msg, models.EventSent)
	default:
		d.publishEvent(ctx, msg, models.EventQueued)
	}
	return msg, nil
}

func (d *Dispatcher) runOutgoing(h handler.Handler, out *handler.OutgoingContext) (proceed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			proceed, err = false, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Outgoing(out)
}

func (d *Dispatcher) publishEvent(ctx context.Context, msg *models.Message, eventType string) {
	if d.events == nil {
		return
	}
	event := models.MessageEvent{
		MessageID:    msg.ID,
		Backend:      msg.Connection.Backend,
		Identity:     msg.Connection.Identity,
		Direction:    msg.Direction,
		EventType:    eventType,
		Text:         msg.Text,
		InResponseTo: msg.InResponseTo,
		Timestamp:    time.Now().UTC(),
	}
	if err := d.events.PublishEvent(ctx, event); err != nil {
		d.logger.Error().
			Err(err).
			Str("message_id", msg.ID).
			Str("event", eventType).
			Msg("failed to publish lifecycle event")
	}
}
