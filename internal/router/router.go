// Package router contains the message routing core: the phase dispatch
// engine and the Router that orchestrates handler lifecycle and exposes
// the public entry points.
package router

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/example/sms-router/internal/handler"
	"github.com/example/sms-router/internal/models"
	"github.com/example/sms-router/internal/store"
)

// Config carries the router's static configuration.
type Config struct {
	// Handlers lists the handler names to resolve through the registry,
	// in chain order.
	Handlers []string
}

// Dependencies collects the collaborators the router requires. Events
// is optional; every other field is mandatory.
type Dependencies struct {
	Store     store.Store
	Deliverer Deliverer
	Registry  *handler.Registry
	Events    EventPublisher
	Logger    zerolog.Logger
}

// Router orchestrates the message pipeline: it lazily initialises the
// handler chain on first use, persists inbound messages, runs them
// through the dispatch engine and offers SendOutgoing for proactive
// sends. Entry points are safe for concurrent use; dispatches for
// different messages run independently.
type Router struct {
	cfg       Config
	logger    zerolog.Logger
	store     store.Store
	deliverer Deliverer
	registry  *handler.Registry
	events    EventPublisher

	started atomic.Bool
	mu      sync.Mutex

	handlers   []handler.Handler
	dispatcher *Dispatcher
	backlog    []*models.Message
}

// New constructs a Router. Initialization of the handler chain is
// deferred to the first entry-point call.
func New(cfg Config, deps Dependencies) (*Router, error) {
	if deps.Store == nil {
		return nil, errors.New("router: store dependency is required")
	}
	if deps.Deliverer == nil {
		return nil, errors.New("router: deliverer dependency is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("router: registry dependency is required")
	}
	if len(cfg.Handlers) == 0 {
		return nil, errors.New("router: at least one handler must be configured")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "router").Logger()

	return &Router{
		cfg:       cfg,
		logger:    logger,
		store:     deps.Store,
		deliverer: deps.Deliverer,
		registry:  deps.Registry,
		events:    deps.Events,
	}, nil
}

// EnsureStarted performs one-time initialization: handler resolution
// and Start invocation, then hydration of the outgoing backlog from
// persisted queued messages. Concurrent first calls run initialization
// exactly once; a failure leaves the router unstarted so the next call
// retries. Start failures are fatal and propagate to the caller.
func (r *Router) EnsureStarted(ctx context.Context) error {
	if r.started.Load() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started.Load() {
		return nil
	}

	handlers := make([]handler.Handler, 0, len(r.cfg.Handlers))
	for _, name := range r.cfg.Handlers {
		h, err := r.registry.Instantiate(name)
		if err != nil {
			return fmt.Errorf("router: %w", err)
		}
		handlers = append(handlers, h)
	}

	for _, h := range handlers {
		if err := h.Start(ctx); err != nil {
			return fmt.Errorf("router: start handler %q: %w", h.Name(), err)
		}
		r.logger.Debug().Str("handler", h.Name()).Msg("handler started")
	}

	backlog, err := r.store.FindByStatus(ctx, models.StatusQueued)
	if err != nil {
		return fmt.Errorf("router: hydrate outgoing backlog: %w", err)
	}

	dispatcher, err := NewDispatcher(r.store, r.deliverer, r.events, handlers, r.logger)
	if err != nil {
		return err
	}

	r.handlers = handlers
	r.dispatcher = dispatcher
	r.backlog = backlog
	r.started.Store(true)

	r.logger.Info().
		Strs("handlers", r.cfg.Handlers).
		Int("backlog", len(backlog)).
		Msg("router started")
	return nil
}

// DrainBacklog hands over the queued messages hydrated at startup. It
// returns them at most once; the retry worker consumes them as its
// first pass before switching to periodic store scans.
func (r *Router) DrainBacklog() []*models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	backlog := r.backlog
	r.backlog = nil
	return backlog
}

// HandleIncoming processes one inbound message end to end: it resolves
// the connection, persists the message as received, runs the inbound
// phases and sends any replies. The returned message reflects the
// final persisted state (handled).
func (r *Router) HandleIncoming(ctx context.Context, backend, sender, text string) (*models.Message, error) {
	if err := r.EnsureStarted(ctx); err != nil {
		return nil, err
	}

	conn, err := r.store.GetOrCreateConnection(ctx, backend, sender)
	if err != nil {
		return nil, fmt.Errorf("router: resolve connection: %w", err)
	}

	msg, err := r.store.CreateMessage(ctx, conn, text, models.DirectionIncoming, models.StatusReceived, "")
	if err != nil {
		return nil, fmt.Errorf("router: create incoming message: %w", err)
	}
	r.dispatcher.publishEvent(ctx, msg, models.EventReceived)

	env := &handler.Envelope{
		Connection: conn,
		Text:       text,
		Message:    msg,
	}

	if err := r.dispatcher.RunInbound(ctx, env); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendOutgoing sends a message originated outside the inbound flow. It
// behaves identically to a reply produced during inbound dispatch;
// source may be empty or name the message this one responds to.
func (r *Router) SendOutgoing(ctx context.Context, conn models.Connection, text, source string) (*models.Message, error) {
	if err := r.EnsureStarted(ctx); err != nil {
		return nil, err
	}
	return r.dispatcher.RunOutbound(ctx, conn, text, source)
}

// MarkSent records a gateway delivery acknowledgement for the message.
func (r *Router) MarkSent(ctx context.Context, id string) error {
	if err := r.EnsureStarted(ctx); err != nil {
		return err
	}
	if err := r.store.UpdateStatus(ctx, id, models.StatusSent); err != nil {
		return fmt.Errorf("router: mark sent: %w", err)
	}
	msg, err := r.store.GetMessage(ctx, id)
	if err == nil {
		r.dispatcher.publishEvent(ctx, msg, models.EventSent)
	}
	return nil
}
