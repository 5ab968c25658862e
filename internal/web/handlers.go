// Package web exposes the router's HTTP entry points: receive for
// inbound messages, send for proactive outbound, outbox for messages
// awaiting delivery and delivered for gateway acknowledgements.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/example/sms-router/internal/models"
	"github.com/example/sms-router/internal/store"
	"github.com/example/sms-router/internal/util"
)

const maxTextRunes = 1600

// RouterService is the subset of router behaviour the HTTP layer needs.
type RouterService interface {
	HandleIncoming(ctx context.Context, backend, sender, text string) (*models.Message, error)
	SendOutgoing(ctx context.Context, conn models.Connection, text, source string) (*models.Message, error)
	MarkSent(ctx context.Context, id string) error
}

// Server wires the HTTP handlers onto a chi router.
type Server struct {
	logger zerolog.Logger
	router RouterService
	store  store.Store
}

// NewServer constructs the HTTP server facade.
func NewServer(router RouterService, st store.Store, logger zerolog.Logger) (*Server, error) {
	if router == nil {
		return nil, errors.New("web: router dependency is required")
	}
	if st == nil {
		return nil, errors.New("web: store dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Server{logger: logger, router: router, store: st}, nil
}

// Routes returns the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Route("/router", func(r chi.Router) {
		r.Get("/receive", s.receive)
		r.Post("/receive", s.receive)
		r.Post("/send", s.send)
		r.Get("/outbox", s.outbox)
		r.Get("/delivered", s.delivered)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// receive accepts an inbound message from a carrier gateway. Backend
// and sender arrive as query or form parameters, matching the
// kannel-style callback convention.
func (s *Server) receive(w http.ResponseWriter, r *http.Request) {
	backend, sender, text, err := messageParams(r, "sender")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	msg, err := s.router.HandleIncoming(r.Context(), backend, sender, text)
	if err != nil {
		s.logger.Error().Err(err).Str("backend", backend).Msg("receive failed")
		writeError(w, http.StatusInternalServerError, errors.New("message could not be processed"))
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// send originates an outbound message outside the inbound flow.
func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	backend, recipient, text, err := messageParams(r, "recipient")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	conn := models.Connection{Backend: backend, Identity: recipient}
	msg, err := s.router.SendOutgoing(r.Context(), conn, text, r.FormValue("source"))
	if err != nil {
		s.logger.Error().Err(err).Str("backend", backend).Msg("send failed")
		writeError(w, http.StatusInternalServerError, errors.New("message could not be sent"))
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// outbox lists outbound messages still awaiting delivery.
func (s *Server) outbox(w http.ResponseWriter, r *http.Request) {
	queued, err := s.store.FindByStatus(r.Context(), models.StatusQueued)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("outbox unavailable"))
		return
	}
	pending, err := s.store.FindByStatus(r.Context(), models.StatusPending)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("outbox unavailable"))
		return
	}

	out := make([]*models.Message, 0, len(queued)+len(pending))
	out = append(out, pending...)
	out = append(out, queued...)
	writeJSON(w, http.StatusOK, map[string]any{"outbox": out})
}

// delivered records a gateway delivery acknowledgement.
func (s *Server) delivered(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("message_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("message_id is required"))
		return
	}

	if err := s.router.MarkSent(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("unknown message"))
			return
		}
		if errors.Is(err, store.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, errors.New("message is not awaiting delivery"))
			return
		}
		writeError(w, http.StatusInternalServerError, errors.New("message could not be updated"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "message_id": id})
}

func messageParams(r *http.Request, addressParam string) (backend, address, text string, err error) {
	backend = strings.TrimSpace(r.FormValue("backend"))
	address = strings.TrimSpace(r.FormValue(addressParam))
	text = r.FormValue("text")

	if backend == "" {
		return "", "", "", errors.New("backend is required")
	}
	if address == "" {
		return "", "", "", errors.New(addressParam + " is required")
	}
	if err := util.EnsureMaxRunes("text", text, maxTextRunes); err != nil {
		return "", "", "", err
	}
	return backend, address, text, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
