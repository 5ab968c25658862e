// Package echo provides a demo handler that replies to messages of the
// form "echo <text>" with the text itself.
package echo

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/sms-router/internal/handler"
)

const keyword = "echo"

// Handler echoes back the remainder of any message starting with the
// echo keyword.
type Handler struct {
	handler.Base
	logger zerolog.Logger
}

// New constructs the echo handler.
func New(logger zerolog.Logger) *Handler {
	return &Handler{logger: logger}
}

// Name implements handler.Handler.
func (h *Handler) Name() string { return keyword }

// Parse stashes the echo payload when the keyword matches.
func (h *Handler) Parse(env *handler.Envelope) error {
	text := strings.TrimSpace(env.Text)
	rest, ok := strings.CutPrefix(strings.ToLower(text), keyword)
	if !ok {
		return nil
	}
	if rest != "" && !strings.HasPrefix(rest, " ") {
		// "echoes" is not an echo command
		return nil
	}
	if env.Fields == nil {
		env.Fields = make(map[string]string)
	}
	env.Fields[keyword] = strings.TrimSpace(text[len(keyword):])
	return nil
}

// Handle responds with the parsed payload and takes the message.
func (h *Handler) Handle(env *handler.Envelope) (bool, error) {
	payload, ok := env.Fields[keyword]
	if !ok {
		return false, nil
	}
	if payload == "" {
		payload = "echo"
	}
	h.logger.Debug().Str("identity", env.Connection.Identity).Msg("echoing message")
	env.Respond(payload)
	return true, nil
}
