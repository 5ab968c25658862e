// Package gateway implements the delivery client: it hands outbound
// messages to an external carrier gateway over HTTP and reports whether
// the message was sent or should be queued for a later attempt. The
// client never returns an error to the dispatcher; every failure mode
// downgrades to queued.
package gateway

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sms-router/internal/models"
)

const defaultTimeout = 30 * time.Second

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customises the delivery client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used to reach the gateway.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout bounds each delivery attempt. Only applies to the default
// HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client delivers messages to a carrier gateway reachable at a single
// base URL. The request carries backend, recipient, text and id as
// query parameters plus any handler-supplied extras.
type Client struct {
	logger     zerolog.Logger
	baseURL    string
	httpClient HTTPClient
	timeout    time.Duration
}

// New constructs a delivery client. An empty baseURL is permitted: the
// client then reports every message as queued, which keeps an
// unconfigured deployment flowing instead of failing hard.
func New(baseURL string, logger zerolog.Logger, opts ...Option) *Client {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	c := &Client{
		logger:  logger,
		baseURL: strings.TrimSpace(baseURL),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// Configured reports whether a gateway URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Deliver attempts to hand the message to the gateway. It returns
// StatusSent when the gateway acknowledged with a 2xx response and
// StatusQueued for any other response, transport error, or when no
// gateway is configured. Callers persist the returned status.
func (c *Client) Deliver(ctx context.Context, msg *models.Message, extra map[string]string) models.Status {
	if c.baseURL == "" {
		c.logger.Warn().
			Str("message_id", msg.ID).
			Msg("no gateway url configured, queuing message for later delivery")
		return models.StatusQueued
	}

	reqURL, err := c.buildURL(msg, extra)
	if err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("gateway url build failed, queuing")
		return models.StatusQueued
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("gateway request build failed, queuing")
		return models.StatusQueued
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("message_id", msg.ID).
			Msg("message not sent, queued for later delivery")
		return models.StatusQueued
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	// kannel-style gateways answer 202; any 2xx means the gateway took
	// the message.
	if resp.StatusCode/100 == 2 {
		c.logger.Info().
			Str("message_id", msg.ID).
			Int("status_code", resp.StatusCode).
			Msg("message sent")
		return models.StatusSent
	}

	c.logger.Error().
		Str("message_id", msg.ID).
		Int("status_code", resp.StatusCode).
		Msg("message not sent, got non-2xx status, queued for later delivery")
	return models.StatusQueued
}

func (c *Client) buildURL(msg *models.Message, extra map[string]string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}

	params := u.Query()
	params.Set("backend", msg.Connection.Backend)
	params.Set("recipient", msg.Connection.Identity)
	params.Set("text", msg.Text)
	params.Set("id", msg.ID)
	for key, value := range extra {
		params.Set(key, value)
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}
