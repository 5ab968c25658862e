package web_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/sms-router/internal/models"
	"github.com/example/sms-router/internal/store"
	"github.com/example/sms-router/internal/web"
)

type routerStub struct {
	incoming    []*models.Message
	outgoing    []*models.Message
	markSentErr error
	markedSent  []string
}

func (r *routerStub) HandleIncoming(_ context.Context, backend, sender, text string) (*models.Message, error) {
	msg := &models.Message{
		ID:         "in-1",
		Connection: models.Connection{Backend: backend, Identity: sender},
		Text:       text,
		Direction:  models.DirectionIncoming,
		Status:     models.StatusHandled,
	}
	r.incoming = append(r.incoming, msg)
	return msg, nil
}

func (r *routerStub) SendOutgoing(_ context.Context, conn models.Connection, text, _ string) (*models.Message, error) {
	msg := &models.Message{
		ID:         "out-1",
		Connection: conn,
		Text:       text,
		Direction:  models.DirectionOutgoing,
		Status:     models.StatusSent,
	}
	r.outgoing = append(r.outgoing, msg)
	return msg, nil
}

func (r *routerStub) MarkSent(_ context.Context, id string) error {
	if r.markSentErr != nil {
		return r.markSentErr
	}
	r.markedSent = append(r.markedSent, id)
	return nil
}

func newTestServer(t *testing.T, stub *routerStub, st store.Store) http.Handler {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	srv, err := web.NewServer(stub, st, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("unexpected server error: %v", err)
	}
	return srv.Routes()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(into); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
}

func TestHealth(t *testing.T) {
	routes := newTestServer(t, &routerStub{}, nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReceive(t *testing.T) {
	stub := &routerStub{}
	routes := newTestServer(t, stub, nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/router/receive?backend=demo-backend&sender=%2B1555&text=hello", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(stub.incoming) != 1 {
		t.Fatalf("expected one routed message, got %d", len(stub.incoming))
	}
	got := stub.incoming[0]
	if got.Connection.Backend != "demo-backend" || got.Connection.Identity != "+1555" || got.Text != "hello" {
		t.Fatalf("unexpected routed message: %+v", got)
	}
}

func TestReceiveMissingBackend(t *testing.T) {
	routes := newTestServer(t, &routerStub{}, nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/router/receive?sender=%2B1555&text=hi", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReceiveOversizedText(t *testing.T) {
	routes := newTestServer(t, &routerStub{}, nil)
	long := strings.Repeat("x", 1601)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/router/receive?backend=demo-backend&sender=%2B1555&text="+long, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSend(t *testing.T) {
	stub := &routerStub{}
	routes := newTestServer(t, stub, nil)

	form := url.Values{
		"backend":   {"demo-backend"},
		"recipient": {"+1555"},
		"text":      {"reminder"},
		"source":    {"scheduler"},
	}
	req := httptest.NewRequest(http.MethodPost, "/router/send", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(stub.outgoing) != 1 {
		t.Fatalf("expected one outgoing message, got %d", len(stub.outgoing))
	}
	if stub.outgoing[0].Connection.Identity != "+1555" || stub.outgoing[0].Text != "reminder" {
		t.Fatalf("unexpected outgoing message: %+v", stub.outgoing[0])
	}
}

func TestOutboxListsPendingAndQueued(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	conn, _ := st.GetOrCreateConnection(ctx, "demo-backend", "+1555")
	if _, err := st.CreateMessage(ctx, conn, "pending one", models.DirectionOutgoing, models.StatusPending, ""); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	if _, err := st.CreateMessage(ctx, conn, "queued one", models.DirectionOutgoing, models.StatusQueued, ""); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	if _, err := st.CreateMessage(ctx, conn, "already sent", models.DirectionOutgoing, models.StatusSent, ""); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	routes := newTestServer(t, &routerStub{}, st)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/router/outbox", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Outbox []models.Message `json:"outbox"`
	}
	decodeBody(t, rec, &body)
	if len(body.Outbox) != 2 {
		t.Fatalf("expected 2 outbox messages, got %d", len(body.Outbox))
	}
	for _, msg := range body.Outbox {
		if msg.Status != models.StatusPending && msg.Status != models.StatusQueued {
			t.Fatalf("unexpected status in outbox: %s", msg.Status)
		}
	}
}

func TestDelivered(t *testing.T) {
	stub := &routerStub{}
	routes := newTestServer(t, stub, nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/router/delivered?message_id=msg-9", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(stub.markedSent) != 1 || stub.markedSent[0] != "msg-9" {
		t.Fatalf("expected msg-9 marked sent, got %v", stub.markedSent)
	}
}

func TestDeliveredMissingID(t *testing.T) {
	routes := newTestServer(t, &routerStub{}, nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/router/delivered", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeliveredUnknownMessage(t *testing.T) {
	stub := &routerStub{markSentErr: store.ErrNotFound}
	routes := newTestServer(t, stub, nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/router/delivered?message_id=nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeliveredInvalidTransition(t *testing.T) {
	stub := &routerStub{markSentErr: store.ErrInvalidTransition}
	routes := newTestServer(t, stub, nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/router/delivered?message_id=msg-1", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}
