package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/example/sms-router/internal/models"
	"github.com/example/sms-router/internal/store"
)

// both implementations must satisfy the same lifecycle contract
func stores(t *testing.T) map[string]store.Store {
	t.Helper()
	sqlite, err := store.OpenSQLite(filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("unexpected sqlite error: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]store.Store{
		"memory": store.NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestCreateAndGetMessage(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conn, err := st.GetOrCreateConnection(ctx, "demo-backend", "+1555")
			if err != nil {
				t.Fatalf("unexpected connection error: %v", err)
			}

			msg, err := st.CreateMessage(ctx, conn, "hello", models.DirectionIncoming, models.StatusReceived, "")
			if err != nil {
				t.Fatalf("unexpected create error: %v", err)
			}
			if msg.ID == "" {
				t.Fatalf("expected generated message id")
			}

			got, err := st.GetMessage(ctx, msg.ID)
			if err != nil {
				t.Fatalf("unexpected get error: %v", err)
			}
			if got.Text != "hello" || got.Direction != models.DirectionIncoming || got.Status != models.StatusReceived {
				t.Fatalf("unexpected message round-trip: %+v", got)
			}
			if got.Connection != conn {
				t.Fatalf("expected connection %+v, got %+v", conn, got.Connection)
			}
		})
	}
}

func TestGetMessageNotFound(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := st.GetMessage(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStatusLifecycleEnforced(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conn, _ := st.GetOrCreateConnection(ctx, "demo-backend", "+1555")

			msg, err := st.CreateMessage(ctx, conn, "hi", models.DirectionOutgoing, models.StatusPending, "")
			if err != nil {
				t.Fatalf("unexpected create error: %v", err)
			}

			if err := st.UpdateStatus(ctx, msg.ID, models.StatusQueued); err != nil {
				t.Fatalf("pending -> queued must be allowed: %v", err)
			}
			if err := st.UpdateStatus(ctx, msg.ID, models.StatusSent); err != nil {
				t.Fatalf("queued -> sent must be allowed: %v", err)
			}
			if err := st.UpdateStatus(ctx, msg.ID, models.StatusQueued); !errors.Is(err, store.ErrInvalidTransition) {
				t.Fatalf("sent is terminal, expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestTerminalStatusImmutable(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conn, _ := st.GetOrCreateConnection(ctx, "demo-backend", "+1555")

			msg, err := st.CreateMessage(ctx, conn, "hi", models.DirectionIncoming, models.StatusReceived, "")
			if err != nil {
				t.Fatalf("unexpected create error: %v", err)
			}
			if err := st.UpdateStatus(ctx, msg.ID, models.StatusHandled); err != nil {
				t.Fatalf("received -> handled must be allowed: %v", err)
			}
			if err := st.UpdateStatus(ctx, msg.ID, models.StatusReceived); !errors.Is(err, store.ErrInvalidTransition) {
				t.Fatalf("handled is terminal, expected ErrInvalidTransition, got %v", err)
			}
			// identity writes stay idempotent
			if err := st.UpdateStatus(ctx, msg.ID, models.StatusHandled); err != nil {
				t.Fatalf("idempotent status write must be allowed: %v", err)
			}
		})
	}
}

func TestFindByStatusOrdersOldestFirst(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conn, _ := st.GetOrCreateConnection(ctx, "demo-backend", "+1555")

			var ids []string
			for _, text := range []string{"first", "second", "third"} {
				msg, err := st.CreateMessage(ctx, conn, text, models.DirectionOutgoing, models.StatusQueued, "")
				if err != nil {
					t.Fatalf("unexpected create error: %v", err)
				}
				ids = append(ids, msg.ID)
			}
			// a message in another status must not appear
			if _, err := st.CreateMessage(ctx, conn, "other", models.DirectionOutgoing, models.StatusPending, ""); err != nil {
				t.Fatalf("unexpected create error: %v", err)
			}

			queued, err := st.FindByStatus(ctx, models.StatusQueued)
			if err != nil {
				t.Fatalf("unexpected find error: %v", err)
			}
			if len(queued) != 3 {
				t.Fatalf("expected 3 queued messages, got %d", len(queued))
			}
			for i, msg := range queued {
				if msg.ID != ids[i] {
					t.Fatalf("expected oldest-first ordering, got %v", queued)
				}
			}
		})
	}
}

func TestGetOrCreateConnectionIdempotent(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := st.GetOrCreateConnection(ctx, "demo-backend", "+1555")
			if err != nil {
				t.Fatalf("unexpected connection error: %v", err)
			}
			second, err := st.GetOrCreateConnection(ctx, "demo-backend", "+1555")
			if err != nil {
				t.Fatalf("unexpected connection error: %v", err)
			}
			if first != second {
				t.Fatalf("expected idempotent lookup, got %+v and %+v", first, second)
			}
		})
	}
}
