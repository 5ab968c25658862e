package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/sms-router/internal/models"
)

// MemoryStore is a Store backed by process memory. It is safe for
// concurrent use and is the default for tests and development.
type MemoryStore struct {
	mu          sync.RWMutex
	messages    map[string]*models.Message
	connections map[models.Connection]struct{}
	seq         int64
	now         func() time.Time
}

// MemoryOption customises the memory store.
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for message timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		messages:    make(map[string]*models.Message),
		connections: make(map[models.Connection]struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// GetOrCreateConnection resolves or creates the (backend, identity) pair.
func (s *MemoryStore) GetOrCreateConnection(_ context.Context, backend, identity string) (models.Connection, error) {
	conn := models.Connection{Backend: backend, Identity: identity}
	s.mu.Lock()
	s.connections[conn] = struct{}{}
	s.mu.Unlock()
	return conn, nil
}

// CreateMessage persists a new message record and returns a copy.
func (s *MemoryStore) CreateMessage(_ context.Context, conn models.Connection, text string, dir models.Direction, status models.Status, inResponseTo string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	msg := &models.Message{
		ID:           uuid.NewString(),
		Connection:   conn,
		Text:         text,
		Direction:    dir,
		Status:       status,
		CreatedAt:    s.now().Add(time.Duration(s.seq)), // keep ordering stable under a frozen clock
		InResponseTo: inResponseTo,
	}
	s.messages[msg.ID] = msg

	out := *msg
	return &out, nil
}

// UpdateStatus moves the message to the given status.
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !msg.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, msg.Status, status)
	}
	msg.Status = status
	return nil
}

// GetMessage returns a copy of the message with the given id.
func (s *MemoryStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := *msg
	return &out, nil
}

// FindByStatus returns copies of all messages in the given status,
// oldest first.
func (s *MemoryStore) FindByStatus(_ context.Context, status models.Status) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Message
	for _, msg := range s.messages {
		if msg.Status == status {
			copied := *msg
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
