// Package store persists message records and connections for the
// router. Two implementations are provided: an in-memory store used by
// tests and development wiring, and a SQLite store for durable
// deployments. Both enforce the message status lifecycle: transitions
// must follow models.Status.CanTransition and a message is never
// mutated after reaching a terminal status.
package store

import (
	"context"
	"errors"

	"github.com/example/sms-router/internal/models"
)

var (
	// ErrNotFound is returned when a message id does not exist.
	ErrNotFound = errors.New("store: message not found")
	// ErrInvalidTransition is returned when a status update would
	// violate the message lifecycle.
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// Store is the message store collaborator consumed by the router.
type Store interface {
	// GetOrCreateConnection resolves the (backend, identity) pair,
	// creating it on first use. The pair is a unique key.
	GetOrCreateConnection(ctx context.Context, backend, identity string) (models.Connection, error)

	// CreateMessage persists a new message record. inResponseTo may be
	// empty; when set it references the message this one replies to.
	CreateMessage(ctx context.Context, conn models.Connection, text string, dir models.Direction, status models.Status, inResponseTo string) (*models.Message, error)

	// UpdateStatus moves a message to the given status, rejecting
	// transitions the lifecycle does not permit.
	UpdateStatus(ctx context.Context, id string, status models.Status) error

	// GetMessage returns the message with the given id.
	GetMessage(ctx context.Context, id string) (*models.Message, error)

	// FindByStatus returns all messages currently in the given status,
	// oldest first.
	FindByStatus(ctx context.Context, status models.Status) ([]*models.Message, error)
}
