package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/example/sms-router/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS connections (
	backend  TEXT NOT NULL,
	identity TEXT NOT NULL,
	PRIMARY KEY (backend, identity)
);
CREATE TABLE IF NOT EXISTS messages (
	id             TEXT PRIMARY KEY,
	backend        TEXT NOT NULL,
	identity       TEXT NOT NULL,
	text           TEXT NOT NULL,
	direction      TEXT NOT NULL,
	status         TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	in_response_to TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages (status, created_at);
`

// SQLiteStore is a Store backed by a SQLite database via the pure Go
// modernc.org/sqlite driver.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// SQLiteOption customises the SQLite store.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock overrides the clock used for message timestamps.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenSQLite opens (creating if necessary) the database at the given
// DSN and applies the schema. A file path or ":memory:" both work.
func OpenSQLite(dsn string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite store: dsn is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// modernc sqlite serialises writes; a single connection avoids
	// SQLITE_BUSY on concurrent dispatches.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetOrCreateConnection resolves or creates the (backend, identity) pair.
func (s *SQLiteStore) GetOrCreateConnection(ctx context.Context, backend, identity string) (models.Connection, error) {
	conn := models.Connection{Backend: backend, Identity: identity}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (backend, identity) VALUES (?, ?)
		 ON CONFLICT (backend, identity) DO NOTHING`,
		backend, identity)
	if err != nil {
		return models.Connection{}, fmt.Errorf("sqlite store: upsert connection: %w", err)
	}
	return conn, nil
}

// CreateMessage persists a new message record.
func (s *SQLiteStore) CreateMessage(ctx context.Context, conn models.Connection, text string, dir models.Direction, status models.Status, inResponseTo string) (*models.Message, error) {
	msg := &models.Message{
		ID:           uuid.NewString(),
		Connection:   conn,
		Text:         text,
		Direction:    dir,
		Status:       status,
		CreatedAt:    s.now().UTC(),
		InResponseTo: inResponseTo,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, backend, identity, text, direction, status, created_at, in_response_to)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conn.Backend, conn.Identity, text, string(dir), string(status), msg.CreatedAt, inResponseTo)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: insert message: %w", err)
	}
	return msg, nil
}

// UpdateStatus moves a message to the given status inside a transaction
// so the lifecycle check and the write are atomic per record.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM messages WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("sqlite store: read status: %w", err)
	}

	if !models.Status(current).CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return fmt.Errorf("sqlite store: update status: %w", err)
	}
	return tx.Commit()
}

// GetMessage returns the message with the given id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, backend, identity, text, direction, status, created_at, in_response_to
		 FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return msg, err
}

// FindByStatus returns all messages in the given status, oldest first.
func (s *SQLiteStore) FindByStatus(ctx context.Context, status models.Status) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, backend, identity, text, direction, status, created_at, in_response_to
		 FROM messages WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query by status: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg       models.Message
		direction string
		status    string
	)
	err := row.Scan(&msg.ID, &msg.Connection.Backend, &msg.Connection.Identity,
		&msg.Text, &direction, &status, &msg.CreatedAt, &msg.InResponseTo)
	if err != nil {
		return nil, err
	}
	msg.Direction = models.Direction(direction)
	msg.Status = models.Status(status)
	return &msg, nil
}
