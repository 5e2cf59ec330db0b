// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/tutor-core/internal/domain"
)

// ErrSequenceConflict is returned when a checkpoint with the same sequence
// number was written concurrently. Appends retry it internally; callers only
// see it when retries are exhausted.
var ErrSequenceConflict = errors.New("store: checkpoint sequence conflict")

// Repository persists users, the session registry, and attached documents.
// Getters return (nil, nil) when the record does not exist.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// SetAccessibility updates the accessibility preference of a user.
	SetAccessibility(ctx context.Context, userID string, enabled bool) error

	// GetSession retrieves a registry entry by session ID.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// CreateSession inserts a new registry entry.
	CreateSession(ctx context.Context, session *domain.Session) error

	// UpdateSession stores the active workflow and latest checkpoint sequence.
	UpdateSession(ctx context.Context, session *domain.Session) error

	// ListSessions returns a user's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)

	// DeleteSession removes a registry entry.
	DeleteSession(ctx context.Context, sessionID string) error

	// GetDocument retrieves an attached document.
	GetDocument(ctx context.Context, documentID string) (*domain.Document, error)

	// PutDocument creates or replaces an attached document.
	PutDocument(ctx context.Context, doc *domain.Document) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// CheckpointStore is the append-only, per-session log of serialized state.
// Append is atomic: a failed append leaves no partial checkpoint behind.
type CheckpointStore interface {
	// Append stores snapshot as the next checkpoint and returns its sequence.
	Append(ctx context.Context, sessionID string, snapshot []byte) (int64, error)

	// Latest returns the newest checkpoint, or nil when the session has none.
	Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error)

	// List returns up to limit checkpoints, newest first. limit <= 0 means all.
	List(ctx context.Context, sessionID string, limit int) ([]domain.Checkpoint, error)

	// DeleteSession removes every checkpoint of a session.
	DeleteSession(ctx context.Context, sessionID string) error

	// Close releases the backend.
	Close() error
}
