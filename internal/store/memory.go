package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/tutor-core/internal/domain"
)

// MemoryStore implements Repository and CheckpointStore in process memory.
// It backs tests and local development without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	sessions    map[string]domain.Session
	documents   map[string]domain.Document
	checkpoints map[string][]domain.Checkpoint
	now         func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]domain.User),
		sessions:    make(map[string]domain.Session),
		documents:   make(map[string]domain.Document),
		checkpoints: make(map[string][]domain.Checkpoint),
		now:         time.Now,
	}
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStore) UpsertUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[user.UserID]; ok {
		prev.Username = user.Username
		prev.LastSeenAt = user.LastSeenAt
		prev.UpdatedAt = user.UpdatedAt
		m.users[user.UserID] = prev
		return nil
	}
	m.users[user.UserID] = *user
	return nil
}

func (m *MemoryStore) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastSeenAt = lastSeen
		m.users[userID] = u
	}
	return nil
}

func (m *MemoryStore) SetAccessibility(_ context.Context, userID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s not found", userID)
	}
	u.Accessibility = enabled
	u.UpdatedAt = time.Now()
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; ok {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.sessions[session.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	prev.Active = session.Active
	prev.LatestSeq = session.LatestSeq
	prev.UpdatedAt = session.UpdatedAt
	m.sessions[session.ID] = prev
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, userID string) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, &s)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Session) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	return out, nil
}

// DeleteSession removes the registry entry and all checkpoints of the session.
func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	delete(m.checkpoints, sessionID)
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, documentID string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[documentID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryStore) PutDocument(_ context.Context, doc *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = *doc
	return nil
}

func (m *MemoryStore) Append(_ context.Context, sessionID string, snapshot []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := int64(len(m.checkpoints[sessionID]) + 1)
	m.checkpoints[sessionID] = append(m.checkpoints[sessionID], domain.Checkpoint{
		SessionID: sessionID,
		Seq:       seq,
		Snapshot:  slices.Clone(snapshot),
		CreatedAt: m.now().UTC(),
	})
	return seq, nil
}

func (m *MemoryStore) Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	cps, _ := m.List(ctx, sessionID, 1)
	if len(cps) == 0 {
		return nil, nil
	}
	return &cps[0], nil
}

func (m *MemoryStore) List(_ context.Context, sessionID string, limit int) ([]domain.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.checkpoints[sessionID]
	var out []domain.Checkpoint
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
