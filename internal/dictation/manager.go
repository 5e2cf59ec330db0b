package dictation

import (
	"log/slog"
	"sync"
	"time"
)

func recorderKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// Manager tracks the live recorder of every user session.
type Manager struct {
	mu     sync.RWMutex
	active map[string]*Recorder
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{active: make(map[string]*Recorder)}
}

// Get returns the recorder of a user session, or nil.
func (m *Manager) Get(userID, sessionID string) *Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[recorderKey(userID, sessionID)]
}

// Register adds rec, closing a recorder it replaces.
func (m *Manager) Register(rec *Recorder) {
	m.mu.Lock()
	existing := m.active[rec.key()]
	m.active[rec.key()] = rec
	m.mu.Unlock()

	if existing != nil && existing != rec {
		existing.Close("session replaced")
	}
	slog.Info("Dictation session registered", "user_id", rec.userID, "session_id", rec.sessionID)
}

// Unregister removes rec if it is still the registered recorder.
func (m *Manager) Unregister(rec *Recorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.active[rec.key()]; ok && current == rec {
		delete(m.active, rec.key())
		slog.Info("Dictation session unregistered", "user_id", rec.userID, "session_id", rec.sessionID)
	}
}

// Len returns the number of live recorders.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Idle returns the recorders without client traffic for at least ttl.
func (m *Manager) Idle(now time.Time, ttl time.Duration) []*Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Recorder
	for _, rec := range m.active {
		if rec.IdleFor(now) >= ttl {
			out = append(out, rec)
		}
	}
	return out
}

// CloseAll closes every recorder.
func (m *Manager) CloseAll(reason string) {
	m.mu.Lock()
	recs := make([]*Recorder, 0, len(m.active))
	for key, rec := range m.active {
		recs = append(recs, rec)
		delete(m.active, key)
	}
	m.mu.Unlock()

	for _, rec := range recs {
		rec.Close(reason)
	}
}
