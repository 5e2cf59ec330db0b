package orchestrator

import (
	"context"
	"fmt"

	"github.com/ashureev/tutor-core/internal/domain"
)

// SessionView is the registry entry of a session with its latest state in
// serialized form.
type SessionView struct {
	Session    *domain.Session `json:"session"`
	History    any             `json:"history"`
	SubSession any             `json:"sub_session,omitempty"`
	DocumentID string          `json:"document_id,omitempty"`
}

// owned returns the session when userID owns it. Sessions of other users are
// reported as not found.
func (o *Orchestrator) owned(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	sess, err := o.deps.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil || !sess.OwnedBy(userID) {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// ListSessions returns the sessions of userID, most recent first.
func (o *Orchestrator) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	sessions, err := o.deps.Repo.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Describe returns a session with its latest state.
func (o *Orchestrator) Describe(ctx context.Context, userID, sessionID string) (*SessionView, error) {
	unlock := o.locks.lock(sessionID)
	defer unlock()

	if _, err := o.owned(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	sess, state, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	view := &SessionView{
		Session:    sess,
		History:    o.deps.Codec.Serialize(history(state)),
		DocumentID: str(state, keyDocumentID),
	}
	if sub, ok := state[keySubSession]; ok {
		view.SubSession = o.deps.Codec.Serialize(sub)
	}
	return view, nil
}

// Checkpoints returns up to limit checkpoints of a session, newest first.
func (o *Orchestrator) Checkpoints(ctx context.Context, userID, sessionID string, limit int) ([]domain.Checkpoint, error) {
	if _, err := o.owned(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	cps, err := o.deps.Checkpoints.List(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return cps, nil
}

// DeleteSession removes a session and all of its checkpoints. It waits for an
// in-flight turn of the session to finish.
func (o *Orchestrator) DeleteSession(ctx context.Context, userID, sessionID string) error {
	unlock := o.locks.lock(sessionID)
	defer unlock()

	if _, err := o.owned(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := o.deps.Checkpoints.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	if err := o.deps.Repo.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	o.deps.Logger.Info("session deleted", "session_id", sessionID, "user_id", userID)
	return nil
}
