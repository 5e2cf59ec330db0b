package domain

import (
	"errors"
	"time"
)

// WorkflowKind names the sub-workflow a session is currently engaged in.
type WorkflowKind string

const (
	WorkflowNone      WorkflowKind = "none"
	WorkflowChat      WorkflowKind = "chat"
	WorkflowQuiz      WorkflowKind = "quiz"
	WorkflowAnswer    WorkflowKind = "answer-formulation"
	WorkflowNarration WorkflowKind = "document-narration"
)

// Valid reports whether k is one of the known workflow kinds.
func (k WorkflowKind) Valid() bool {
	switch k {
	case WorkflowNone, WorkflowChat, WorkflowQuiz, WorkflowAnswer, WorkflowNarration:
		return true
	}
	return false
}

// ErrSessionOwnership is returned when a user addresses a session owned by someone else.
var ErrSessionOwnership = errors.New("session belongs to another user")

// ErrSessionNotFound is returned when a session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session is the registry entry for one conversation thread. It is created on
// the first turn for an identifier and removed only by explicit deletion.
type Session struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Active    WorkflowKind `json:"active"`
	LatestSeq int64        `json:"latest_seq"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// OwnedBy reports whether the session belongs to userID.
func (s *Session) OwnedBy(userID string) bool {
	return s.UserID == userID
}

// HasCheckpoint returns true once at least one checkpoint was appended.
func (s *Session) HasCheckpoint() bool {
	return s.LatestSeq > 0
}
