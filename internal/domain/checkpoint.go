package domain

import "time"

// Checkpoint is an immutable snapshot of a session's serialized state.
// Sequence numbers start at 1 and increase strictly per session.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Snapshot  []byte    `json:"snapshot"`
	CreatedAt time.Time `json:"created_at"`
}
