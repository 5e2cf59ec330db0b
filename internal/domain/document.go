package domain

import "time"

// Document is a block of learning material a user attached to their
// sessions. Quizzes draw their source snippet from it and narration reads it.
type Document struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snippet returns at most n runes of the document content.
func (d *Document) Snippet(n int) string {
	r := []rune(d.Content)
	if n <= 0 || len(r) <= n {
		return d.Content
	}
	return string(r[:n])
}
