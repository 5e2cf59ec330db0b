package domain

import (
	"time"

	"github.com/ashureev/tutor-core/internal/codec"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Message is one entry of a session's conversation history.
type Message struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	AudioRef    string         `json:"audio_ref,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// MessageTag is the codec tag of Message.
const MessageTag = "message"

// RegisterTypes registers the domain types that live inside session state.
func RegisterTypes(c *codec.Codec) {
	codec.Register(c, MessageTag,
		func(m Message) map[string]any {
			fields := map[string]any{
				"id":         m.ID,
				"role":       string(m.Role),
				"content":    m.Content,
				"created_at": m.CreatedAt,
			}
			if m.AudioRef != "" {
				fields["audio_ref"] = m.AudioRef
			}
			if len(m.Annotations) > 0 {
				fields["annotations"] = m.Annotations
			}
			return fields
		},
		func(f map[string]any) (Message, error) {
			return Message{
				ID:          codec.String(f, "id"),
				Role:        Role(codec.String(f, "role")),
				Content:     codec.String(f, "content"),
				AudioRef:    codec.String(f, "audio_ref"),
				Annotations: codec.Map(f, "annotations"),
				CreatedAt:   codec.Time(f, "created_at"),
			}, nil
		})
}

// Messages extracts the messages of a history value. History may hold a
// []Message or, after crossing the codec, a []any of Message values.
func Messages(v any) []Message {
	switch h := v.(type) {
	case []Message:
		return h
	case []any:
		out := make([]Message, 0, len(h))
		for _, it := range h {
			if m, ok := it.(Message); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
