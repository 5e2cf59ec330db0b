package orchestrator

import (
	"fmt"

	"github.com/ashureev/tutor-core/internal/answer"
	"github.com/ashureev/tutor-core/internal/codec"
	"github.com/ashureev/tutor-core/internal/domain"
	"github.com/ashureev/tutor-core/internal/graph"
	"github.com/ashureev/tutor-core/internal/narration"
	"github.com/ashureev/tutor-core/internal/quiz"
)

// Session state keys. Only the persisted keys are checkpointed; the rest
// live for a single turn.
const (
	keySessionID  = "session_id"
	keyUserID     = "user_id"
	keyHistory    = "history"
	keyActive     = "active"
	keySubSession = "sub_session"
	keyDocumentID = "document_id"

	keyInput         = "input"
	keyDocument      = "document"
	keyDocumentTitle = "document_title"
	keyIntent        = "intent"
	keyReply         = "reply"
	keyCommand       = "answer_command"
)

var persistedKeys = []string{keySessionID, keyUserID, keyHistory, keyActive, keySubSession, keyDocumentID}

func sessionSchema() graph.Schema {
	return graph.Schema{
		keySessionID:     graph.OfType[string](),
		keyUserID:        graph.OfType[string](),
		keyHistory:       graph.OfType[[]domain.Message](),
		keyActive:        graph.OfType[string](),
		keySubSession:    graph.OneOf(graph.OfType[quiz.Session](), graph.OfType[answer.Session]()),
		keyDocumentID:    graph.OfType[string](),
		keyInput:         graph.OfType[string](),
		keyDocument:      graph.OfType[string](),
		keyDocumentTitle: graph.OfType[string](),
		keyIntent:        graph.OfType[string](),
		keyReply:         graph.OfType[string](),
		keyCommand:       graph.OfType[answer.Command](),
	}
}

// NewCodec returns a codec with every type that may appear in session state
// registered.
func NewCodec() *codec.Codec {
	c := codec.New()
	domain.RegisterTypes(c)
	quiz.RegisterTypes(c)
	answer.RegisterTypes(c)
	narration.RegisterTypes(c)
	return c
}

// snapshot returns the persisted part of s.
func snapshot(s graph.State) map[string]any {
	out := make(map[string]any, len(persistedKeys))
	for _, k := range persistedKeys {
		if v, ok := s[k]; ok && v != nil {
			out[k] = v
		}
	}
	return out
}

// restore rebuilds session state from a checkpoint snapshot.
func restore(c *codec.Codec, data []byte) (graph.State, error) {
	v, err := c.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("checkpoint holds %T, want an object", v)
	}
	s := graph.State{}
	for _, k := range persistedKeys {
		if val, ok := m[k]; ok && val != nil {
			s[k] = val
		}
	}
	if h, ok := s[keyHistory]; ok {
		s[keyHistory] = domain.Messages(h)
	}
	if sub, ok := s[keySubSession]; ok {
		switch sub.(type) {
		case quiz.Session, answer.Session:
		default:
			return nil, fmt.Errorf("checkpoint sub-session has unexpected type %T", sub)
		}
	}
	return s, nil
}

func str(s graph.State, key string) string {
	v, _ := s[key].(string)
	return v
}

func history(s graph.State) []domain.Message {
	h, _ := s[keyHistory].([]domain.Message)
	return h
}

func activeQuiz(s graph.State) (quiz.Session, bool) {
	q, ok := s[keySubSession].(quiz.Session)
	return q, ok
}

func activeAnswer(s graph.State) (answer.Session, bool) {
	a, ok := s[keySubSession].(answer.Session)
	return a, ok
}
