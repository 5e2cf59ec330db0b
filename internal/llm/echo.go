package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/tutor-core/internal/prompts"
)

// Echo is a deterministic offline model for local development. It answers
// each prompt task with a well-formed response built from the payload.
type Echo struct{}

// NewEcho returns an Echo model.
func NewEcho() *Echo {
	return &Echo{}
}

// Complete implements Completer.
func (Echo) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", wrap("echo", err)
	}
	task, payload := prompts.Task(prompt)
	switch task {
	case "quiz.question":
		first := firstSentence(payload)
		return mustJSON(map[string]any{
			"question": fmt.Sprintf("Which statement appears in the text? (%d)", len(prompt)%97),
			"options":  []string{first, "None of the above", "The text does not say", "All of the above"},
			"answer":   first,
		}), nil
	case "quiz.evaluate":
		return mustJSON(map[string]any{"correct": payload != "", "feedback": "Thanks, noted: " + payload}), nil
	case "quiz.summary":
		return "Quiz finished. Review the questions above once more.", nil
	case "answer.fidelity":
		return `{"score": 1.0}`, nil
	case "narration.classify":
		return mustJSON(map[string]any{"type": "paragraph", "text": payload}), nil
	case "narration.detailed_visual", "narration.text_focused":
		return "Reading: " + payload, nil
	case "chat.reply":
		return "You said: " + payload, nil
	}
	return payload, nil
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?\n"); i > 0 {
		return s[:i]
	}
	if s == "" {
		return "Nothing"
	}
	return s
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
