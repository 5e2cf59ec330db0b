package orchestrator

import (
	"strings"

	"github.com/ashureev/tutor-core/internal/domain"
	"github.com/ashureev/tutor-core/internal/quiz"
)

// Signals are the facts about a turn that routing depends on.
type Signals struct {
	Text            string
	HasDocument     bool
	HasCommand      bool
	Quiz            *quiz.Session
	RequireDocument bool
}

// Hints returned with a chat intent when a request cannot be honoured.
const (
	HintNeedDocument = "Attach a document first, then say \"start quiz\"."
	HintNoQuiz       = "There is no quiz running right now."

	// HintQuizInProgress answers a dictation command sent during a quiz.
	HintQuizInProgress = "Finish or cancel the quiz before dictating an answer."
)

// Classify picks the intent of a turn. Anything it does not recognise is
// chat, and an accompanying hint is the reply to give instead of asking the
// model.
func Classify(sig Signals) (domain.Intent, string) {
	if sig.HasCommand {
		return domain.IntentDispatchAnswer, ""
	}
	text := normalize(sig.Text)
	quizRunning := sig.Quiz != nil && !sig.Quiz.Terminal()

	switch {
	case isCancel(text):
		if quizRunning {
			return domain.IntentCancelQuiz, ""
		}
		return domain.IntentDispatchChat, HintNoQuiz
	case isQuizStart(text):
		if sig.RequireDocument && !sig.HasDocument {
			return domain.IntentDispatchChat, HintNeedDocument
		}
		return domain.IntentStartQuiz, ""
	case quizRunning && sig.Quiz.Status == quiz.StatusAwaiting:
		return domain.IntentDispatchQuiz, ""
	case isNarrate(text, sig.HasDocument):
		return domain.IntentDispatchNarration, ""
	}
	return domain.IntentDispatchChat, ""
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func isCancel(text string) bool {
	return text == "/cancel" || strings.Contains(text, "cancel quiz") || strings.Contains(text, "stop quiz") ||
		strings.Contains(text, "cancel the quiz") || strings.Contains(text, "stop the quiz")
}

func isQuizStart(text string) bool {
	return text == "/quiz" || strings.HasPrefix(text, "/quiz ") ||
		strings.Contains(text, "start quiz") || strings.Contains(text, "start a quiz") || strings.Contains(text, "quiz me")
}

func isNarrate(text string, hasDocument bool) bool {
	if text == "/narrate" || strings.HasPrefix(text, "/narrate ") {
		return true
	}
	if !hasDocument {
		return false
	}
	for _, w := range strings.Fields(text) {
		switch strings.Trim(w, ".,!?;:\"'") {
		case "describe", "read":
			return true
		}
	}
	return false
}

// narrationSource returns the block to narrate: the text after /narrate when
// given, else the start of the document.
func narrationSource(input, document string, snippet int) string {
	trimmed := strings.TrimSpace(input)
	if rest, ok := strings.CutPrefix(trimmed, "/narrate"); ok && strings.TrimSpace(rest) != "" {
		return strings.TrimSpace(rest)
	}
	r := []rune(document)
	if snippet > 0 && len(r) > snippet {
		return string(r[:snippet])
	}
	if document == "" {
		return trimmed
	}
	return document
}
