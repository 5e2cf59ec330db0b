package domain

// Intent is the routing decision derived for a single turn. It is never
// persisted on its own; only the session state it produces is checkpointed.
type Intent string

const (
	IntentStartQuiz         Intent = "start-quiz"
	IntentDispatchQuiz      Intent = "dispatch-quiz"
	IntentCancelQuiz        Intent = "cancel-quiz"
	IntentDispatchChat      Intent = "dispatch-chat"
	IntentDispatchNarration Intent = "dispatch-narration"
	IntentDispatchAnswer    Intent = "dispatch-answer"
)
