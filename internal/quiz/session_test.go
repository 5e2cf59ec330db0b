package quiz

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/tutor-core/internal/codec"
)

func q(prompt string) Question {
	return Question{Prompt: prompt, Options: []string{"a", "b"}, Answer: "a"}
}

func TestScoreIsMonotonic(t *testing.T) {
	t.Parallel()

	s := Start("q1", "source", 4)
	answers := []bool{true, false, true, false}
	prev := 0
	for i, correct := range answers {
		var err error
		s, err = s.Ask(q("question"))
		require.NoError(t, err)
		s, err = s.BeginEvaluation("a")
		require.NoError(t, err)
		s, err = s.Grade(correct, "fb")
		require.NoError(t, err)

		require.GreaterOrEqual(t, s.Score, prev)
		if correct {
			require.Equal(t, prev+1, s.Score, "answer %d", i)
		} else {
			require.Equal(t, prev, s.Score, "answer %d", i)
		}
		prev = s.Score
	}
	require.Equal(t, StatusCompleted, s.Status)
	require.Equal(t, 2, s.Score)
	require.Len(t, s.History, 4)
}

func TestCancelFromEveryNonTerminalStatus(t *testing.T) {
	t.Parallel()

	start := Start("q1", "source", 3)
	awaiting, err := start.Ask(q("one"))
	require.NoError(t, err)
	evaluating, err := awaiting.BeginEvaluation("b")
	require.NoError(t, err)
	next, err := evaluating.Grade(true, "ok")
	require.NoError(t, err)
	require.Equal(t, StatusGeneratingNext, next.Status)

	for _, s := range []Session{start, awaiting, evaluating, next} {
		cancelled, err := s.Cancel()
		require.NoError(t, err, string(s.Status))
		require.Equal(t, StatusCancelled, cancelled.Status)
		require.Equal(t, s.Score, cancelled.Score, "cancel never changes the score")
		require.Empty(t, cancelled.Summary)

		_, err = cancelled.Cancel()
		require.ErrorIs(t, err, ErrTerminal)
		_, err = cancelled.Ask(q("late"))
		require.ErrorIs(t, err, ErrTerminal)
	}
}

func TestIllegalTransitions(t *testing.T) {
	t.Parallel()

	s := Start("q1", "source", 0)
	require.Equal(t, DefaultMaxQuestions, s.MaxQuestions)

	_, err := s.BeginEvaluation("a")
	require.ErrorIs(t, err, ErrIllegalTransition)
	_, err = s.Grade(true, "")
	require.ErrorIs(t, err, ErrIllegalTransition)
	_, err = s.WithSummary("x")
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestGradeDoesNotAliasHistory(t *testing.T) {
	t.Parallel()

	s := Start("q1", "source", 5)
	s, _ = s.Ask(q("one"))
	s, _ = s.BeginEvaluation("a")
	base, _ := s.Grade(true, "")

	a, _ := base.Ask(q("two"))
	a, _ = a.BeginEvaluation("a")
	a, _ = a.Grade(true, "")

	require.Len(t, base.History, 1)
	require.Len(t, a.History, 2)
}

func TestSessionSurvivesCodec(t *testing.T) {
	t.Parallel()
	c := codec.New()
	RegisterTypes(c)

	s := Start("q1", "Mitochondria produce ATP.", 3)
	s, _ = s.Ask(q("one"))
	s, _ = s.BeginEvaluation("a")
	s, _ = s.Grade(true, "well done")
	s, _ = s.Ask(Question{Prompt: "two", Options: []string{"x", "y", "z"}, Answer: "z"})

	data, err := c.Marshal(map[string]any{"quiz": s})
	require.NoError(t, err)
	back, err := c.Unmarshal(data)
	require.NoError(t, err)

	got, ok := back.(map[string]any)["quiz"].(Session)
	require.True(t, ok)
	require.Equal(t, s, got)
}
