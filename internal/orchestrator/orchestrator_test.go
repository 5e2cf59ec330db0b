package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/tutor-core/internal/answer"
	"github.com/ashureev/tutor-core/internal/domain"
	"github.com/ashureev/tutor-core/internal/events"
	"github.com/ashureev/tutor-core/internal/llm"
	"github.com/ashureev/tutor-core/internal/llm/llmtest"
	"github.com/ashureev/tutor-core/internal/quiz"
	"github.com/ashureev/tutor-core/internal/store"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type storage interface {
	store.Repository
	store.CheckpointStore
}

type fixture struct {
	o      *Orchestrator
	store  storage
	model  *llmtest.Script
	events *recorder
}

func counter() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newFixture(t *testing.T, st storage, model *llmtest.Script, cfg Config) *fixture {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	f := &fixture{store: st, model: model, events: &recorder{}}
	o, err := New(Deps{
		Model:       model,
		Repo:        st,
		Checkpoints: st,
		Events:      f.events,
		Now:         func() time.Time { return now },
		NewID:       counter(),
		Config:      cfg,
	})
	require.NoError(t, err)
	f.o = o
	return f
}

func (f *fixture) turn(t *testing.T, sessionID, text string) TurnOutput {
	t.Helper()
	out, err := f.o.HandleTurn(context.Background(), TurnInput{SessionID: sessionID, UserID: "u1", Text: text})
	require.NoError(t, err)
	return out
}

func quizModel() *llmtest.Script {
	return llmtest.NewScript().
		On("quiz.question", `{"question": "What do mitochondria make?", "options": ["ATP", "DNA"], "answer": "ATP"}`).
		On("quiz.evaluate", `{"correct": true, "feedback": "Yes."}`, `{"correct": false, "feedback": "No."}`).
		On("quiz.summary", "Solid start.").
		On("chat.reply", "Happy to help.")
}

func TestChatTurnIsCheckpointed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, llmtest.NewScript().On("chat.reply", "  Osmosis moves water.  "), Config{})

	out := f.turn(t, "s1", "what is osmosis?")
	require.Equal(t, "Osmosis moves water.", out.FinalResponseText)
	require.Equal(t, domain.IntentDispatchChat, out.Intent)
	require.Equal(t, domain.WorkflowChat, out.Active)
	require.Equal(t, int64(1), out.Seq)
	require.False(t, out.QuizActive)
	require.Len(t, out.SerializedHistory, 2)

	sess, err := f.store.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "u1", sess.UserID)
	require.Equal(t, domain.WorkflowChat, sess.Active)
	require.Equal(t, int64(1), sess.LatestSeq)

	out = f.turn(t, "s1", "and diffusion?")
	require.Equal(t, int64(2), out.Seq)
	require.Len(t, out.SerializedHistory, 4)

	calls := f.model.CallsFor("chat.reply")
	require.Len(t, calls, 2)
	require.Contains(t, calls[1].Prompt, "user: what is osmosis?")
	require.Contains(t, calls[1].Prompt, "agent: Osmosis moves water.")
	require.Equal(t, "and diffusion?", calls[1].Payload)

	require.Equal(t, []string{
		events.CheckpointAppended, events.TurnCompleted,
		events.CheckpointAppended, events.TurnCompleted,
	}, f.events.types())
}

func TestNewSessionGetsAnID(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, llmtest.NewScript().On("chat.reply", "hi"), Config{})

	out := f.turn(t, "", "hello")
	require.NotEmpty(t, out.SessionID)
	sessions, err := f.o.ListSessions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, out.SessionID, sessions[0].ID)
}

func TestQuizAnswersAreNeverRoutedToChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, quizModel(), Config{QuizMaxQuestions: 2})
	ctx := context.Background()
	require.NoError(t, f.store.PutDocument(ctx, &domain.Document{ID: "d1", UserID: "u1", Title: "Cells", Content: "Mitochondria make ATP."}))

	out, err := f.o.HandleTurn(ctx, TurnInput{SessionID: "s1", UserID: "u1", Text: "start quiz", DocumentID: "d1"})
	require.NoError(t, err)
	require.Equal(t, domain.IntentStartQuiz, out.Intent)
	require.True(t, out.QuizActive)
	require.NotEmpty(t, out.ActiveSubSessionID)
	require.Contains(t, out.FinalResponseText, "Question 1 of 2")
	require.Equal(t, "Mitochondria make ATP.", f.model.CallsFor("quiz.question")[0].Payload)

	// "describe" would be narration, but an open question takes precedence.
	out = f.turn(t, "s1", "describe ATP")
	require.Equal(t, domain.IntentDispatchQuiz, out.Intent)
	require.True(t, out.QuizActive)
	require.Contains(t, out.FinalResponseText, "Yes.")

	out = f.turn(t, "s1", "DNA")
	require.False(t, out.QuizActive)
	require.True(t, out.QuizComplete)
	require.False(t, out.QuizCancelled)
	require.Contains(t, out.FinalResponseText, "Quiz complete: 1/2 correct.")
	require.Empty(t, f.model.CallsFor("chat.reply"))
	require.Contains(t, f.events.types(), events.QuizCompleted)

	out = f.turn(t, "s1", "thanks")
	require.Equal(t, domain.IntentDispatchChat, out.Intent)
	require.False(t, out.QuizComplete, "completion is reported once")
}

func TestCancelQuiz(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, quizModel(), Config{QuizMaxQuestions: 3})

	f.turn(t, "s1", "Photosynthesis happens in chloroplasts.")
	f.turn(t, "s1", "quiz me")
	out := f.turn(t, "s1", "ATP")
	require.True(t, out.QuizActive)

	out = f.turn(t, "s1", "cancel quiz")
	require.Equal(t, domain.IntentCancelQuiz, out.Intent)
	require.True(t, out.QuizCancelled)
	require.False(t, out.QuizComplete)
	require.False(t, out.QuizActive)
	require.Contains(t, out.FinalResponseText, "1 of 1")
	require.Empty(t, f.model.CallsFor("quiz.summary"))
	require.Contains(t, f.events.types(), events.QuizCancelled)

	view, err := f.o.Describe(context.Background(), "u1", "s1")
	require.NoError(t, err)
	sub := view.SubSession.(map[string]any)
	require.Equal(t, quiz.SessionTag, sub["__type__"])
	require.Equal(t, string(quiz.StatusCancelled), sub["status"])
	require.Equal(t, int64(1), sub["score"])
}

func TestCancelWithoutQuizFallsBackToChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, llmtest.NewScript(), Config{})

	out, err := f.o.HandleTurn(context.Background(), TurnInput{SessionID: "s1", UserID: "u1", Text: "/cancel"})
	require.NoError(t, err)
	require.Equal(t, domain.IntentDispatchChat, out.Intent)
	require.Equal(t, HintNoQuiz, out.FinalResponseText)
	require.False(t, out.QuizCancelled)
	require.Empty(t, f.model.Calls())
	require.Equal(t, int64(1), out.Seq)
}

func TestQuizRequiresDocument(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, quizModel(), Config{RequireDocument: true})

	out := f.turn(t, "s1", "start quiz")
	require.Equal(t, HintNeedDocument, out.FinalResponseText)
	require.False(t, out.QuizActive)
	require.Empty(t, f.model.Calls())
}

func TestFailedTurnPersistsNothing(t *testing.T) {
	t.Parallel()
	model := llmtest.NewScript().On("chat.reply", "first")
	f := newFixture(t, nil, model, Config{})
	ctx := context.Background()

	f.turn(t, "s1", "hello")
	model.Fail("chat.reply", &llm.ServiceError{Service: "test", Err: context.DeadlineExceeded})

	out, err := f.o.HandleTurn(ctx, TurnInput{SessionID: "s1", UserID: "u1", Text: "again"})
	require.ErrorIs(t, err, llm.ErrExternalService)
	require.Equal(t, FallbackResponse, out.FinalResponseText)

	cp, err := f.store.Latest(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, int64(1), cp.Seq)
	view, err := f.o.Describe(ctx, "u1", "s1")
	require.NoError(t, err)
	require.Len(t, view.History, 2, "the failed turn left no trace")

	fresh, err := f.o.HandleTurn(ctx, TurnInput{SessionID: "s2", UserID: "u1", Text: "hi"})
	require.Error(t, err)
	require.Equal(t, FallbackResponse, fresh.FinalResponseText)
	sess, err := f.store.GetSession(ctx, "s2")
	require.NoError(t, err)
	require.Nil(t, sess, "a failed first turn creates no session")
}

func TestMalformedQuestionAbortsTurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, llmtest.NewScript().On("quiz.question", "{'question': 'x'}"), Config{})

	out, err := f.o.HandleTurn(context.Background(), TurnInput{SessionID: "s1", UserID: "u1", Text: "/quiz"})
	require.Error(t, err)
	require.Equal(t, FallbackResponse, out.FinalResponseText)
	cp, err := f.store.Latest(context.Background(), "s1")
	require.NoError(t, err)
	require.Nil(t, cp)
}

func TestSessionsBelongToOneUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, llmtest.NewScript().On("chat.reply", "ok"), Config{})
	ctx := context.Background()
	f.turn(t, "s1", "hello")

	_, err := f.o.HandleTurn(ctx, TurnInput{SessionID: "s1", UserID: "u2", Text: "hijack"})
	require.ErrorIs(t, err, domain.ErrSessionOwnership)
	_, err = f.o.Describe(ctx, "u2", "s1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.ErrorIs(t, f.o.DeleteSession(ctx, "u2", "s1"), domain.ErrSessionNotFound)

	cps, err := f.o.Checkpoints(ctx, "u1", "s1", 0)
	require.NoError(t, err)
	require.Len(t, cps, 1)

	require.NoError(t, f.o.DeleteSession(ctx, "u1", "s1"))
	cp, err := f.store.Latest(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, cp)
	_, err = f.o.Describe(ctx, "u1", "s1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestInvalidTurns(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, llmtest.NewScript(), Config{})

	_, err := f.o.HandleTurn(context.Background(), TurnInput{SessionID: "s1", Text: "hi"})
	require.ErrorIs(t, err, ErrMissingUser)
	_, err = f.o.HandleTurn(context.Background(), TurnInput{SessionID: "s1", UserID: "u1", Text: "   "})
	require.ErrorIs(t, err, ErrEmptyTurn)
}

func TestQuizResumesAfterRestart(t *testing.T) {
	t.Parallel()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "tutor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	first := newFixture(t, st, quizModel(), Config{QuizMaxQuestions: 2})
	first.turn(t, "s1", "Cells have membranes.")
	out := first.turn(t, "s1", "/quiz")
	require.True(t, out.QuizActive)

	second := newFixture(t, st, quizModel(), Config{QuizMaxQuestions: 2})
	out = second.turn(t, "s1", "ATP")
	require.Equal(t, domain.IntentDispatchQuiz, out.Intent)
	require.Contains(t, out.FinalResponseText, "Question 2 of 2")
	require.Equal(t, int64(3), out.Seq)
	require.Len(t, out.SerializedHistory, 6)
}

func TestAnswerCommands(t *testing.T) {
	t.Parallel()
	model := llmtest.NewScript().On("answer.refine", "Cells divide by mitosis.")
	f := newFixture(t, nil, model, Config{})
	ctx := context.Background()

	run := func(kind answer.CommandKind, text string) TurnOutput {
		out, err := f.o.HandleTurn(ctx, TurnInput{SessionID: "s1", UserID: "u1", Command: &answer.Command{Kind: kind, Text: text}})
		require.NoError(t, err, string(kind))
		require.Equal(t, domain.IntentDispatchAnswer, out.Intent)
		require.Equal(t, domain.WorkflowAnswer, out.Active)
		return out
	}

	out := run(answer.CommandStart, "")
	require.Equal(t, answer.StatusRecording, out.Answer.Status)
	require.Equal(t, out.Answer.ID, out.ActiveSubSessionID)
	run(answer.CommandChunk, "cells divide")
	out = run(answer.CommandChunk, "by uh mitosis")
	require.Equal(t, "cells divide by uh mitosis", out.Answer.Transcript)
	require.Len(t, out.SerializedHistory, 1, "chunks are not messages")

	out = run(answer.CommandStop, "")
	require.Equal(t, answer.StatusRefined, out.Answer.Status)
	require.Equal(t, "Cells divide by mitosis.", out.FinalResponseText)
	require.Equal(t, int64(4), out.Seq)

	_, err := f.o.HandleTurn(ctx, TurnInput{SessionID: "s1", UserID: "u1", Command: &answer.Command{Kind: answer.CommandChunk, Text: "late"}})
	require.ErrorIs(t, err, answer.ErrIllegalTransition)
}

func TestAnswerCommandsWaitForRunningQuiz(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, quizModel(), Config{QuizMaxQuestions: 2})
	ctx := context.Background()

	f.turn(t, "s1", "Mitochondria make ATP.")
	out := f.turn(t, "s1", "quiz me")
	require.True(t, out.QuizActive)
	quizID := out.ActiveSubSessionID

	out, err := f.o.HandleTurn(ctx, TurnInput{SessionID: "s1", UserID: "u1", Command: &answer.Command{Kind: answer.CommandStart}})
	require.ErrorIs(t, err, ErrQuizInProgress)
	require.Equal(t, HintQuizInProgress, out.FinalResponseText)
	require.True(t, out.QuizActive)
	require.Equal(t, quizID, out.ActiveSubSessionID)
	require.Nil(t, out.Answer)

	cp, err := f.store.Latest(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, int64(2), cp.Seq, "the rejected command was not checkpointed")

	out = f.turn(t, "s1", "ATP")
	require.Equal(t, domain.IntentDispatchQuiz, out.Intent)
	require.Equal(t, quizID, out.ActiveSubSessionID)
	require.Contains(t, out.FinalResponseText, "Yes.")
	require.Len(t, f.model.CallsFor("chat.reply"), 1, "only the opening turn reached chat")
	require.NotContains(t, f.events.types(), events.QuizCancelled)

	// Once the quiz is over, dictation takes the slot.
	f.turn(t, "s1", "cancel quiz")
	out, err = f.o.HandleTurn(ctx, TurnInput{SessionID: "s1", UserID: "u1", Command: &answer.Command{Kind: answer.CommandStart}})
	require.NoError(t, err)
	require.Equal(t, answer.StatusRecording, out.Answer.Status)
}

type staticProfiles map[string]bool

func (p staticProfiles) GetProfile(_ context.Context, userID string) (domain.Profile, error) {
	a, ok := p[userID]
	if !ok {
		return domain.Profile{}, errors.New("unavailable")
	}
	return domain.Profile{UserID: userID, Accessibility: a}, nil
}

func TestNarrationUsesProfile(t *testing.T) {
	t.Parallel()
	model := llmtest.NewScript().
		On("narration.classify", `{"type": "paragraph", "text": "Cells divide."}`).
		On("narration.detailed_visual", "Visual narration.").
		On("narration.text_focused", "Plain narration.")
	st := store.NewMemory()
	o, err := New(Deps{Model: model, Profiles: staticProfiles{"u1": true}, Repo: st, Checkpoints: st})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.PutDocument(ctx, &domain.Document{ID: "d1", UserID: "u1", Title: "Biology > Cells", Content: "Cells divide."}))

	out, err := o.HandleTurn(ctx, TurnInput{SessionID: "s1", UserID: "u1", Text: "/narrate", DocumentID: "d1"})
	require.NoError(t, err)
	require.Equal(t, domain.IntentDispatchNarration, out.Intent)
	require.Equal(t, domain.WorkflowNarration, out.Active)
	require.Equal(t, "Visual narration.", out.FinalResponseText)
	require.Contains(t, model.CallsFor("narration.detailed_visual")[0].Prompt, "It appears under: Cells")

	// The document stays attached to the session.
	out, err = o.HandleTurn(ctx, TurnInput{SessionID: "s1", UserID: "u1", Text: "read it to me"})
	require.NoError(t, err)
	require.Equal(t, domain.IntentDispatchNarration, out.Intent)
}

func TestConcurrentTurnsAreSerialized(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, llmtest.NewScript().On("chat.reply", "ok"), Config{})
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	seqs := make(chan int64, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.o.HandleTurn(ctx, TurnInput{SessionID: "s1", UserID: "u1", Text: fmt.Sprintf("message %d", i)})
			if err == nil {
				seqs <- out.Seq
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := map[int64]bool{}
	for s := range seqs {
		require.False(t, seen[s], "duplicate seq %d", s)
		seen[s] = true
	}
	require.Len(t, seen, n)

	view, err := f.o.Describe(ctx, "u1", "s1")
	require.NoError(t, err)
	require.Len(t, view.History, 2*n, "no turn overwrote another")
	require.Zero(t, f.o.locks.size())
}
