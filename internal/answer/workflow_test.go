package answer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/tutor-core/internal/events"
	"github.com/ashureev/tutor-core/internal/graph"
	"github.com/ashureev/tutor-core/internal/llm"
	"github.com/ashureev/tutor-core/internal/llm/llmtest"
)

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

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func always() float64 { return 0 }
func never() float64  { return 0.99 }

func TestSamplerRespectsRate(t *testing.T) {
	t.Parallel()

	model := llmtest.NewScript().On("answer.fidelity", `{"score": 0.9}`)
	s := &FidelitySampler{Model: model, Rate: DefaultSampleRate, Rand: never}
	_, ok := s.Check(context.Background(), Sample{Transcript: "a", Refined: "b"})
	require.False(t, ok)
	require.Empty(t, model.Calls())

	s.Rand = func() float64 { return 0.05 }
	score, ok := s.Check(context.Background(), Sample{Transcript: "a", Refined: "b"})
	require.True(t, ok)
	require.InDelta(t, 0.9, score, 1e-9)
	require.Len(t, model.Calls(), 1)
}

func TestSamplerReportsViolations(t *testing.T) {
	t.Parallel()

	pub := &recorder{}
	model := llmtest.NewScript().On("answer.fidelity", "Sure! ```json\n{\"score\": 0.4}\n```")
	s := &FidelitySampler{Model: model, Events: pub, Rate: 1, Threshold: 0.7, Rand: always}

	score, ok := s.Check(context.Background(), Sample{SessionID: "s1", UserID: "u1", AnswerID: "a1", Transcript: "t", Refined: "r"})
	require.True(t, ok)
	require.InDelta(t, 0.4, score, 1e-9)

	got := pub.all()
	require.Len(t, got, 1)
	require.Equal(t, events.AnswerFidelityViolation, got[0].Type)
	require.Equal(t, "s1", got[0].SessionID)
	require.Equal(t, "a1", got[0].Data["answer_id"])
}

func TestSamplerFailuresAreSilent(t *testing.T) {
	t.Parallel()

	for name, model := range map[string]llm.Completer{
		"model error":  llmtest.NewScript().Fail("answer.fidelity", errors.New("boom")),
		"out of range": llmtest.NewScript().On("answer.fidelity", `{"score": 7}`),
		"not json":     llmtest.NewScript().On("answer.fidelity", "about 0.8"),
	} {
		s := &FidelitySampler{Model: model, Rate: 1, Rand: always}
		_, ok := s.Check(context.Background(), Sample{Transcript: "t", Refined: "r"})
		require.False(t, ok, name)
	}
}

type harness struct {
	g     *graph.Graph
	model *llmtest.Script
	pub   *recorder
}

func newHarness(t *testing.T, rate float64) *harness {
	t.Helper()
	h := &harness{
		model: llmtest.NewScript().
			On("answer.refine", "  Plants make sugar from light.  ").
			On("answer.edit", "Plants use light to make sugar.").
			On("answer.fidelity", `{"score": 0.3}`),
		pub: &recorder{},
	}
	g, err := NewGraph(Deps{
		Model:   h.model,
		Sampler: &FidelitySampler{Model: h.model, Events: h.pub, Rate: rate, Rand: always},
		Now:     func() time.Time { return t0 },
	})
	require.NoError(t, err)
	h.g = g
	return h
}

func (h *harness) run(t *testing.T, sess Session, kind CommandKind, text string) (Session, string) {
	t.Helper()
	out, err := h.g.Run(context.Background(), graph.State{
		KeySession:   sess,
		KeyCommand:   Command{Kind: kind, Text: text},
		KeySessionID: "s1",
		KeyUserID:    "u1",
	})
	require.NoError(t, err)
	reply, _ := out[KeyReply].(string)
	return out[KeySession].(Session), reply
}

func TestDictateRefineEditFinalize(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	sess, reply := h.run(t, New("a1"), CommandStart, "")
	require.Equal(t, StatusRecording, sess.Status)
	require.NotEmpty(t, reply)

	sess, _ = h.run(t, sess, CommandChunk, "plants make")
	sess, _ = h.run(t, sess, CommandChunk, "sugar umm from light")
	require.Equal(t, "plants make sugar umm from light", sess.Transcript)

	sess, reply = h.run(t, sess, CommandStop, "")
	require.Equal(t, StatusRefined, sess.Status)
	require.Equal(t, "Plants make sugar from light.", sess.Refined)
	require.Equal(t, sess.Refined, reply)
	require.Nil(t, sess.Fidelity)
	require.Empty(t, h.model.CallsFor("answer.fidelity"))

	refine := h.model.CallsFor("answer.refine")
	require.Len(t, refine, 1)
	require.Equal(t, "plants make sugar umm from light", refine[0].Payload)

	sess, reply = h.run(t, sess, CommandEdit, "reword it")
	require.Equal(t, StatusEditing, sess.Status)
	require.Equal(t, "Plants use light to make sugar.", reply)
	require.Len(t, sess.Edits, 1)
	require.Equal(t, t0, sess.Edits[0].At)

	sess, reply = h.run(t, sess, CommandFinalize, "")
	require.Equal(t, StatusFinalized, sess.Status)
	require.Contains(t, reply, "Plants use light to make sugar.")
}

func TestFidelityViolationNeverBlocksAnswer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1)

	sess, _ := h.run(t, New("a1"), CommandStart, "")
	sess, _ = h.run(t, sess, CommandChunk, "plants make sugar")
	sess, reply := h.run(t, sess, CommandStop, "")

	require.Equal(t, StatusRefined, sess.Status)
	require.Equal(t, "Plants make sugar from light.", reply)
	require.NotNil(t, sess.Fidelity)
	require.InDelta(t, 0.3, *sess.Fidelity, 1e-9)

	got := h.pub.all()
	require.Len(t, got, 1)
	require.Equal(t, "s1", got[0].SessionID)
	require.Equal(t, "u1", got[0].UserID)
}

func TestEmptyTranscriptSkipsModel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1)

	sess, _ := h.run(t, New("a1"), CommandStart, "")
	sess, reply := h.run(t, sess, CommandStop, "")
	require.Equal(t, StatusRefined, sess.Status)
	require.Empty(t, reply)
	require.Empty(t, h.model.Calls())
}

func TestIllegalCommandAbortsRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	for _, kind := range []CommandKind{CommandChunk, CommandStop, CommandEdit, CommandFinalize} {
		_, err := h.g.Run(context.Background(), graph.State{
			KeySession: New("a1"),
			KeyCommand: Command{Kind: kind, Text: "x"},
		})
		var stepErr *graph.StepError
		require.ErrorAs(t, err, &stepErr, string(kind))
		require.Equal(t, "apply", stepErr.Node)
		require.ErrorIs(t, err, ErrIllegalTransition)
	}
	require.Empty(t, h.model.Calls())
}

func TestRefineFailureAborts(t *testing.T) {
	t.Parallel()

	model := llmtest.NewScript().Fail("answer.refine", &llm.ServiceError{Service: "test", Err: context.DeadlineExceeded})
	g, err := NewGraph(Deps{Model: model})
	require.NoError(t, err)

	recording, err := New("a1").Start()
	require.NoError(t, err)
	recording, err = recording.Append("hello")
	require.NoError(t, err)
	_, err = g.Run(context.Background(), graph.State{KeySession: recording, KeyCommand: Command{Kind: CommandStop}})
	require.ErrorIs(t, err, llm.ErrExternalService)
}
