package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/tutor-core/internal/graph"
	"github.com/ashureev/tutor-core/internal/llm"
	"github.com/ashureev/tutor-core/internal/prompts"
)

// State keys of the answer graph.
const (
	KeySession   = "answer"
	KeyCommand   = "answer_command"
	KeyReply     = "reply"
	KeySessionID = "session_id"
	KeyUserID    = "user_id"
)

// Deps are the collaborators of the answer graph.
type Deps struct {
	Model   llm.Completer
	Prompts *prompts.Catalog
	Sampler *FidelitySampler
	Now     func() time.Time
	Logger  *slog.Logger
}

type workflow struct {
	Deps
}

// NewGraph compiles the answer graph. Each run applies one Command to the
// session; a stop refines the transcript and may sample its fidelity.
func NewGraph(deps Deps) (*graph.Graph, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	w := &workflow{Deps: deps}

	schema := graph.Schema{
		KeySession:   graph.OfType[Session](),
		KeyCommand:   graph.OfType[Command](),
		KeyReply:     graph.OfType[string](),
		KeySessionID: graph.OfType[string](),
		KeyUserID:    graph.OfType[string](),
	}
	return graph.New("answer", schema).
		AddNode("apply", w.apply).
		AddNode("refine", w.refine).
		AddNode("sample_fidelity", w.sampleFidelity).
		AddNode("edit", w.edit).
		AddConditionalEdges("apply", routeCommand, "refine", "edit", graph.End).
		AddEdge("refine", "sample_fidelity").
		AddEdge("sample_fidelity", graph.End).
		AddEdge("edit", graph.End).
		SetEntry("apply").
		Compile(graph.WithLogger(deps.Logger))
}

func inputs(s graph.State) (Session, Command, error) {
	sess, ok := s[KeySession].(Session)
	if !ok {
		return Session{}, Command{}, fmt.Errorf("answer: state has no session")
	}
	cmd, ok := s[KeyCommand].(Command)
	if !ok {
		return Session{}, Command{}, fmt.Errorf("answer: state has no command")
	}
	return sess, cmd, nil
}

func routeCommand(s graph.State) string {
	_, cmd, _ := inputs(s)
	switch cmd.Kind {
	case CommandStop:
		return "refine"
	case CommandEdit:
		return "edit"
	}
	return graph.End
}

func (w *workflow) apply(_ context.Context, s graph.State) (graph.Update, error) {
	sess, cmd, err := inputs(s)
	if err != nil {
		return nil, err
	}

	var reply string
	switch cmd.Kind {
	case CommandStart:
		sess, err = sess.Start()
		reply = "Recording. Speak your answer."
	case CommandChunk:
		sess, err = sess.Append(cmd.Text)
	case CommandStop:
		sess, err = sess.Stop()
	case CommandEdit:
		err = sess.require(StatusRefined, StatusEditing)
		if err == nil && strings.TrimSpace(cmd.Text) == "" {
			err = fmt.Errorf("answer: edit needs an instruction")
		}
	case CommandFinalize:
		sess, err = sess.Finalize()
		reply = "Final answer:\n" + sess.Refined
	case CommandReset:
		sess = sess.Reset()
		reply = "Answer cleared."
	default:
		err = fmt.Errorf("answer: unknown command %q", cmd.Kind)
	}
	if err != nil {
		return nil, err
	}
	return graph.Update{KeySession: sess, KeyReply: reply}, nil
}

func (w *workflow) refine(ctx context.Context, s graph.State) (graph.Update, error) {
	sess, _, _ := inputs(s)

	var refined string
	if strings.TrimSpace(sess.Transcript) != "" {
		prompt, err := w.Prompts.Render("answer.refine", struct{ Transcript string }{sess.Transcript})
		if err != nil {
			return nil, err
		}
		out, err := w.Model.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("refine answer: %w", err)
		}
		refined = strings.TrimSpace(out)
	}

	sess, err := sess.WithRefined(refined)
	if err != nil {
		return nil, err
	}
	return graph.Update{KeySession: sess, KeyReply: refined}, nil
}

func (w *workflow) sampleFidelity(ctx context.Context, s graph.State) (graph.Update, error) {
	sess, _, _ := inputs(s)
	if sess.Refined == "" {
		return nil, nil
	}
	sessionID, _ := s[KeySessionID].(string)
	userID, _ := s[KeyUserID].(string)

	score, ok := w.Sampler.Check(ctx, Sample{
		SessionID:  sessionID,
		UserID:     userID,
		AnswerID:   sess.ID,
		Transcript: sess.Transcript,
		Refined:    sess.Refined,
	})
	if !ok {
		return nil, nil
	}
	return graph.Update{KeySession: sess.WithFidelity(score)}, nil
}

func (w *workflow) edit(ctx context.Context, s graph.State) (graph.Update, error) {
	sess, cmd, _ := inputs(s)

	prompt, err := w.Prompts.Render("answer.edit", struct {
		Instruction string
		Answer      string
	}{Instruction: cmd.Text, Answer: sess.Refined})
	if err != nil {
		return nil, err
	}
	out, err := w.Model.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("edit answer: %w", err)
	}
	sess, err = sess.ApplyEdit(cmd.Text, strings.TrimSpace(out), w.Now().UTC())
	if err != nil {
		return nil, err
	}
	return graph.Update{KeySession: sess, KeyReply: sess.Refined}, nil
}
