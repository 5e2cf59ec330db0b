package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/ashureev/tutor-core/internal/graph"
	"github.com/ashureev/tutor-core/internal/llm"
	"github.com/ashureev/tutor-core/internal/prompts"
	"github.com/ashureev/tutor-core/internal/structured"
)

// State keys of the quiz graph.
const (
	KeySession = "quiz"
	KeyInput   = "input"
	KeyReply   = "reply"
)

// Deps are the collaborators of the quiz graph.
type Deps struct {
	Model   llm.Completer
	Prompts *prompts.Catalog
	Logger  *slog.Logger
}

type workflow struct {
	Deps
}

type generated struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

func (g *generated) validate() error {
	if err := structured.Required("question", g.Question, "answer", g.Answer); err != nil {
		return err
	}
	if len(g.Options) < 2 {
		return errors.New("need at least two options")
	}
	if !slices.Contains(g.Options, g.Answer) {
		return errors.New("answer is not one of the options")
	}
	return nil
}

type grade struct {
	Correct  *bool  `json:"correct"`
	Feedback string `json:"feedback"`
}

func (g *grade) validate() error {
	if g.Correct == nil {
		return errors.New(`missing required field "correct"`)
	}
	return nil
}

// NewGraph compiles the quiz graph. A run advances the quiz by one learner
// interaction: it asks the first question, or grades the answer in "input"
// and then asks the next question or summarizes.
func NewGraph(deps Deps) (*graph.Graph, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.Default()
	}
	w := &workflow{Deps: deps}

	schema := graph.Schema{
		KeySession: graph.OfType[Session](),
		KeyInput:   graph.OfType[string](),
		KeyReply:   graph.OfType[string](),
	}
	return graph.New("quiz", schema).
		AddNode("begin", w.begin).
		AddNode("generate", w.generate).
		AddNode("evaluate", w.evaluate).
		AddNode("summarize", w.summarize).
		AddNode("closed", w.closed).
		AddConditionalEdges("begin", route, "generate", "evaluate", "closed").
		AddEdge("generate", graph.End).
		AddConditionalEdges("evaluate", route, "generate", "summarize").
		AddEdge("summarize", graph.End).
		AddEdge("closed", graph.End).
		SetEntry("begin").
		Compile(graph.WithLogger(deps.Logger))
}

func sessionOf(s graph.State) (Session, error) {
	sess, ok := s[KeySession].(Session)
	if !ok {
		return Session{}, fmt.Errorf("quiz: state has no session")
	}
	return sess, nil
}

func route(s graph.State) string {
	sess, err := sessionOf(s)
	if err != nil {
		return "closed"
	}
	switch {
	case sess.Generating():
		return "generate"
	case sess.Status == StatusAwaiting:
		return "evaluate"
	case sess.Status == StatusCompleted && sess.Summary == "":
		return "summarize"
	}
	return "closed"
}

func (w *workflow) begin(_ context.Context, s graph.State) (graph.Update, error) {
	if _, err := sessionOf(s); err != nil {
		return nil, err
	}
	return graph.Update{KeyReply: ""}, nil
}

func (w *workflow) generate(ctx context.Context, s graph.State) (graph.Update, error) {
	sess, _ := sessionOf(s)

	asked := make([]string, 0, len(sess.History))
	for _, q := range sess.History {
		asked = append(asked, q.Prompt)
	}
	prompt, err := w.Prompts.Render("quiz.question", struct {
		Source string
		Asked  []string
	}{Source: sess.SourceSnippet, Asked: asked})
	if err != nil {
		return nil, err
	}
	raw, err := w.Model.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate question: %w", err)
	}
	out, err := structured.Decode(raw, (*generated).validate)
	if err != nil {
		w.Logger.Warn("quiz question unusable", "quiz_id", sess.ID, "kind", structured.KindOf(err), "error", err)
		return nil, fmt.Errorf("generate question: %w", err)
	}

	sess, err = sess.Ask(Question{Prompt: out.Question, Options: out.Options, Answer: out.Answer})
	if err != nil {
		return nil, err
	}
	reply := appendParagraph(stringOf(s, KeyReply), formatQuestion(len(sess.History)+1, sess.MaxQuestions, *sess.Current))
	return graph.Update{KeySession: sess, KeyReply: reply}, nil
}

func (w *workflow) evaluate(ctx context.Context, s graph.State) (graph.Update, error) {
	sess, _ := sessionOf(s)
	sess, err := sess.BeginEvaluation(strings.TrimSpace(stringOf(s, KeyInput)))
	if err != nil {
		return nil, err
	}

	q := sess.Current
	prompt, err := w.Prompts.Render("quiz.evaluate", struct {
		Question string
		Options  []string
		Answer   string
		Input    string
	}{Question: q.Prompt, Options: q.Options, Answer: q.Answer, Input: q.Response})
	if err != nil {
		return nil, err
	}
	raw, err := w.Model.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("evaluate answer: %w", err)
	}
	out, err := structured.Decode(raw, (*grade).validate)
	if err != nil {
		return nil, fmt.Errorf("evaluate answer: %w", err)
	}

	sess, err = sess.Grade(*out.Correct, out.Feedback)
	if err != nil {
		return nil, err
	}
	return graph.Update{KeySession: sess, KeyReply: out.Feedback}, nil
}

func (w *workflow) summarize(ctx context.Context, s graph.State) (graph.Update, error) {
	sess, _ := sessionOf(s)

	lines := make([]string, 0, len(sess.History))
	for i, q := range sess.History {
		mark := "incorrect"
		if q.Correct {
			mark = "correct"
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%s)", i+1, q.Prompt, mark))
	}
	prompt, err := w.Prompts.Render("quiz.summary", struct {
		Score     int
		Total     int
		Questions []string
	}{Score: sess.Score, Total: len(sess.History), Questions: lines})
	if err != nil {
		return nil, err
	}
	summary, err := w.Model.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("summarize quiz: %w", err)
	}
	summary = strings.TrimSpace(summary)
	sess, err = sess.WithSummary(summary)
	if err != nil {
		return nil, err
	}
	reply := appendParagraph(stringOf(s, KeyReply),
		fmt.Sprintf("Quiz complete: %d/%d correct.\n%s", sess.Score, len(sess.History), summary))
	return graph.Update{KeySession: sess, KeyReply: reply}, nil
}

func (w *workflow) closed(_ context.Context, s graph.State) (graph.Update, error) {
	sess, err := sessionOf(s)
	if err != nil {
		return nil, err
	}
	return graph.Update{KeyReply: fmt.Sprintf("This quiz is %s. Say \"start quiz\" to begin a new one.", sess.Status)}, nil
}

func formatQuestion(n, total int, q Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question %d of %d: %s", n, total, q.Prompt)
	for i, opt := range q.Options {
		fmt.Fprintf(&b, "\n%c) %s", 'A'+i, opt)
	}
	return b.String()
}

func appendParagraph(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n\n" + b
}

func stringOf(s graph.State, key string) string {
	v, _ := s[key].(string)
	return v
}
